package sources

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/thebtf/clusterd/pkg/models"
)

// ErrUnknownKind is returned when sources.yaml names an unsupported source kind.
var ErrUnknownKind = errors.New("unknown source kind")

// Source kinds accepted in sources.yaml.
const (
	KindMemory     = "memory"
	KindNative     = "native"
	KindCLIHistory = "cli_history"
	KindWorkflow   = "workflow"
)

// Spec describes one configured source.
type Spec struct {
	Enabled *bool  `yaml:"enabled"`
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Path    string `yaml:"path"`
}

// IsEnabled reports whether the source should be queried. Sources are enabled
// unless explicitly turned off.
func (s *Spec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Config is the top-level YAML structure.
type Config struct {
	Sources []Spec `yaml:"sources"`
}

// Registry holds loaded source specs, keyed by name.
type Registry struct {
	byName map[string]*Spec
	order  []string // preserves definition order
}

// Load reads the YAML file at path and returns a Registry.
// If the file does not exist, Load returns an empty Registry (not an error).
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{byName: make(map[string]*Spec)}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	r := &Registry{
		byName: make(map[string]*Spec, len(cfg.Sources)),
	}
	for i := range cfg.Sources {
		spec := &cfg.Sources[i]
		if spec.Name == "" {
			spec.Name = spec.Kind
		}
		if _, dup := r.byName[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate source name %q", spec.Name)
		}
		r.byName[spec.Name] = spec
		r.order = append(r.order, spec.Name)
	}
	return r, nil
}

// Get returns a spec by name. Returns (nil, false) if not found.
func (r *Registry) Get(name string) (*Spec, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// All returns all specs in definition order.
func (r *Registry) All() []*Spec {
	result := make([]*Spec, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.byName[name])
	}
	return result
}

// Names returns a sorted list of source names.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Build instantiates every enabled source in definition order.
func (r *Registry) Build() ([]Source, error) {
	var result []Source
	for _, spec := range r.All() {
		if !spec.IsEnabled() {
			continue
		}
		src, err := New(spec)
		if err != nil {
			return nil, err
		}
		result = append(result, src)
	}
	return result, nil
}

// New creates the source described by spec.
func New(spec *Spec) (Source, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("source %q: path is required", spec.Name)
	}
	switch spec.Kind {
	case KindMemory:
		return NewMemorySource(spec.Name, spec.Path, models.SessionTypeMemory), nil
	case KindNative:
		return NewMemorySource(spec.Name, spec.Path, models.SessionTypeNative), nil
	case KindCLIHistory:
		return NewCLIHistorySource(spec.Name, spec.Path), nil
	case KindWorkflow:
		return NewWorkflowSource(spec.Name, spec.Path), nil
	}
	return nil, fmt.Errorf("source %q: %w: %q", spec.Name, ErrUnknownKind, spec.Kind)
}
