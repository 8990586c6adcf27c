package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/clusterd/internal/api"
	"github.com/thebtf/clusterd/internal/config"
	"github.com/thebtf/clusterd/internal/index"
	"github.com/thebtf/clusterd/internal/watcher"
	"github.com/thebtf/clusterd/pkg/models"
)

// errUsage marks a command line the user must correct.
var errUsage = errors.New("usage")

const usageText = `clusterd groups prior work sessions into clusters and renders session indexes.

Usage:
  clusterd <command> [flags]

Commands:
  autocluster        cluster unclustered sessions (-scope, -since, -until, -min-size)
  dedup              merge duplicate clusters and drop stale members
  clusters           print every cluster as JSON
  index              print a progressive index (-type, -session, -prompt)
  import-embeddings  load session embeddings from JSONL (-file, -model)
  serve              run the HTTP API (-port)
  version            print the version
`

// run dispatches one subcommand. Output goes to out; logs go to stderr.
func run(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	name, rest := args[0], args[1:]

	switch name {
	case "version":
		_, err := fmt.Fprintln(out, Version)
		return err
	case "help", "-h", "--help":
		_, err := io.WriteString(out, usageText)
		return err
	}

	var cmd func(context.Context, *app, []string, io.Writer) error
	switch name {
	case "autocluster":
		cmd = cmdAutocluster
	case "dedup":
		cmd = cmdDedup
	case "clusters":
		cmd = cmdClusters
	case "index":
		cmd = cmdIndex
	case "import-embeddings":
		cmd = cmdImportEmbeddings
	case "serve":
		cmd = cmdServe
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return cmd(ctx, a, rest, out)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseTime accepts RFC 3339 or a bare date. Empty means unbounded.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return t.UTC(), nil
}

func cmdAutocluster(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlagSet("autocluster")
	scope := fs.String("scope", string(models.ScopeAll), "all, recent or unclustered")
	since := fs.String("since", "", "only sessions created at or after this time")
	until := fs.String("until", "", "only sessions created at or before this time")
	minSize := fs.Int("min-size", 0, "smallest cluster to keep (default from config)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	sc, err := models.ParseScope(*scope)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	var tr models.TimeRange
	if tr.Start, err = parseTime(*since); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if tr.End, err = parseTime(*until); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	result, err := a.engine.Autocluster(ctx, models.AutoclusterOptions{Scope: sc, TimeRange: tr, MinClusterSize: *minSize})
	if err != nil {
		return err
	}
	return printJSON(out, result)
}

func cmdDedup(ctx context.Context, a *app, args []string, out io.Writer) error {
	if err := parseFlags(newFlagSet("dedup"), args); err != nil {
		return err
	}
	result, err := a.engine.DeduplicateClusters(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, result)
}

func cmdClusters(_ context.Context, a *app, args []string, out io.Writer) error {
	if err := parseFlags(newFlagSet("clusters"), args); err != nil {
		return err
	}
	clusters := a.engine.Clusters()
	if clusters == nil {
		clusters = []*models.Cluster{}
	}
	return printJSON(out, clusters)
}

func cmdIndex(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlagSet("index")
	typ := fs.String("type", string(index.TypeSessionStart), "session-start or context")
	session := fs.String("session", "", "current session id")
	prompt := fs.String("prompt", "", "prompt to score against (context type)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	text, err := a.engine.GetProgressiveIndex(ctx, index.Request{
		Type:      index.Type(*typ),
		SessionID: *session,
		Prompt:    *prompt,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, text)
	return err
}

// embeddingLine is one record of an embeddings JSONL file.
type embeddingLine struct {
	SessionID string           `json:"session_id"`
	Model     string           `json:"model"`
	Vector    models.Embedding `json:"vector"`
}

func cmdImportEmbeddings(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlagSet("import-embeddings")
	file := fs.String("file", "", "JSONL file of {session_id, vector, model}; - for stdin")
	model := fs.String("model", "", "model name for lines that carry none")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("%w: import-embeddings: -file is required", errUsage)
	}

	var r io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	imported, skipped, err := importEmbeddings(ctx, a, r, *model)
	if err != nil {
		return err
	}
	log.Info().Int("imported", imported).Int("skipped", skipped).Msg("Embeddings imported")
	_, err = fmt.Fprintf(out, "imported %d embeddings (%d skipped)\n", imported, skipped)
	return err
}

// importEmbeddings stores every valid line. Malformed lines are skipped;
// store errors abort.
func importEmbeddings(ctx context.Context, a *app, r io.Reader, defaultModel string) (imported, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec embeddingLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.SessionID == "" || len(rec.Vector) == 0 {
			log.Debug().Int("line", lineNo).Msg("Skipping malformed embedding line")
			skipped++
			continue
		}
		if rec.Model == "" {
			rec.Model = defaultModel
		}
		if err := a.embeddings.PutEmbedding(ctx, rec.SessionID, rec.Vector, rec.Model); err != nil {
			return imported, skipped, fmt.Errorf("line %d: %w", lineNo, err)
		}
		imported++
	}
	return imported, skipped, scanner.Err()
}

func cmdServe(ctx context.Context, a *app, args []string, _ io.Writer) error {
	fs := newFlagSet("serve")
	port := fs.Int("port", a.cfg.HTTPPort, "HTTP listen port")
	watch := fs.Bool("watch", true, "re-cluster when a source changes on disk")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              "127.0.0.1:" + strconv.Itoa(*port),
		Handler:           api.NewRouter(a.engine, a.store, a.broadcaster, Version),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	triggers := make(chan string, 1)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("version", Version).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		runTriggered(ctx, a, triggers)
		return nil
	})

	if minutes := a.cfg.ScheduleMinutes; minutes > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(time.Duration(minutes) * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					trigger(triggers, "schedule")
				}
			}
		})
		log.Info().Int("minutes", minutes).Msg("Scheduled autocluster enabled")
	}

	if *watch && len(a.sources) > 0 {
		w, err := watcher.New(a.sourcePaths(), func() { trigger(triggers, "watch") })
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create source watcher")
		} else if err := w.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start source watcher")
		} else {
			defer w.Stop()
			log.Info().Int("sources", len(a.sources)).Msg("Source watcher started")
		}
	}

	// Settings changes take effect on restart, as with the other commands.
	settingsPath := config.SettingsPath()
	if sw, err := watcher.New([]string{settingsPath}, func() {
		log.Warn().Str("path", settingsPath).Msg("Settings changed, shutting down for restart")
		cancel()
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to create settings watcher")
	} else if err := sw.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start settings watcher")
	} else {
		defer sw.Stop()
	}

	return g.Wait()
}

// trigger requests a background run without blocking. A pending request
// absorbs new ones.
func trigger(ch chan<- string, reason string) {
	select {
	case ch <- reason:
	default:
	}
}

// runTriggered performs one unclustered-scope autocluster per trigger.
func runTriggered(ctx context.Context, a *app, triggers <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-triggers:
			result, err := a.engine.Autocluster(ctx, models.AutoclusterOptions{Scope: models.ScopeUnclustered})
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Str("trigger", reason).Msg("Background autocluster failed")
				}
				continue
			}
			log.Info().
				Str("trigger", reason).
				Int("created", result.ClustersCreated).
				Int("merged", result.ClustersMerged).
				Msg("Background autocluster complete")
		}
	}
}
