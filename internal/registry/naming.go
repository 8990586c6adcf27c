package registry

import (
	"sort"
	"strings"
	"unicode"

	"github.com/thebtf/clusterd/pkg/models"
)

// IntentVerbs are the action verbs recognized in member titles, in priority order.
var IntentVerbs = []string{"implement", "refactor", "fix", "add", "create", "update", "optimize"}

// verbForms maps every recognized inflection to its base verb.
var verbForms = buildVerbForms(IntentVerbs)

func buildVerbForms(verbs []string) map[string]string {
	forms := make(map[string]string)
	for _, v := range verbs {
		stem := strings.TrimSuffix(v, "e")
		for _, f := range []string{v, v + "s", v + "es", v + "ed", v + "ing", stem + "ed", stem + "ing"} {
			if _, taken := forms[f]; !taken {
				forms[f] = v
			}
		}
	}
	return forms
}

// Name derives a cluster label from the two most frequent member keywords.
// Ties are broken alphabetically. Returns models.UnnamedCluster when no
// keyword is available.
func Name(members []*models.SessionMetadata) string {
	counts := make(map[string]int)
	for _, m := range members {
		for k := range m.Keywords {
			if k != "" {
				counts[k]++
			}
		}
	}
	if len(counts) == 0 {
		return models.UnnamedCluster
	}

	ranked := make([]string, 0, len(counts))
	for k := range counts {
		ranked = append(ranked, k)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > 2 {
		ranked = ranked[:2]
	}
	return strings.Join(ranked, "-")
}

// Intent derives the one-line purpose of a cluster. A verb found in at least
// half of the member titles yields "<Verb> <name>", otherwise "Work on <name>".
func Intent(name string, members []*models.SessionMetadata) string {
	if len(members) > 0 {
		counts := make(map[string]int)
		for _, m := range members {
			seen := make(map[string]bool)
			for _, w := range strings.FieldsFunc(strings.ToLower(m.Title), notLetter) {
				if verb, ok := verbForms[w]; ok && !seen[verb] {
					seen[verb] = true
					counts[verb]++
				}
			}
		}

		best, bestCount := "", 0
		for _, v := range IntentVerbs {
			if counts[v] > bestCount {
				best, bestCount = v, counts[v]
			}
		}
		if bestCount > 0 && bestCount*2 >= len(members) {
			return strings.ToUpper(best[:1]) + best[1:] + " " + name
		}
	}
	return "Work on " + name
}

func notLetter(r rune) bool {
	return !unicode.IsLetter(r)
}
