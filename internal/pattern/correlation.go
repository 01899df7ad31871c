package pattern

import (
	"sort"

	"github.com/wesheets/promethios-sub018/internal/memory"
)

// analyzeCorrelation groups feedback by single context key/value pairs and
// emits one pattern per group whose dominant outcome is confident enough.
func (r *Recognizer) analyzeCorrelation(items []*memory.FeedbackRecord, opts Options) []*memory.Pattern {
	minSupport := r.minSupport(opts)

	// (key, value) → outcome distribution
	type group struct {
		key, value string
		counts     map[string]int
		total      int
	}
	groups := make(map[string]*group)
	for _, rec := range items {
		outcome := outcomeOf(rec)
		for key, value := range rec.Context {
			if key == "domain" {
				continue
			}
			gk := key + "=" + value
			g, ok := groups[gk]
			if !ok {
				g = &group{key: key, value: value, counts: make(map[string]int)}
				groups[gk] = g
			}
			g.counts[outcome]++
			g.total++
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []*memory.Pattern
	for _, gk := range keys {
		g := groups[gk]
		if g.total < minSupport {
			continue
		}
		dominant, confidence := dominantOutcome(g.counts, g.total)
		out = append(out, r.newPattern(
			memory.PatternCorrelation,
			[]memory.PatternElement{{Factor: g.key, Value: g.value}},
			memory.PatternOutcome{Factor: "outcome", Value: dominant},
			confidence,
			g.total,
			opts.Domain,
		))
	}
	return out
}
