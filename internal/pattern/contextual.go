package pattern

import (
	"sort"
	"strings"

	"github.com/wesheets/promethios-sub018/internal/memory"
)

// analyzeContextual enumerates conjunctions of 2..MaxPatternElements
// context keys whose joint value combinations recur with enough support,
// scored the same way as correlation.
func (r *Recognizer) analyzeContextual(items []*memory.FeedbackRecord, opts Options) []*memory.Pattern {
	minSupport := r.minSupport(opts)

	type group struct {
		elements []memory.PatternElement
		counts   map[string]int
		total    int
	}
	groups := make(map[string]*group)

	for _, rec := range items {
		keys := contextKeys(rec)
		if len(keys) < 2 {
			continue
		}
		outcome := outcomeOf(rec)
		for size := 2; size <= r.cfg.MaxPatternElements && size <= len(keys); size++ {
			for _, combo := range combinations(keys, size) {
				elements := make([]memory.PatternElement, len(combo))
				parts := make([]string, len(combo))
				for i, key := range combo {
					elements[i] = memory.PatternElement{Factor: key, Value: rec.Context[key]}
					parts[i] = key + "=" + rec.Context[key]
				}
				gk := strings.Join(parts, "&")
				g, ok := groups[gk]
				if !ok {
					g = &group{elements: elements, counts: make(map[string]int)}
					groups[gk] = g
				}
				g.counts[outcome]++
				g.total++
			}
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
			memory.PatternContextual,
			g.elements,
			memory.PatternOutcome{Factor: "outcome", Value: dominant},
			confidence,
			g.total,
			opts.Domain,
		))
	}
	return out
}

// contextKeys returns the record's context keys sorted, excluding the
// domain tag which is routing metadata rather than a behavioral factor.
func contextKeys(rec *memory.FeedbackRecord) []string {
	keys := make([]string, 0, len(rec.Context))
	for k := range rec.Context {
		if k == "domain" || k == "decision_id" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// combinations enumerates size-length sorted subsets of keys.
func combinations(keys []string, size int) [][]string {
	if size > len(keys) {
		return nil
	}
	var out [][]string
	combo := make([]string, size)
	var walk func(start, depth int)
	walk = func(start, depth int) {
		if depth == size {
			cp := make([]string, size)
			copy(cp, combo)
			out = append(out, cp)
			return
		}
		for i := start; i <= len(keys)-(size-depth); i++ {
			combo[depth] = keys[i]
			walk(i+1, depth+1)
		}
	}
	walk(0, 0)
	return out
}
