package pattern

import (
	"sort"

	"github.com/wesheets/promethios-sub018/internal/memory"
)

// analyzeCausal pairs action feedback with outcome feedback sharing a
// context decision_id, requiring the action to precede the outcome within
// the causal window. Groups without at least one complete pair are
// discarded.
func (r *Recognizer) analyzeCausal(items []*memory.FeedbackRecord, opts Options) []*memory.Pattern {
	type pair struct {
		action  string
		outcome string
	}

	// decision_id → candidate actions and outcomes
	byDecision := make(map[string][]*memory.FeedbackRecord)
	for _, rec := range items {
		if id := rec.Context["decision_id"]; id != "" {
			byDecision[id] = append(byDecision[id], rec)
		}
	}

	var pairs []pair
	for _, recs := range byDecision {
		var actions, outcomes []*memory.FeedbackRecord
		for _, rec := range recs {
			if name := actionName(rec); name != "" {
				actions = append(actions, rec)
			} else if rec.Source.Type == memory.SourceOutcome {
				outcomes = append(outcomes, rec)
			}
		}
		for _, action := range actions {
			for _, result := range outcomes {
				delta := result.Timestamp.Sub(action.Timestamp)
				if delta <= 0 || delta > r.cfg.CausalWindow {
					continue
				}
				pairs = append(pairs, pair{action: actionName(action), outcome: outcomeOf(result)})
			}
		}
	}
	if len(pairs) == 0 {
		return nil
	}

	// action → outcome distribution across its pairs
	type group struct {
		counts map[string]int
		total  int
	}
	groups := make(map[string]*group)
	for _, p := range pairs {
		g, ok := groups[p.action]
		if !ok {
			g = &group{counts: make(map[string]int)}
			groups[p.action] = g
		}
		g.counts[p.outcome]++
		g.total++
	}

	actions := make([]string, 0, len(groups))
	for a := range groups {
		actions = append(actions, a)
	}
	sort.Strings(actions)

	var out []*memory.Pattern
	for _, action := range actions {
		g := groups[action]
		dominant, confidence := dominantOutcome(g.counts, g.total)
		out = append(out, r.newPattern(
			memory.PatternCausal,
			[]memory.PatternElement{{Factor: "action", Value: action}},
			memory.PatternOutcome{Factor: "outcome", Value: dominant},
			confidence,
			g.total,
			opts.Domain,
		))
	}
	return out
}

// actionName extracts the acting tool/action from a feedback record.
func actionName(rec *memory.FeedbackRecord) string {
	if name, ok := rec.Content["action"].(string); ok {
		return name
	}
	if name, ok := rec.Content["tool"].(string); ok {
		return name
	}
	return ""
}
