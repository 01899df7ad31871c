package memory

import (
	"context"
	"sort"
	"time"
)

// FeedbackQuery filters GetRecentFeedback. Zero values match everything.
type FeedbackQuery struct {
	SourceType   SourceType
	ContextKey   string
	ContextValue string
	Domain       string
	Since        time.Time
	Limit        int
}

// GetRecentFeedback returns matching feedback sorted by timestamp
// descending, capped at Limit when positive.
func (s *Store) GetRecentFeedback(ctx context.Context, q FeedbackQuery) []*FeedbackRecord {
	s.mu.Lock()
	var out []*FeedbackRecord
	for _, rec := range s.feedback.entities {
		if q.SourceType != "" && rec.Source.Type != q.SourceType {
			continue
		}
		if q.ContextKey != "" {
			v, ok := rec.Context[q.ContextKey]
			if !ok || (q.ContextValue != "" && v != q.ContextValue) {
				continue
			}
		}
		if q.Domain != "" && rec.Domain != q.Domain && rec.Context["domain"] != q.Domain {
			continue
		}
		if !q.Since.IsZero() && rec.Timestamp.Before(q.Since) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return capSlice(out, q.Limit)
}

// PatternQuery filters GetSignificantPatterns.
type PatternQuery struct {
	Type            PatternType
	Domain          string
	MinSignificance float64
	Limit           int
}

// GetSignificantPatterns returns matching patterns sorted by significance
// descending, capped at Limit when positive.
func (s *Store) GetSignificantPatterns(ctx context.Context, q PatternQuery) []*Pattern {
	s.mu.Lock()
	var out []*Pattern
	for _, p := range s.patterns.entities {
		if q.Type != "" && p.Type != q.Type {
			continue
		}
		if q.Domain != "" && p.Domain != q.Domain {
			continue
		}
		if p.Statistics.Significance < q.MinSignificance {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Statistics.Significance > out[j].Statistics.Significance
	})
	return capSlice(out, q.Limit)
}

// AdaptationQuery filters GetPendingAdaptations.
type AdaptationQuery struct {
	Status AdaptationStatus
	Domain string
	Limit  int
}

// GetPendingAdaptations returns matching adaptations sorted by
// justification confidence descending, capped at Limit when positive.
// When Status is empty, pending is assumed.
func (s *Store) GetPendingAdaptations(ctx context.Context, q AdaptationQuery) []*Adaptation {
	status := q.Status
	if status == "" {
		status = StatusPending
	}

	s.mu.Lock()
	var out []*Adaptation
	for _, a := range s.adaptations.entities {
		if a.Status != status {
			continue
		}
		if q.Domain != "" && a.Domain != q.Domain {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Justification.Confidence > out[j].Justification.Confidence
	})
	return capSlice(out, q.Limit)
}

func capSlice[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
