// Package pattern mines behavioral patterns from stored feedback.
//
// Four analyzers (correlation, causal, temporal, contextual) run
// independently over the same feedback slice. Each is fault-isolated: an
// analyzer failing or panicking is logged and excluded from the result
// rather than aborting the call. Merged output is deduplicated by
// (type, elements, outcome) keeping the higher significance, then filtered
// to the significance threshold.
package pattern

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wesheets/promethios-sub018/internal/feedback"
	"github.com/wesheets/promethios-sub018/internal/memory"
	promotel "github.com/wesheets/promethios-sub018/internal/otel"
)

var tracer = promotel.Tracer("github.com/wesheets/promethios-sub018/internal/pattern")

// Config tunes the recognizer.
type Config struct {
	// MinSupport is the minimum group size for a pattern to be considered.
	MinSupport int

	// SignificanceThreshold filters the merged result. Every surfaced
	// pattern satisfies significance >= threshold.
	SignificanceThreshold float64

	// MaxPatternElements caps conjunction size for contextual patterns.
	MaxPatternElements int

	// CausalWindow bounds the action→outcome pairing time distance.
	CausalWindow time.Duration

	// TemporalBuckets is the number of discrete time windows the temporal
	// analyzer splits the feedback span into. At least 3.
	TemporalBuckets int

	// Analyzers selects which analyzers run. Empty means all four.
	Analyzers []memory.PatternType
}

func (c Config) withDefaults() Config {
	if c.MinSupport <= 0 {
		c.MinSupport = 3
	}
	if c.SignificanceThreshold <= 0 {
		c.SignificanceThreshold = 0.7
	}
	if c.MaxPatternElements <= 0 {
		c.MaxPatternElements = 3
	}
	if c.CausalWindow <= 0 {
		c.CausalWindow = 30 * time.Minute
	}
	if c.TemporalBuckets < 3 {
		c.TemporalBuckets = 4
	}
	if len(c.Analyzers) == 0 {
		c.Analyzers = []memory.PatternType{
			memory.PatternCorrelation,
			memory.PatternCausal,
			memory.PatternTemporal,
			memory.PatternContextual,
		}
	}
	return c
}

// Options carries per-call parameters.
type Options struct {
	// Exploration widens analyzer thresholds so weaker candidates surface.
	Exploration bool

	// Domain tags emitted patterns.
	Domain string
}

// Recognizer runs the configured analyzers over feedback.
type Recognizer struct {
	cfg Config
	now func() time.Time
}

// Option configures the Recognizer.
type Option func(*Recognizer)

// WithClock overrides the discovery timestamp clock (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Recognizer) { r.now = now }
}

// NewRecognizer creates a recognizer, applying config defaults.
func NewRecognizer(cfg Config, opts ...Option) *Recognizer {
	r := &Recognizer{cfg: cfg.withDefaults(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type analyzerFunc func(items []*memory.FeedbackRecord, opts Options) []*memory.Pattern

// Recognize mines patterns from the feedback slice. Analyzer failures
// degrade recall; they never abort the call.
func (r *Recognizer) Recognize(ctx context.Context, items []*memory.FeedbackRecord, opts Options) []*memory.Pattern {
	ctx, span := tracer.Start(ctx, "pattern.recognize")
	defer span.End()

	analyzers := map[memory.PatternType]analyzerFunc{
		memory.PatternCorrelation: r.analyzeCorrelation,
		memory.PatternCausal:      r.analyzeCausal,
		memory.PatternTemporal:    r.analyzeTemporal,
		memory.PatternContextual:  r.analyzeContextual,
	}

	var merged []*memory.Pattern
	for _, kind := range r.cfg.Analyzers {
		analyze, ok := analyzers[kind]
		if !ok {
			log.Warn().Str("analyzer", string(kind)).Msg("unknown analyzer configured")
			continue
		}
		found, err := runIsolated(kind, func() []*memory.Pattern { return analyze(items, opts) })
		if err != nil {
			log.Error().Err(err).Str("analyzer", string(kind)).Msg("analyzer failed")
			continue
		}
		merged = append(merged, found...)
	}

	deduped := DeduplicatePatterns(merged)

	threshold := r.significanceThreshold(opts)
	out := deduped[:0]
	for _, p := range deduped {
		if p.Statistics.Significance >= threshold {
			out = append(out, p)
		}
	}

	span.SetAttributes(
		attribute.Int("pattern.candidates", len(merged)),
		attribute.Int("pattern.surfaced", len(out)),
	)
	return out
}

// runIsolated converts analyzer panics into errors so one failing unit
// cannot abort the cycle.
func runIsolated(kind memory.PatternType, analyze func() []*memory.Pattern) (out []*memory.Pattern, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("%s analyzer panicked: %v", kind, rec)
		}
	}()
	return analyze(), nil
}

// DeduplicatePatterns collapses patterns identical in (type, elements,
// outcome), keeping the higher significance.
func DeduplicatePatterns(patterns []*memory.Pattern) []*memory.Pattern {
	seen := make(map[string]*memory.Pattern, len(patterns))
	order := make([]string, 0, len(patterns))
	for _, p := range patterns {
		key := dedupKey(p)
		if existing, ok := seen[key]; ok {
			if p.Statistics.Significance > existing.Statistics.Significance {
				seen[key] = p
			}
			continue
		}
		seen[key] = p
		order = append(order, key)
	}

	out := make([]*memory.Pattern, 0, len(seen))
	for _, key := range order {
		out = append(out, seen[key])
	}
	return out
}

func dedupKey(p *memory.Pattern) string {
	var b strings.Builder
	b.WriteString(string(p.Type))
	for _, e := range p.Elements {
		b.WriteString("|")
		b.WriteString(e.Factor)
		b.WriteString("=")
		b.WriteString(e.Value)
	}
	b.WriteString(">")
	b.WriteString(p.Outcome.Factor)
	b.WriteString("=")
	b.WriteString(p.Outcome.Value)
	return b.String()
}

// significance is a saturating combination of confidence and support:
// confidence scaled up by support relative to the support threshold,
// capped at 1.0.
func (r *Recognizer) significance(confidence float64, support int) float64 {
	scaled := confidence * float64(support) / float64(r.cfg.MinSupport)
	if scaled > 1 {
		return 1
	}
	return scaled
}

// minSupport returns the per-call support floor; exploration mode widens
// the net by dropping it one step (never below 2).
func (r *Recognizer) minSupport(opts Options) int {
	if opts.Exploration && r.cfg.MinSupport > 2 {
		return r.cfg.MinSupport - 1
	}
	return r.cfg.MinSupport
}

func (r *Recognizer) significanceThreshold(opts Options) float64 {
	if opts.Exploration {
		return r.cfg.SignificanceThreshold * 0.8
	}
	return r.cfg.SignificanceThreshold
}

func (r *Recognizer) newPattern(kind memory.PatternType, elements []memory.PatternElement, outcome memory.PatternOutcome, confidence float64, support int, domain string) *memory.Pattern {
	return &memory.Pattern{
		ID:       "pat_" + uuid.New().String(),
		Type:     kind,
		Elements: elements,
		Outcome:  outcome,
		Statistics: memory.PatternStats{
			Confidence:   confidence,
			Significance: r.significance(confidence, support),
			Support:      support,
		},
		DiscoveredAt: r.now().UTC(),
		Domain:       domain,
	}
}

// Outcome classes inferred per feedback record.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeNeutral = "neutral"
)

// outcomeOf infers the outcome class of a feedback record: an explicit
// success boolean wins, then rating thresholds (>=4 success, <=2 failure),
// then sentiment polarity. Everything else is neutral.
func outcomeOf(rec *memory.FeedbackRecord) string {
	if success, ok := successOf(rec); ok {
		if success {
			return outcomeSuccess
		}
		return outcomeFailure
	}

	if rating, ok := ratingOf(rec); ok {
		switch {
		case rating >= 4:
			return outcomeSuccess
		case rating <= 2:
			return outcomeFailure
		default:
			return outcomeNeutral
		}
	}

	if score, ok := sentimentScoreOf(rec); ok {
		switch {
		case score > 0:
			return outcomeSuccess
		case score < 0:
			return outcomeFailure
		}
	}
	return outcomeNeutral
}

func successOf(rec *memory.FeedbackRecord) (bool, bool) {
	if success, ok := rec.Content["success"].(bool); ok {
		return success, true
	}
	if success, ok := rec.Metadata["success"].(bool); ok {
		return success, true
	}
	return false, false
}

func ratingOf(rec *memory.FeedbackRecord) (float64, bool) {
	switch v := rec.Content["rating"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func sentimentScoreOf(rec *memory.FeedbackRecord) (float64, bool) {
	switch s := rec.Metadata["sentiment"].(type) {
	case feedback.Sentiment:
		return s.Score, true
	case map[string]any:
		// Deserialized form after a snapshot reload.
		if score, ok := s["score"].(float64); ok {
			return score, true
		}
	}
	return 0, false
}

// dominantOutcome returns the most frequent outcome class and its share.
func dominantOutcome(counts map[string]int, total int) (string, float64) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic tie-break

	best, bestCount := outcomeNeutral, -1
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	if total == 0 {
		return best, 0
	}
	return best, float64(bestCount) / float64(total)
}
