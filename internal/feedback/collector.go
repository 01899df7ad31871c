// Package feedback normalizes heterogeneous raw feedback into canonical
// records for the learning memory.
//
// The collector validates required fields, promotes source shorthand,
// looks up source reliability, merges caller context, dispatches to a
// source-specific handler, and finally applies a probabilistic sampling
// gate. Malformed records fail loudly even under aggressive sampling
// because the gate runs after validation and normalization.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"github.com/wesheets/promethios-sub018/internal/memory"
)

// Recognized constitutional observers. Observer feedback from these ids is
// tagged as constitutional verification input.
const (
	ObserverPrism = "prism"
	ObserverVigil = "vigil"
)

// DefaultReliability is used when a source type has no entry in the
// reliability table.
const DefaultReliability = 0.5

// Config tunes the collector.
type Config struct {
	// RequiredFields must be present on every submission. Default:
	// source, content.
	RequiredFields []string

	// SourceReliability maps source type to a [0,1] reliability weight.
	SourceReliability map[string]float64

	// SamplingRate is the percentage (0-100) of validated records kept.
	// Nil means unset and keeps everything; an explicit 0 discards every
	// record.
	SamplingRate *float64

	// ConstitutionalObservers lists observer ids whose feedback is tagged
	// as constitutional verification. Default: prism, vigil.
	ConstitutionalObservers []string
}

func (c Config) withDefaults() Config {
	if len(c.RequiredFields) == 0 {
		c.RequiredFields = []string{"source", "content"}
	}
	if c.SourceReliability == nil {
		c.SourceReliability = map[string]float64{
			string(memory.SourceUser):     0.8,
			string(memory.SourceSystem):   0.9,
			string(memory.SourceObserver): 0.95,
			string(memory.SourceOutcome):  1.0,
		}
	}
	if c.SamplingRate == nil {
		keepAll := 100.0
		c.SamplingRate = &keepAll
	}
	if len(c.ConstitutionalObservers) == 0 {
		c.ConstitutionalObservers = []string{ObserverPrism, ObserverVigil}
	}
	return c
}

// SourceSpec is the explicit form of a submission source. String
// shorthand in a submission is promoted to SourceSpec{Type: s}.
type SourceSpec struct {
	Type        string   `json:"type"`
	ID          string   `json:"id,omitempty"`
	Reliability *float64 `json:"reliability,omitempty"`
}

// Submission is raw, loosely-typed feedback handed to the collector.
type Submission struct {
	Source  any               `json:"source"` // string shorthand or SourceSpec
	Content map[string]any    `json:"content"`
	Context map[string]string `json:"context,omitempty"`
}

// Collector turns submissions into canonical FeedbackRecords.
type Collector struct {
	cfg       Config
	sentiment SentimentScorer
	sanitizer *bluemonday.Policy
	rng       func() float64
	now       func() time.Time
}

// Option configures the Collector.
type Option func(*Collector)

// WithSentimentScorer replaces the default lexicon scorer.
func WithSentimentScorer(s SentimentScorer) Option {
	return func(c *Collector) { c.sentiment = s }
}

// WithRand overrides the sampling draw (tests).
func WithRand(rng func() float64) Option {
	return func(c *Collector) { c.rng = rng }
}

// WithClock overrides the timestamp clock (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates a collector with the given config, applying
// defaults for unset fields.
func NewCollector(cfg Config, opts ...Option) *Collector {
	c := &Collector{
		cfg:       cfg.withDefaults(),
		sentiment: LexiconSentiment,
		sanitizer: bluemonday.StrictPolicy(),
		rng:       rand.Float64,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process validates and normalizes a submission into a FeedbackRecord.
// Returns (nil, nil) when the sampling gate discards the record. The gate
// runs after validation so malformed submissions always fail.
func (c *Collector) Process(ctx context.Context, sub Submission, additionalContext map[string]string) (*memory.FeedbackRecord, error) {
	if err := c.validate(sub); err != nil {
		return nil, err
	}

	source, err := c.normalizeSource(sub.Source)
	if err != nil {
		return nil, err
	}

	mergedContext := mergeContext(sub.Context, additionalContext)
	content := c.sanitizeContent(sub.Content)

	rec := &memory.FeedbackRecord{
		ID:        "fb_" + uuid.New().String(),
		Timestamp: c.now().UTC(),
		Source:    source,
		Content:   content,
		Context:   mergedContext,
		Metadata:  map[string]any{},
		Domain:    mergedContext["domain"],
	}

	switch source.Type {
	case memory.SourceUser:
		c.handleUser(rec)
	case memory.SourceSystem:
		c.handleSystem(rec)
	case memory.SourceObserver:
		c.handleObserver(rec)
	case memory.SourceOutcome:
		c.handleOutcome(rec)
	default:
		// Unknown source types arrive only from outside; keep the record
		// but derive nothing.
		log.Debug().Str("source_type", string(source.Type)).Msg("no handler for source type")
	}

	// Sampling gate last: validation and normalization already ran, so
	// malformed records failed loudly above regardless of the rate.
	if rate := *c.cfg.SamplingRate; rate < 100 && c.rng()*100 >= rate {
		log.Debug().Str("feedback_id", rec.ID).Msg("feedback discarded by sampling gate")
		return nil, nil
	}

	return rec, nil
}

func (c *Collector) validate(sub Submission) error {
	for _, field := range c.cfg.RequiredFields {
		var present bool
		switch field {
		case "source":
			present = sub.Source != nil && sub.Source != ""
		case "content":
			present = len(sub.Content) > 0
		case "context":
			present = len(sub.Context) > 0
		default:
			_, present = sub.Content[field]
		}
		if !present {
			return fmt.Errorf("missing required field %q: %w", field, ErrValidation)
		}
	}
	return nil
}

// normalizeSource promotes string shorthand, fills reliability from the
// configured table, and generates an id when absent.
func (c *Collector) normalizeSource(raw any) (memory.FeedbackSource, error) {
	var spec SourceSpec
	switch v := raw.(type) {
	case string:
		spec = SourceSpec{Type: v}
	case SourceSpec:
		spec = v
	case *SourceSpec:
		spec = *v
	case map[string]any:
		if t, ok := v["type"].(string); ok {
			spec.Type = t
		}
		if id, ok := v["id"].(string); ok {
			spec.ID = id
		}
		if r, ok := toFloat(v["reliability"]); ok {
			spec.Reliability = &r
		}
	default:
		return memory.FeedbackSource{}, fmt.Errorf("unsupported source shape %T: %w", raw, ErrValidation)
	}

	if spec.Type == "" {
		return memory.FeedbackSource{}, fmt.Errorf("source requires a type: %w", ErrValidation)
	}

	reliability := DefaultReliability
	if r, ok := c.cfg.SourceReliability[spec.Type]; ok {
		reliability = r
	}
	if spec.Reliability != nil {
		reliability = clamp01(*spec.Reliability)
	}

	id := spec.ID
	if id == "" {
		id = "src_" + uuid.New().String()
	}

	return memory.FeedbackSource{
		Type:        memory.SourceType(spec.Type),
		ID:          id,
		Reliability: reliability,
	}, nil
}

// sanitizeContent strips markup from free-text values before they reach
// the store. Defense-in-depth for text that may be echoed to dashboards.
func (c *Collector) sanitizeContent(content map[string]any) map[string]any {
	out := make(map[string]any, len(content))
	for k, v := range content {
		if text, ok := v.(string); ok {
			out[k] = c.sanitizer.Sanitize(text)
			continue
		}
		out[k] = v
	}
	return out
}

func (c *Collector) handleUser(rec *memory.FeedbackRecord) {
	rating, hasRating := toFloat(rec.Content["rating"])
	text, hasText := rec.Content["text"].(string)

	switch {
	case hasRating:
		// Explicit 1-5 rating normalized to [0,1].
		rec.Metadata["feedback_type"] = "rating"
		rec.Metadata["normalized_rating"] = clamp01((rating - 1) / 4)
	case hasText && text != "":
		rec.Metadata["feedback_type"] = "text"
		rec.Metadata["sentiment"] = c.sentiment(text)
	default:
		log.Warn().Str("feedback_id", rec.ID).Msg("user feedback carries neither rating nor text")
	}
}

func (c *Collector) handleSystem(rec *memory.FeedbackRecord) {
	rec.Metadata["component"] = rec.Source.ID
	if metrics, ok := rec.Content["metrics"].(map[string]any); ok {
		rec.Metadata["metrics"] = metrics
	} else {
		rec.Metadata["metrics"] = map[string]any{}
	}
}

func (c *Collector) handleObserver(rec *memory.FeedbackRecord) {
	for _, id := range c.cfg.ConstitutionalObservers {
		if rec.Source.ID == id {
			rec.Metadata["constitutional_verification"] = true
			rec.Metadata["verification_type"] = id
			return
		}
	}
	// Unrecognized observers carry no verification metadata.
}

func (c *Collector) handleOutcome(rec *memory.FeedbackRecord) {
	success, hasSuccess := rec.Content["success"].(bool)
	status, hasStatus := rec.Content["status"].(string)

	switch {
	case hasSuccess:
		// keep explicit value
	case hasStatus:
		success = status == "completed"
	default:
		log.Warn().Str("feedback_id", rec.ID).Msg("outcome feedback carries no outcome data; defaulting to failure")
		success = false
	}
	rec.Metadata["success"] = success

	if metrics, ok := rec.Content["metrics"].(map[string]any); ok && len(metrics) > 0 {
		rec.Metadata["quality_score"] = outcomeQuality(success, metrics)
	}
}

// outcomeQuality combines success (base weight 0.7) with the mean of the
// metric values (each clamped to [0,1] before combination), bounded [0,1].
func outcomeQuality(success bool, metrics map[string]any) float64 {
	base := 0.0
	if success {
		base = 0.7
	}

	var sum float64
	var n int
	for _, v := range metrics {
		if f, ok := toFloat(v); ok {
			sum += clamp01(f)
			n++
		}
	}
	if n > 0 {
		base += 0.3 * (sum / float64(n))
	}
	return clamp01(base)
}

func mergeContext(base, additional map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(additional))
	for k, v := range base {
		merged[k] = v
	}
	// additionalContext wins on key collision.
	for k, v := range additional {
		merged[k] = v
	}
	return merged
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
