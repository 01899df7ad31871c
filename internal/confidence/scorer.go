// Package confidence scores decisions from weighted evidence and keeps an
// evidence map per decision for audit.
//
// Scoring is pure and synchronous; the only collaborator is an optional
// belief trace provider that can raise an evidence item's effective
// quality when the item carries a verified trace.
package confidence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	promotel "github.com/wesheets/promethios-sub018/internal/otel"
	"github.com/wesheets/promethios-sub018/internal/verifier"
)

var tracer = promotel.Tracer("github.com/wesheets/promethios-sub018/internal/confidence")

// Errors surfaced by the scorer.
var (
	ErrUnknownAlgorithm = errors.New("Unknown confidence algorithm")
	ErrNoExistingScore  = errors.New("No existing confidence score found")
	ErrUnknownThreshold = errors.New("unknown confidence threshold")
)

// Supported algorithms.
const (
	AlgorithmWeighted = "weighted"
	AlgorithmBayesian = "bayesian"
	AlgorithmAverage  = "average"
)

// EvidenceItem is one piece of evidence for a decision. Zero Weight and
// Quality are treated as absent and defaulted.
type EvidenceItem struct {
	ID       string  `json:"id,omitempty"`
	Weight   float64 `json:"weight,omitempty"`
	Quality  float64 `json:"quality,omitempty"`
	TraceID  string  `json:"trace_id,omitempty"`
	ParentID string  `json:"parent_id,omitempty"`
	Source   string  `json:"source,omitempty"`
}

// Relationship links a child evidence item to its parent.
type Relationship struct {
	ParentID         string `json:"parent_id"`
	ChildID          string `json:"child_id"`
	RelationshipType string `json:"relationship_type"`
}

// EvidenceMap is the accumulated evidence graph for one decision.
// RootEvidence is the flattened list of every item id seen, in arrival
// order; parent links live in Relationships alongside it.
type EvidenceMap struct {
	ID            string                  `json:"id"`
	DecisionID    string                  `json:"decision_id"`
	RootEvidence  []string                `json:"root_evidence"`
	Items         map[string]EvidenceItem `json:"items"`
	Relationships []Relationship          `json:"relationships,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// ConfidenceScore is a computed score for a decision.
type ConfidenceScore struct {
	DecisionID    string    `json:"decision_id"`
	Value         float64   `json:"value"`
	Algorithm     string    `json:"algorithm"`
	EvidenceCount int       `json:"evidence_count"`
	CalculatedAt  time.Time `json:"calculated_at"`
}

// Result pairs a score with the decision's evidence map.
type Result struct {
	Score       ConfidenceScore `json:"confidence_score"`
	EvidenceMap *EvidenceMap    `json:"evidence_map"`
}

// Config tunes the scorer.
type Config struct {
	// DefaultAlgorithm applies when a call passes no algorithm.
	DefaultAlgorithm string

	// Thresholds maps threshold names to minimum score values.
	Thresholds map[string]float64
}

func (c Config) withDefaults() Config {
	if c.DefaultAlgorithm == "" {
		c.DefaultAlgorithm = AlgorithmWeighted
	}
	if c.Thresholds == nil {
		c.Thresholds = map[string]float64{
			"critical":      0.8,
			"standard":      0.6,
			"informational": 0.4,
		}
	}
	return c
}

type decisionState struct {
	score     ConfidenceScore
	evidence  *EvidenceMap
	algorithm string
}

// Scorer computes and tracks confidence scores per decision.
type Scorer struct {
	cfg       Config
	provider  verifier.TraceProvider
	analytics *Analytics

	mu        sync.Mutex
	decisions map[string]*decisionState
	now       func() time.Time
}

// ScorerOption configures the Scorer.
type ScorerOption func(*Scorer)

// WithClock overrides the scorer clock (tests).
func WithClock(now func() time.Time) ScorerOption {
	return func(s *Scorer) { s.now = now }
}

// WithTraceProvider attaches a belief trace provider for trace-backed
// evidence.
func WithTraceProvider(p verifier.TraceProvider) ScorerOption {
	return func(s *Scorer) { s.provider = p }
}

// WithAnalytics attaches an invocation recorder.
func WithAnalytics(a *Analytics) ScorerOption {
	return func(s *Scorer) { s.analytics = a }
}

// NewScorer creates a scorer, applying config defaults.
func NewScorer(cfg Config, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		cfg:       cfg.withDefaults(),
		decisions: make(map[string]*decisionState),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calculate scores a decision from the given evidence, creating or
// replacing its evidence map. An empty algorithm uses the configured
// default.
func (s *Scorer) Calculate(ctx context.Context, decisionID string, items []EvidenceItem, algorithm string) (Result, error) {
	ctx, span := tracer.Start(ctx, "confidence.calculate")
	defer span.End()
	span.SetAttributes(attribute.String("decision.id", decisionID))

	if algorithm == "" {
		algorithm = s.cfg.DefaultAlgorithm
	}
	if !knownAlgorithm(algorithm) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, algorithm)
	}

	prepared := s.prepareItems(ctx, items)
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.decisions[decisionID]
	if !ok {
		state = &decisionState{
			evidence: &EvidenceMap{
				ID:         "em_" + uuid.New().String(),
				DecisionID: decisionID,
				Items:      make(map[string]EvidenceItem),
				CreatedAt:  now,
			},
		}
		s.decisions[decisionID] = state
	}
	mergeEvidence(state.evidence, prepared, now)

	value := score(algorithm, allItems(state.evidence))
	state.algorithm = algorithm
	state.score = ConfidenceScore{
		DecisionID:    decisionID,
		Value:         value,
		Algorithm:     algorithm,
		EvidenceCount: len(state.evidence.Items),
		CalculatedAt:  now,
	}

	s.record(ctx, "calculate", decisionID, algorithm, value, now)
	span.SetAttributes(attribute.Float64("confidence.value", value))
	return Result{Score: state.score, EvidenceMap: state.evidence}, nil
}

// Update merges new evidence into a previously scored decision and
// recomputes with the prior call's algorithm unless overridden.
func (s *Scorer) Update(ctx context.Context, decisionID string, items []EvidenceItem, algorithm string) (Result, error) {
	ctx, span := tracer.Start(ctx, "confidence.update")
	defer span.End()
	span.SetAttributes(attribute.String("decision.id", decisionID))

	s.mu.Lock()
	state, ok := s.decisions[decisionID]
	s.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoExistingScore, decisionID)
	}
	if algorithm == "" {
		algorithm = state.algorithm
	}
	if !knownAlgorithm(algorithm) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, algorithm)
	}

	prepared := s.prepareItems(ctx, items)
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	mergeEvidence(state.evidence, prepared, now)

	value := score(algorithm, allItems(state.evidence))
	state.algorithm = algorithm
	state.score = ConfidenceScore{
		DecisionID:    decisionID,
		Value:         value,
		Algorithm:     algorithm,
		EvidenceCount: len(state.evidence.Items),
		CalculatedAt:  now,
	}

	s.record(ctx, "update", decisionID, algorithm, value, now)
	span.SetAttributes(attribute.Float64("confidence.value", value))
	return Result{Score: state.score, EvidenceMap: state.evidence}, nil
}

// Score returns the current score for a decision, if one exists.
func (s *Scorer) Score(decisionID string) (ConfidenceScore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.decisions[decisionID]
	if !ok {
		return ConfidenceScore{}, false
	}
	return state.score, true
}

// MeetsThreshold compares a score value against a named threshold.
func (s *Scorer) MeetsThreshold(value float64, name string) (bool, error) {
	threshold, ok := s.cfg.Thresholds[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownThreshold, name)
	}
	return value >= threshold, nil
}

// prepareItems defaults missing fields and resolves trace-backed quality.
func (s *Scorer) prepareItems(ctx context.Context, items []EvidenceItem) []EvidenceItem {
	out := make([]EvidenceItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			item.ID = "ev_" + uuid.New().String()
		}
		if item.Weight <= 0 {
			item.Weight = 1.0
		}
		if item.Quality <= 0 {
			item.Quality = 0.5
		}
		if item.TraceID != "" && s.provider != nil {
			if trace, ok := s.provider.GetTrace(ctx, item.TraceID); ok {
				if res := s.provider.VerifyTrace(ctx, trace); res.Verified && res.Confidence > item.Quality {
					item.Quality = res.Confidence
				}
			}
		}
		out = append(out, item)
	}
	return out
}

func (s *Scorer) record(ctx context.Context, op, decisionID, algorithm string, value float64, at time.Time) {
	if s.analytics == nil {
		return
	}
	s.analytics.Record(ctx, Invocation{
		Operation:  op,
		DecisionID: decisionID,
		Algorithm:  algorithm,
		Score:      value,
		Timestamp:  at,
	})
}

// mergeEvidence folds prepared items into the map. Every new item joins
// the flattened root evidence list; items declaring a parent also add a
// supports relationship instead of nesting.
func mergeEvidence(em *EvidenceMap, items []EvidenceItem, now time.Time) {
	for _, item := range items {
		if _, exists := em.Items[item.ID]; !exists {
			em.RootEvidence = append(em.RootEvidence, item.ID)
			if item.ParentID != "" {
				em.Relationships = append(em.Relationships, Relationship{
					ParentID:         item.ParentID,
					ChildID:          item.ID,
					RelationshipType: "supports",
				})
			}
		}
		em.Items[item.ID] = item
	}
	em.UpdatedAt = now
}

func allItems(em *EvidenceMap) []EvidenceItem {
	out := make([]EvidenceItem, 0, len(em.RootEvidence))
	for _, id := range em.RootEvidence {
		if item, ok := em.Items[id]; ok {
			out = append(out, item)
		}
	}
	return out
}

func knownAlgorithm(name string) bool {
	switch name {
	case AlgorithmWeighted, AlgorithmBayesian, AlgorithmAverage:
		return true
	}
	return false
}

func score(algorithm string, items []EvidenceItem) float64 {
	if len(items) == 0 {
		return 0
	}
	switch algorithm {
	case AlgorithmWeighted:
		var num, den float64
		for _, item := range items {
			num += item.Weight * item.Quality
			den += item.Weight
		}
		if den == 0 {
			return 0
		}
		return num / den
	case AlgorithmBayesian:
		return bayesian(items)
	case AlgorithmAverage:
		var sum float64
		for _, item := range items {
			sum += item.Quality
		}
		return sum / float64(len(items))
	}
	return 0
}

// bayesian runs a sequential log-odds update from a neutral prior. Each
// item's quality acts as the evidence signal and its weight as an
// exponent on the likelihood ratio.
func bayesian(items []EvidenceItem) float64 {
	logOdds := 0.0 // prior 0.5
	for _, item := range items {
		q := math.Min(math.Max(item.Quality, 0.01), 0.99)
		logOdds += item.Weight * math.Log(q/(1-q))
	}
	return 1 / (1 + math.Exp(-logOdds))
}
