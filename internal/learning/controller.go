// Package learning drives the adaptive loop: collect feedback, mine
// patterns, generate and apply gated adaptations, and tune its own
// exploration and learning rate from the performance trend.
//
// One cycle runs at a time. A cycle is best-effort and fail-forward:
// an error mid-cycle yields an error result but nothing is rolled back,
// partial results up to the failure stay stored.
package learning

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wesheets/promethios-sub018/internal/adaptation"
	"github.com/wesheets/promethios-sub018/internal/memory"
	promotel "github.com/wesheets/promethios-sub018/internal/otel"
	"github.com/wesheets/promethios-sub018/internal/pattern"
)

var tracer = promotel.Tracer("github.com/wesheets/promethios-sub018/internal/learning")

// Cycle statuses.
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusError     = "error"
)

// ReasonInsufficientFeedback marks a skipped cycle.
const ReasonInsufficientFeedback = "insufficient_feedback"

// Memory is the slice of the learning store the controller needs.
type Memory interface {
	GetRecentFeedback(ctx context.Context, q memory.FeedbackQuery) []*memory.FeedbackRecord
	StorePattern(ctx context.Context, p *memory.Pattern) error
	StoreAdaptation(ctx context.Context, a *memory.Adaptation) error
	GetAdaptation(ctx context.Context, id string) (*memory.Adaptation, error)
	RecordCycleMetrics(ctx context.Context, m memory.CycleMetrics)
}

// Recognizer mines patterns from feedback.
type Recognizer interface {
	Recognize(ctx context.Context, items []*memory.FeedbackRecord, opts pattern.Options) []*memory.Pattern
}

// Engine generates and applies adaptations.
type Engine interface {
	Generate(ctx context.Context, patterns []*memory.Pattern, opts adaptation.Options) []*memory.Adaptation
	Apply(ctx context.Context, a *memory.Adaptation) adaptation.ApplyResult
}

// Config tunes the controller.
type Config struct {
	// MinFeedbackThreshold skips the cycle below this feedback count.
	MinFeedbackThreshold int

	// FeedbackWindow bounds how far back feedback collection reaches.
	FeedbackWindow time.Duration

	// FeedbackLimit caps collected feedback per cycle.
	FeedbackLimit int

	// MaxConcurrentAdaptations skips application entirely when the
	// active set is already this large.
	MaxConcurrentAdaptations int

	// AdaptationBatchSize caps applications per cycle.
	AdaptationBatchSize int

	// InitialLearningRate seeds the adaptive learning rate.
	InitialLearningRate float64

	// LearningRateMin and LearningRateMax bound rate adjustment.
	LearningRateMin float64
	LearningRateMax float64

	// ExplorationBoost multiplies rate adjustments while exploring.
	ExplorationBoost float64

	// Domain tags everything the cycle produces.
	Domain string
}

func (c Config) withDefaults() Config {
	if c.MinFeedbackThreshold <= 0 {
		c.MinFeedbackThreshold = 10
	}
	if c.FeedbackWindow <= 0 {
		c.FeedbackWindow = 24 * time.Hour
	}
	if c.FeedbackLimit <= 0 {
		c.FeedbackLimit = 200
	}
	if c.MaxConcurrentAdaptations <= 0 {
		c.MaxConcurrentAdaptations = 3
	}
	if c.AdaptationBatchSize <= 0 {
		c.AdaptationBatchSize = 2
	}
	if c.InitialLearningRate <= 0 {
		c.InitialLearningRate = 0.1
	}
	if c.LearningRateMin <= 0 {
		c.LearningRateMin = 0.01
	}
	if c.LearningRateMax <= 0 {
		c.LearningRateMax = 0.5
	}
	if c.ExplorationBoost <= 0 {
		c.ExplorationBoost = 1.2
	}
	return c
}

// CycleResult summarizes one learning cycle.
type CycleResult struct {
	Status               string    `json:"status"`
	Reason               string    `json:"reason,omitempty"`
	Error                string    `json:"error,omitempty"`
	CycleNumber          int       `json:"cycle_number"`
	FeedbackProcessed    int       `json:"feedback_processed"`
	PatternsRecognized   int       `json:"patterns_recognized"`
	AdaptationsGenerated int       `json:"adaptations_generated"`
	AdaptationsApplied   int       `json:"adaptations_applied"`
	ActiveAdaptations    int       `json:"active_adaptations"`
	StartTime            time.Time `json:"start_time"`
	EndTime              time.Time `json:"end_time"`
	DurationMS           int64     `json:"duration_ms"`
}

// Controller owns the learning state and runs cycles.
type Controller struct {
	cfg        Config
	store      Memory
	recognizer Recognizer
	engine     Engine
	state      *State
	now        func() time.Time
	rng        func() float64

	cycleMu chan struct{} // size-1 semaphore, serializes cycles
}

// ControllerOption configures the Controller.
type ControllerOption func(*Controller)

// WithClock overrides the controller clock (tests).
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithRand overrides the exploration tie-break source (tests).
func WithRand(rng func() float64) ControllerOption {
	return func(c *Controller) { c.rng = rng }
}

// NewController wires the loop together.
func NewController(cfg Config, store Memory, recognizer Recognizer, engine Engine, opts ...ControllerOption) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:        cfg,
		store:      store,
		recognizer: recognizer,
		engine:     engine,
		state:      newState(cfg.InitialLearningRate),
		now:        time.Now,
		rng:        rand.Float64,
		cycleMu:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a reporting snapshot of the learning state.
func (c *Controller) State() StateSnapshot {
	return c.state.Snapshot()
}

// SetExploration forces the exploration flag. The trend-driven setting
// takes over again when the next completed cycle finalizes.
func (c *Controller) SetExploration(on bool) {
	c.state.mu.Lock()
	c.state.explorationMode = on
	c.state.mu.Unlock()
}

// RunCycle executes one full learning cycle. Concurrent callers
// serialize; there is no overlap.
func (c *Controller) RunCycle(ctx context.Context) CycleResult {
	c.cycleMu <- struct{}{}
	defer func() { <-c.cycleMu }()

	ctx, span := tracer.Start(ctx, "learning.cycle")
	defer span.End()

	start := c.now().UTC()
	result := CycleResult{
		CycleNumber: c.state.Snapshot().Cycle + 1,
		StartTime:   start,
	}

	err := c.runSteps(ctx, &result)
	if err != nil {
		result.Status = StatusError
		result.Error = err.Error()
		log.Error().Err(err).Int("cycle", result.CycleNumber).Msg("learning cycle failed")
	}

	if result.Status == StatusSkipped {
		result.EndTime = c.now().UTC()
		result.DurationMS = result.EndTime.Sub(start).Milliseconds()
		cyclesTotal.Add(ctx, 1, withStatus(result.Status))
		span.SetAttributes(attribute.String("cycle.status", result.Status))
		return result
	}

	if result.Status == "" {
		result.Status = StatusCompleted
	}
	c.finalize(ctx, &result, start)

	cyclesTotal.Add(ctx, 1, withStatus(result.Status))
	span.SetAttributes(
		attribute.String("cycle.status", result.Status),
		attribute.Int("cycle.number", result.CycleNumber),
		attribute.Int("cycle.adaptations_applied", result.AdaptationsApplied),
	)
	return result
}

// runSteps executes collection through application. Panics become
// errors; a returned error marks the cycle as errored without rollback.
func (c *Controller) runSteps(ctx context.Context, result *CycleResult) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("cycle panicked: %v", rec)
		}
	}()

	// 1. Collect.
	items := c.store.GetRecentFeedback(ctx, memory.FeedbackQuery{
		Since:  c.now().UTC().Add(-c.cfg.FeedbackWindow),
		Domain: c.cfg.Domain,
		Limit:  c.cfg.FeedbackLimit,
	})
	result.FeedbackProcessed = len(items)
	if len(items) < c.cfg.MinFeedbackThreshold {
		result.Status = StatusSkipped
		result.Reason = ReasonInsufficientFeedback
		log.Info().Int("feedback", len(items)).Int("threshold", c.cfg.MinFeedbackThreshold).
			Msg("cycle skipped, not enough feedback")
		return nil
	}

	exploration := c.state.Snapshot().ExplorationMode

	// 2. Recognize and store patterns.
	patterns := c.recognizer.Recognize(ctx, items, pattern.Options{
		Exploration: exploration,
		Domain:      c.cfg.Domain,
	})
	for _, p := range patterns {
		if storeErr := c.store.StorePattern(ctx, p); storeErr != nil {
			return fmt.Errorf("storing pattern %s: %w", p.ID, storeErr)
		}
	}
	result.PatternsRecognized = len(patterns)

	// 3. Generate and store adaptations as pending.
	candidates := c.engine.Generate(ctx, patterns, adaptation.Options{
		Exploration: exploration,
		Domain:      c.cfg.Domain,
	})
	for _, a := range candidates {
		if storeErr := c.store.StoreAdaptation(ctx, a); storeErr != nil {
			return fmt.Errorf("storing adaptation %s: %w", a.ID, storeErr)
		}
	}
	result.AdaptationsGenerated = len(candidates)

	// 4. Apply.
	result.AdaptationsApplied = c.applyBatch(ctx, candidates)
	return nil
}

// applyBatch applies up to AdaptationBatchSize candidates, highest
// confidence first. A full active set skips application entirely.
// Failed applications consume their attempt but never join the active
// set.
func (c *Controller) applyBatch(ctx context.Context, candidates []*memory.Adaptation) int {
	c.state.mu.Lock()
	activeCount := len(c.state.activeAdaptations)
	c.state.mu.Unlock()
	if activeCount >= c.cfg.MaxConcurrentAdaptations {
		log.Warn().Int("active", activeCount).Int("max", c.cfg.MaxConcurrentAdaptations).
			Msg("active adaptation limit reached, applying none")
		return 0
	}

	sorted := make([]*memory.Adaptation, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Justification.Confidence > sorted[j].Justification.Confidence
	})
	if len(sorted) > c.cfg.AdaptationBatchSize {
		sorted = sorted[:c.cfg.AdaptationBatchSize]
	}

	applied := 0
	for _, a := range sorted {
		outcome := c.engine.Apply(ctx, a)
		if !outcome.Success {
			log.Warn().Str("adaptation_id", a.ID).Str("error", outcome.Error).
				Msg("adaptation application failed")
			continue
		}
		applied++
		adaptationsApplied.Add(ctx, 1)
		c.state.mu.Lock()
		c.state.activeAdaptations[a.ID] = true
		c.state.mu.Unlock()
	}
	return applied
}

// finalize runs learning parameter updates, the reaper, and metrics
// persistence, then advances the cycle counter.
func (c *Controller) finalize(ctx context.Context, result *CycleResult, start time.Time) {
	// 5. Update learning parameters.
	c.updateLearningParameters(ctx, result)

	// 6. Reap: drop active ids whose record is gone or no longer applied.
	c.reap(ctx)

	// 7. Finalize.
	c.state.mu.Lock()
	c.state.cycle = result.CycleNumber
	result.ActiveAdaptations = len(c.state.activeAdaptations)
	c.state.mu.Unlock()

	result.EndTime = c.now().UTC()
	result.DurationMS = result.EndTime.Sub(start).Milliseconds()

	c.store.RecordCycleMetrics(ctx, memory.CycleMetrics{
		Cycle:                result.CycleNumber,
		Status:               result.Status,
		FeedbackProcessed:    result.FeedbackProcessed,
		PatternsRecognized:   result.PatternsRecognized,
		AdaptationsGenerated: result.AdaptationsGenerated,
		AdaptationsApplied:   result.AdaptationsApplied,
		ActiveAdaptations:    result.ActiveAdaptations,
		DurationMS:           result.DurationMS,
		RecordedAt:           result.EndTime,
	})
}

// updateLearningParameters appends the cycle's performance sample and
// steers exploration mode and learning rate from the trend.
func (c *Controller) updateLearningParameters(ctx context.Context, result *CycleResult) {
	performance := cyclePerformance(result, c.cfg.AdaptationBatchSize)

	c.state.mu.Lock()
	defer c.state.mu.Unlock()

	c.state.performanceHistory = append(c.state.performanceHistory, PerformancePoint{
		Cycle:       result.CycleNumber,
		Performance: performance,
	})

	if len(c.state.performanceHistory) >= 3 {
		slope := performanceSlope(c.state.performanceHistory)
		wasExploring := c.state.explorationMode
		switch {
		case slope < 0:
			// Declining performance argues for trying something new.
			c.state.explorationMode = c.rng() < 0.7
		case slope > 0:
			c.state.explorationMode = c.rng() >= 0.7
		default:
			c.state.explorationMode = c.rng() < 0.5
		}
		if c.state.explorationMode != wasExploring {
			explorationSwitches.Add(ctx, 1)
			log.Info().Bool("exploration", c.state.explorationMode).
				Float64("trend", slope).Msg("exploration mode switched")
		}
	}

	adjust := 1.0
	switch {
	case performance > 0.7:
		adjust = 1.1
	case performance < 0.3:
		adjust = 0.9
	}
	if c.state.explorationMode {
		adjust *= c.cfg.ExplorationBoost
	}
	rate := c.state.learningRate * adjust
	if rate < c.cfg.LearningRateMin {
		rate = c.cfg.LearningRateMin
	}
	if rate > c.cfg.LearningRateMax {
		rate = c.cfg.LearningRateMax
	}
	c.state.learningRate = rate
}

// reap removes active ids whose stored record is missing or no longer
// applied. Completed adaptations leave the active set here.
func (c *Controller) reap(ctx context.Context) {
	c.state.mu.Lock()
	ids := make([]string, 0, len(c.state.activeAdaptations))
	for id := range c.state.activeAdaptations {
		ids = append(ids, id)
	}
	c.state.mu.Unlock()

	for _, id := range ids {
		rec, err := c.store.GetAdaptation(ctx, id)
		if err != nil || rec.Status != memory.StatusApplied {
			c.state.mu.Lock()
			delete(c.state.activeAdaptations, id)
			c.state.mu.Unlock()
		}
	}
}

// cyclePerformance is a bounded composite of recognition and application
// yield for one cycle.
func cyclePerformance(result *CycleResult, batchSize int) float64 {
	patternYield := float64(result.PatternsRecognized) / 3
	if patternYield > 1 {
		patternYield = 1
	}
	applyYield := float64(result.AdaptationsApplied) / float64(batchSize)
	if applyYield > 1 {
		applyYield = 1
	}
	return 0.5*patternYield + 0.5*applyYield
}

// performanceSlope fits a line through the history and returns its slope.
func performanceSlope(history []PerformancePoint) float64 {
	n := float64(len(history))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, p := range history {
		x := float64(i)
		sumX += x
		sumY += p.Performance
		sumXY += x * p.Performance
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
