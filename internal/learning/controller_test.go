package learning

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesheets/promethios-sub018/internal/adaptation"
	"github.com/wesheets/promethios-sub018/internal/memory"
	"github.com/wesheets/promethios-sub018/internal/pattern"
)

type fakeStore struct {
	feedback        []*memory.FeedbackRecord
	patterns        []*memory.Pattern
	adaptations     map[string]*memory.Adaptation
	cycles          []memory.CycleMetrics
	storePatternErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{adaptations: make(map[string]*memory.Adaptation)}
}

func (s *fakeStore) GetRecentFeedback(_ context.Context, _ memory.FeedbackQuery) []*memory.FeedbackRecord {
	return s.feedback
}

func (s *fakeStore) StorePattern(_ context.Context, p *memory.Pattern) error {
	if s.storePatternErr != nil {
		return s.storePatternErr
	}
	s.patterns = append(s.patterns, p)
	return nil
}

func (s *fakeStore) StoreAdaptation(_ context.Context, a *memory.Adaptation) error {
	s.adaptations[a.ID] = a
	return nil
}

func (s *fakeStore) GetAdaptation(_ context.Context, id string) (*memory.Adaptation, error) {
	a, ok := s.adaptations[id]
	if !ok {
		return nil, memory.ErrAdaptationNotFound
	}
	return a, nil
}

func (s *fakeStore) RecordCycleMetrics(_ context.Context, m memory.CycleMetrics) {
	s.cycles = append(s.cycles, m)
}

type fakeRecognizer struct {
	patterns []*memory.Pattern
	calls    int
	lastOpts pattern.Options
}

func (r *fakeRecognizer) Recognize(_ context.Context, _ []*memory.FeedbackRecord, opts pattern.Options) []*memory.Pattern {
	r.calls++
	r.lastOpts = opts
	return r.patterns
}

type fakeEngine struct {
	candidates []*memory.Adaptation
	applyFail  map[string]string // id -> error message
	applied    []string
}

func (e *fakeEngine) Generate(_ context.Context, _ []*memory.Pattern, _ adaptation.Options) []*memory.Adaptation {
	return e.candidates
}

func (e *fakeEngine) Apply(_ context.Context, a *memory.Adaptation) adaptation.ApplyResult {
	if msg, ok := e.applyFail[a.ID]; ok {
		return adaptation.ApplyResult{AdaptationID: a.ID, Error: msg}
	}
	e.applied = append(e.applied, a.ID)
	a.Status = memory.StatusApplied
	return adaptation.ApplyResult{Success: true, AdaptationID: a.ID, Timestamp: time.Now()}
}

func feedbackBatch(n int) []*memory.FeedbackRecord {
	out := make([]*memory.FeedbackRecord, n)
	for i := range out {
		out[i] = &memory.FeedbackRecord{ID: fmt.Sprintf("fb_%d", i)}
	}
	return out
}

func testPattern(id string, confidence float64) *memory.Pattern {
	return &memory.Pattern{
		ID:         id,
		Type:       memory.PatternCorrelation,
		Elements:   []memory.PatternElement{{Factor: "tool", Value: "search"}},
		Outcome:    memory.PatternOutcome{Factor: "outcome", Value: "success"},
		Statistics: memory.PatternStats{Confidence: confidence, Significance: confidence, Support: 5},
	}
}

func testCandidate(id string, confidence float64) *memory.Adaptation {
	return &memory.Adaptation{
		ID:            id,
		Type:          memory.AdaptationRule,
		Target:        memory.AdaptationTarget{Condition: "tool == search", Action: "prefer"},
		Justification: memory.Justification{Confidence: confidence, PatternID: "pat_1"},
		Status:        memory.StatusPending,
	}
}

func TestCycleCompletes(t *testing.T) {
	store := newFakeStore()
	store.feedback = feedbackBatch(15)
	recognizer := &fakeRecognizer{patterns: []*memory.Pattern{testPattern("pat_1", 0.9)}}
	engine := &fakeEngine{candidates: []*memory.Adaptation{testCandidate("adapt_1", 0.9)}}

	c := NewController(Config{MinFeedbackThreshold: 10}, store, recognizer, engine)
	result := c.RunCycle(context.Background())

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, result.CycleNumber)
	assert.Equal(t, 15, result.FeedbackProcessed)
	assert.Equal(t, 1, result.PatternsRecognized)
	assert.Equal(t, 1, result.AdaptationsGenerated)
	assert.Equal(t, 1, result.AdaptationsApplied)
	assert.Equal(t, 1, result.ActiveAdaptations)
	assert.False(t, result.EndTime.IsZero())
	assert.GreaterOrEqual(t, result.DurationMS, int64(0))

	snapshot := c.State()
	assert.Equal(t, 1, snapshot.Cycle)
	assert.Len(t, snapshot.PerformanceHistory, 1, "exactly one history point per cycle")
	assert.Equal(t, []string{"adapt_1"}, snapshot.ActiveAdaptations)

	require.Len(t, store.cycles, 1, "cycle metrics persisted")
	assert.Equal(t, 1, store.cycles[0].Cycle)
	require.Len(t, store.patterns, 1, "surfaced pattern stored")
	require.Contains(t, store.adaptations, "adapt_1", "candidate stored pending before application")
}

func TestCycleSkippedOnInsufficientFeedback(t *testing.T) {
	store := newFakeStore()
	store.feedback = feedbackBatch(4)
	recognizer := &fakeRecognizer{}

	c := NewController(Config{MinFeedbackThreshold: 10}, store, recognizer, &fakeEngine{})
	result := c.RunCycle(context.Background())

	assert.Equal(t, StatusSkipped, result.Status)
	assert.Equal(t, ReasonInsufficientFeedback, result.Reason)
	assert.Equal(t, 4, result.FeedbackProcessed)
	assert.Zero(t, recognizer.calls, "pattern recognition is never invoked on skip")
	assert.Empty(t, c.State().PerformanceHistory)
	assert.Zero(t, c.State().Cycle)
}

func TestCycleErrorOnStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.feedback = feedbackBatch(12)
	store.storePatternErr = errors.New("disk gone")
	recognizer := &fakeRecognizer{patterns: []*memory.Pattern{testPattern("pat_1", 0.9)}}

	c := NewController(Config{MinFeedbackThreshold: 10}, store, recognizer, &fakeEngine{})
	result := c.RunCycle(context.Background())

	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.Error, "disk gone")
}

func TestCycleForwardsExplorationMode(t *testing.T) {
	store := newFakeStore()
	store.feedback = feedbackBatch(12)
	recognizer := &fakeRecognizer{}

	c := NewController(Config{MinFeedbackThreshold: 10}, store, recognizer, &fakeEngine{})
	c.state.mu.Lock()
	c.state.explorationMode = true
	c.state.mu.Unlock()

	c.RunCycle(context.Background())
	assert.True(t, recognizer.lastOpts.Exploration)
}

func TestApplyBatchPrefersHighestConfidence(t *testing.T) {
	store := newFakeStore()
	store.feedback = feedbackBatch(12)
	engine := &fakeEngine{candidates: []*memory.Adaptation{
		testCandidate("low", 0.72),
		testCandidate("high", 0.95),
		testCandidate("mid", 0.8),
	}}

	c := NewController(Config{MinFeedbackThreshold: 10, AdaptationBatchSize: 2}, store, &fakeRecognizer{}, engine)
	result := c.RunCycle(context.Background())

	assert.Equal(t, 2, result.AdaptationsApplied)
	assert.Equal(t, []string{"high", "mid"}, engine.applied)
}

func TestApplySkippedWhenActiveSetFull(t *testing.T) {
	store := newFakeStore()
	store.feedback = feedbackBatch(12)
	engine := &fakeEngine{candidates: []*memory.Adaptation{testCandidate("adapt_1", 0.9)}}

	c := NewController(Config{MinFeedbackThreshold: 10, MaxConcurrentAdaptations: 2}, store, &fakeRecognizer{}, engine)
	for _, id := range []string{"busy_1", "busy_2"} {
		store.adaptations[id] = &memory.Adaptation{ID: id, Status: memory.StatusApplied}
		c.state.mu.Lock()
		c.state.activeAdaptations[id] = true
		c.state.mu.Unlock()
	}

	result := c.RunCycle(context.Background())
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Zero(t, result.AdaptationsApplied, "full active set applies none")
	assert.Empty(t, engine.applied)
}

func TestFailedApplicationsDoNotJoinActiveSet(t *testing.T) {
	store := newFakeStore()
	store.feedback = feedbackBatch(12)
	engine := &fakeEngine{
		candidates: []*memory.Adaptation{
			testCandidate("good", 0.9),
			testCandidate("bad", 0.85),
		},
		applyFail: map[string]string{"bad": "Trust violation"},
	}

	c := NewController(Config{MinFeedbackThreshold: 10, AdaptationBatchSize: 5}, store, &fakeRecognizer{}, engine)
	result := c.RunCycle(context.Background())

	assert.Equal(t, 1, result.AdaptationsApplied)
	assert.Equal(t, []string{"good"}, c.State().ActiveAdaptations)
}

func TestReaperRemovesFinishedAdaptations(t *testing.T) {
	store := newFakeStore()
	store.feedback = feedbackBatch(12)
	engine := &fakeEngine{candidates: []*memory.Adaptation{testCandidate("adapt_1", 0.9)}}

	c := NewController(Config{MinFeedbackThreshold: 10}, store, &fakeRecognizer{}, engine)
	c.RunCycle(context.Background())
	require.Equal(t, []string{"adapt_1"}, c.State().ActiveAdaptations)

	// An external consumer finishes the adaptation; the next cycle's
	// reaper drops it from the active set.
	store.adaptations["adapt_1"].Status = memory.StatusCompleted
	engine.candidates = nil
	c.RunCycle(context.Background())
	assert.Empty(t, c.State().ActiveAdaptations)
}

func TestExplorationSwitchesOnDecliningTrend(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{}
	recognizer := &fakeRecognizer{}

	// rng below 0.7 keeps exploration on when the trend declines
	c := NewController(Config{MinFeedbackThreshold: 10}, store, recognizer, engine,
		WithRand(func() float64 { return 0.1 }))

	// Declining performance: lots of patterns first, then nothing.
	store.feedback = feedbackBatch(12)
	recognizer.patterns = []*memory.Pattern{testPattern("p1", 0.9), testPattern("p2", 0.9), testPattern("p3", 0.9)}
	engine.candidates = []*memory.Adaptation{testCandidate("a1", 0.9), testCandidate("a2", 0.85)}
	c.RunCycle(context.Background())

	recognizer.patterns = nil
	engine.candidates = nil
	c.RunCycle(context.Background())
	c.RunCycle(context.Background())

	assert.True(t, c.State().ExplorationMode, "declining trend biases toward exploration")
}

func TestLearningRateStaysBounded(t *testing.T) {
	store := newFakeStore()
	store.feedback = feedbackBatch(12)
	recognizer := &fakeRecognizer{patterns: []*memory.Pattern{
		testPattern("p1", 0.9), testPattern("p2", 0.9), testPattern("p3", 0.9),
	}}
	engine := &fakeEngine{}

	c := NewController(Config{
		MinFeedbackThreshold: 10,
		InitialLearningRate:  0.45,
		LearningRateMax:      0.5,
	}, store, recognizer, engine, WithRand(func() float64 { return 0.9 }))

	for i := 0; i < 10; i++ {
		engine.candidates = []*memory.Adaptation{
			testCandidate(fmt.Sprintf("a%d_1", i), 0.9),
			testCandidate(fmt.Sprintf("a%d_2", i), 0.9),
		}
		c.RunCycle(context.Background())
	}

	assert.LessOrEqual(t, c.State().LearningRate, 0.5)
	assert.GreaterOrEqual(t, c.State().LearningRate, 0.01)
}

func TestSchedulerDropsTickWhileCycleInFlight(t *testing.T) {
	store := newFakeStore()
	recognizer := &fakeRecognizer{}
	c := NewController(Config{}, store, recognizer, &fakeEngine{})

	s, err := NewScheduler("* * * * *", c)
	require.NoError(t, err)

	s.running.Store(true)
	s.tick()
	assert.Zero(t, recognizer.calls, "overlapping tick must be dropped")

	s.running.Store(false)
	s.tick()
	assert.Len(t, store.cycles, 0, "insufficient feedback skips without metrics")
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	c := NewController(Config{}, newFakeStore(), &fakeRecognizer{}, &fakeEngine{})
	_, err := NewScheduler("not a cron spec", c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cycle schedule")
}
