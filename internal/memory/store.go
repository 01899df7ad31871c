// Package memory is the append-only, Merkle-verified learning store.
//
// Three collections (feedback, patterns, adaptations) each pair an id→entity
// map with an id→leaf-hash map and a root hash. Every store/update
// recomputes the affected leaf and the collection root inside the same
// critical section as the map mutation, so the stored root always matches
// the actual leaf set. VerifyIntegrity is a self-check against accidental
// divergence, not a tamper-proofing mechanism — there is one writer.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wesheets/promethios-sub018/internal/merkle"
	promotel "github.com/wesheets/promethios-sub018/internal/otel"
)

var tracer = promotel.Tracer("github.com/wesheets/promethios-sub018/internal/memory")

// collection names used in integrity reports and snapshots.
const (
	CollectionFeedback    = "feedback"
	CollectionPatterns    = "patterns"
	CollectionAdaptations = "adaptations"
)

// collection pairs an entity map with its Merkle leaves and root.
// Entities are stored as canonical JSON-serializable values; the leaf is
// recomputed from the entity on every mutation.
type collection[T any] struct {
	entities map[string]T
	leaves   map[string]string
	root     string
}

func newCollection[T any]() collection[T] {
	return collection[T]{
		entities: make(map[string]T),
		leaves:   make(map[string]string),
		root:     merkle.Root(nil),
	}
}

// put inserts or replaces the entity and recomputes leaf and root as one
// step. Callers hold the store mutex.
func (c *collection[T]) put(id string, entity T) error {
	leaf, err := merkle.Leaf(entity)
	if err != nil {
		return err
	}
	c.entities[id] = entity
	c.leaves[id] = leaf
	c.root = merkle.Root(c.leaves)
	return nil
}

// remove deletes the entity and recomputes the root. Callers hold the
// store mutex.
func (c *collection[T]) remove(id string) {
	delete(c.entities, id)
	delete(c.leaves, id)
	c.root = merkle.Root(c.leaves)
}

// Store is the single-writer learning memory.
type Store struct {
	mu sync.Mutex

	feedback    collection[*FeedbackRecord]
	patterns    collection[*Pattern]
	adaptations collection[*Adaptation]

	cycleMetrics []CycleMetrics

	persister *Persister // optional; nil disables durable snapshots
	now       func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithPersister attaches a durable snapshot persister.
func WithPersister(p *Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithClock overrides the stamping clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty learning memory.
func NewStore(opts ...Option) *Store {
	s := &Store{
		feedback:    newCollection[*FeedbackRecord](),
		patterns:    newCollection[*Pattern](),
		adaptations: newCollection[*Adaptation](),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreFeedback appends a feedback record. The record must carry an id.
func (s *Store) StoreFeedback(ctx context.Context, rec *FeedbackRecord) error {
	ctx, span := tracer.Start(ctx, "memory.store_feedback")
	defer span.End()

	if rec == nil || rec.ID == "" {
		return fmt.Errorf("feedback record requires an id: %w", ErrValidation)
	}

	cp := *rec
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.StoredAt = s.now().UTC()
	if err := s.feedback.put(cp.ID, &cp); err != nil {
		return fmt.Errorf("storing feedback %s: %w", cp.ID, err)
	}
	storesTotal.Add(ctx, 1, withCollection(CollectionFeedback))
	span.SetAttributes(attribute.String("feedback.id", cp.ID))
	return nil
}

// StorePattern appends a mined pattern. The pattern must carry an id.
func (s *Store) StorePattern(ctx context.Context, p *Pattern) error {
	ctx, span := tracer.Start(ctx, "memory.store_pattern")
	defer span.End()

	if p == nil || p.ID == "" {
		return fmt.Errorf("pattern requires an id: %w", ErrValidation)
	}

	cp := *p
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.StoredAt = s.now().UTC()
	if err := s.patterns.put(cp.ID, &cp); err != nil {
		return fmt.Errorf("storing pattern %s: %w", cp.ID, err)
	}
	storesTotal.Add(ctx, 1, withCollection(CollectionPatterns))
	span.SetAttributes(attribute.String("pattern.id", cp.ID))
	return nil
}

// StoreAdaptation appends a candidate adaptation. The adaptation must
// carry an id.
func (s *Store) StoreAdaptation(ctx context.Context, a *Adaptation) error {
	ctx, span := tracer.Start(ctx, "memory.store_adaptation")
	defer span.End()

	if a == nil || a.ID == "" {
		return fmt.Errorf("adaptation requires an id: %w", ErrValidation)
	}

	cp := *a
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.StoredAt = s.now().UTC()
	if err := s.adaptations.put(cp.ID, &cp); err != nil {
		return fmt.Errorf("storing adaptation %s: %w", cp.ID, err)
	}
	storesTotal.Add(ctx, 1, withCollection(CollectionAdaptations))
	span.SetAttributes(attribute.String("adaptation.id", cp.ID))
	return nil
}

// UpdateAdaptation replaces an existing adaptation record. The id must
// already exist; updates never create.
func (s *Store) UpdateAdaptation(ctx context.Context, a *Adaptation) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("adaptation requires an id: %w", ErrValidation)
	}

	ctx, span := tracer.Start(ctx, "memory.update_adaptation",
		trace.WithAttributes(attribute.String("adaptation.id", a.ID)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.adaptations.entities[a.ID]
	if !ok {
		return fmt.Errorf("adaptation %s: %w", a.ID, ErrAdaptationNotFound)
	}

	cp := *a
	cp.StoredAt = existing.StoredAt
	cp.UpdatedAt = s.now().UTC()
	if err := s.adaptations.put(cp.ID, &cp); err != nil {
		return fmt.Errorf("updating adaptation %s: %w", cp.ID, err)
	}
	updatesTotal.Add(ctx, 1, withCollection(CollectionAdaptations))
	return nil
}

// GetAdaptation returns a copy of the adaptation with the given id, or
// ErrAdaptationNotFound.
func (s *Store) GetAdaptation(ctx context.Context, id string) (*Adaptation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.adaptations.entities[id]
	if !ok {
		return nil, fmt.Errorf("adaptation %s: %w", id, ErrAdaptationNotFound)
	}
	cp := *a
	return &cp, nil
}

// RecordCycleMetrics appends a per-cycle summary. Metrics are reporting
// data, not Merkle-tracked entities.
func (s *Store) RecordCycleMetrics(ctx context.Context, m CycleMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.RecordedAt = s.now().UTC()
	s.cycleMetrics = append(s.cycleMetrics, m)
}

// CycleHistory returns the recorded cycle metrics, newest last.
// Persisted rows come first, then the not-yet-flushed buffer.
func (s *Store) CycleHistory(ctx context.Context) []CycleMetrics {
	var out []CycleMetrics
	if s.persister != nil {
		persisted, err := s.persister.cycleHistory(ctx)
		if err != nil {
			log.Error().Err(err).Msg("reading persisted cycle history failed")
		} else {
			out = persisted
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return append(out, s.cycleMetrics...)
}

// CollectionIntegrity reports one collection's self-check.
type CollectionIntegrity struct {
	Verified     bool   `json:"verified"`
	StoredRoot   string `json:"stored_root"`
	ComputedRoot string `json:"computed_root"`
	Entities     int    `json:"entities"`
}

// IntegrityReport aggregates the per-collection self-checks.
type IntegrityReport struct {
	Verified    bool                           `json:"verified"`
	Collections map[string]CollectionIntegrity `json:"collections"`
	CheckedAt   time.Time                      `json:"checked_at"`
}

// VerifyIntegrity recomputes every collection's root from its current
// leaves and compares it to the stored root. Divergence is reported, not
// thrown, so monitoring code can poll it.
func (s *Store) VerifyIntegrity(ctx context.Context) IntegrityReport {
	ctx, span := tracer.Start(ctx, "memory.verify_integrity")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	report := IntegrityReport{
		Collections: make(map[string]CollectionIntegrity, 3),
		CheckedAt:   s.now().UTC(),
		Verified:    true,
	}
	report.Collections[CollectionFeedback] = checkCollection(&s.feedback)
	report.Collections[CollectionPatterns] = checkCollection(&s.patterns)
	report.Collections[CollectionAdaptations] = checkCollection(&s.adaptations)

	for name, c := range report.Collections {
		if !c.Verified {
			report.Verified = false
			integrityFailures.Add(ctx, 1, withCollection(name))
			log.Error().
				Str("collection", name).
				Str("stored_root", c.StoredRoot).
				Str("computed_root", c.ComputedRoot).
				Msg("integrity check failed")
		}
	}
	span.SetAttributes(attribute.Bool("integrity.verified", report.Verified))
	return report
}

func checkCollection[T any](c *collection[T]) CollectionIntegrity {
	computed := merkle.Root(c.leaves)
	return CollectionIntegrity{
		Verified:     computed == c.root,
		StoredRoot:   c.root,
		ComputedRoot: computed,
		Entities:     len(c.entities),
	}
}

// ClearReport counts the entities removed per collection by ClearDomain.
type ClearReport struct {
	Feedback    int `json:"feedback"`
	Patterns    int `json:"patterns"`
	Adaptations int `json:"adaptations"`
}

// ClearDomain removes every record tagged with the given domain from all
// three collections and rebuilds the affected trees. The domain argument
// must be non-empty.
func (s *Store) ClearDomain(ctx context.Context, domain string) (ClearReport, error) {
	ctx, span := tracer.Start(ctx, "memory.clear_domain",
		trace.WithAttributes(attribute.String("domain", domain)))
	defer span.End()

	if domain == "" {
		return ClearReport{}, fmt.Errorf("clear domain requires a non-empty domain: %w", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var report ClearReport
	for id, rec := range s.feedback.entities {
		if rec.Domain == domain || rec.Context["domain"] == domain {
			s.feedback.remove(id)
			report.Feedback++
		}
	}
	for id, p := range s.patterns.entities {
		if p.Domain == domain {
			s.patterns.remove(id)
			report.Patterns++
		}
	}
	for id, a := range s.adaptations.entities {
		if a.Domain == domain {
			s.adaptations.remove(id)
			report.Adaptations++
		}
	}

	log.Info().
		Str("domain", domain).
		Int("feedback", report.Feedback).
		Int("patterns", report.Patterns).
		Int("adaptations", report.Adaptations).
		Func(promotel.LogTraceFields(ctx)).
		Msg("domain cleared")
	return report, nil
}

// Counts returns the entity count per collection.
func (s *Store) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{
		CollectionFeedback:    len(s.feedback.entities),
		CollectionPatterns:    len(s.patterns.entities),
		CollectionAdaptations: len(s.adaptations.entities),
	}
}
