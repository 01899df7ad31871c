package memory

import (
	"time"
)

// SourceType classifies who produced a feedback record.
type SourceType string

// Feedback source types.
const (
	SourceUser     SourceType = "user"
	SourceSystem   SourceType = "system"
	SourceObserver SourceType = "observer"
	SourceOutcome  SourceType = "outcome"
)

// FeedbackSource identifies the origin of a feedback record.
type FeedbackSource struct {
	Type        SourceType `json:"type"`
	ID          string     `json:"id"`
	Reliability float64    `json:"reliability"` // [0,1]
}

// FeedbackRecord is a canonical, immutable feedback entry. Created by the
// collector; never mutated after StoreFeedback.
type FeedbackRecord struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Source    FeedbackSource    `json:"source"`
	Content   map[string]any    `json:"content"`
	Context   map[string]string `json:"context,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	Domain    string            `json:"domain,omitempty"`
	StoredAt  time.Time         `json:"stored_at,omitempty"`
}

// PatternType classifies a mined behavioral pattern.
type PatternType string

// Pattern types.
const (
	PatternCorrelation PatternType = "correlation"
	PatternCausal      PatternType = "causal"
	PatternTemporal    PatternType = "temporal"
	PatternContextual  PatternType = "contextual"
)

// PatternElement is one factor/value pair in a pattern's condition.
type PatternElement struct {
	Factor string `json:"factor"`
	Value  string `json:"value"`
}

// PatternOutcome is the observed result a pattern predicts.
type PatternOutcome struct {
	Factor string `json:"factor"`
	Value  string `json:"value"`
}

// PatternStats carries the statistical backing for a pattern.
type PatternStats struct {
	Confidence   float64 `json:"confidence"`
	Significance float64 `json:"significance"`
	Support      int     `json:"support"`
}

// Pattern is an immutable mined pattern. Duplicates are superseded by
// higher-significance patterns, never mutated in place.
type Pattern struct {
	ID           string           `json:"id"`
	Type         PatternType      `json:"type"`
	Elements     []PatternElement `json:"elements"`
	Outcome      PatternOutcome   `json:"outcome"`
	Statistics   PatternStats     `json:"statistics"`
	DiscoveredAt time.Time        `json:"discovered_at"`
	Domain       string           `json:"domain,omitempty"`
	StoredAt     time.Time        `json:"stored_at,omitempty"`
}

// AdaptationType classifies a proposed runtime adaptation.
type AdaptationType string

// Adaptation types.
const (
	AdaptationParameter AdaptationType = "parameter"
	AdaptationStrategy  AdaptationType = "strategy"
	AdaptationRule      AdaptationType = "rule"
)

// AdaptationStatus tracks an adaptation through its lifecycle. Pending
// records transition to applied or rejected only through the engine's
// Apply; completed is set by an external consumer and read back by the
// controller's reaper.
type AdaptationStatus string

// Adaptation statuses.
const (
	StatusPending   AdaptationStatus = "pending"
	StatusApplied   AdaptationStatus = "applied"
	StatusRejected  AdaptationStatus = "rejected"
	StatusCompleted AdaptationStatus = "completed"
)

// AdaptationTarget is the type-specific payload of an adaptation. Exactly
// one group of fields is populated depending on the adaptation type.
type AdaptationTarget struct {
	// parameter
	Parameter   string  `json:"parameter,omitempty"`
	TargetValue float64 `json:"target_value,omitempty"`
	Direction   string  `json:"direction,omitempty"` // "increase" or "decrease"

	// strategy
	Strategy string `json:"strategy,omitempty"`

	// rule
	Condition string `json:"condition,omitempty"`
	Action    string `json:"action,omitempty"`
}

// Justification links an adaptation back to the pattern that motivated it.
type Justification struct {
	Confidence float64 `json:"confidence"`
	PatternID  string  `json:"pattern_id"`
}

// Adaptation is a candidate or applied runtime change.
type Adaptation struct {
	ID            string           `json:"id"`
	Type          AdaptationType   `json:"type"`
	Target        AdaptationTarget `json:"target"`
	Justification Justification    `json:"justification"`
	Status        AdaptationStatus `json:"status"`
	Domain        string           `json:"domain,omitempty"`
	StoredAt      time.Time        `json:"stored_at,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at,omitempty"`
}

// CycleMetrics is the per-cycle summary the controller persists after each
// learning cycle.
type CycleMetrics struct {
	Cycle                int       `json:"cycle"`
	Status               string    `json:"status"`
	FeedbackProcessed    int       `json:"feedback_processed"`
	PatternsRecognized   int       `json:"patterns_recognized"`
	AdaptationsGenerated int       `json:"adaptations_generated"`
	AdaptationsApplied   int       `json:"adaptations_applied"`
	ActiveAdaptations    int       `json:"active_adaptations"`
	DurationMS           int64     `json:"duration_ms"`
	RecordedAt           time.Time `json:"recorded_at"`
}
