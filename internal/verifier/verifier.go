// Package verifier gates adaptations before they reach the live system.
//
// Two independent gates exist. Belief trace verification checks that an
// adaptation's justification traces back through recorded reasoning steps
// to actual evidence. Trust assessment evaluates the adaptation itself
// against governance policy. Both fail closed: an unreachable or errored
// gate counts as a rejection, never as a pass.
package verifier

import (
	"context"
	"time"

	promotel "github.com/wesheets/promethios-sub018/internal/otel"

	"github.com/wesheets/promethios-sub018/internal/memory"
)

var tracer = promotel.Tracer("github.com/wesheets/promethios-sub018/internal/verifier")

// TraceStep is one recorded reasoning step inside a belief trace.
type TraceStep struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	SourceIDs []string  `json:"source_ids,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BeliefTrace records the reasoning chain behind a decision.
type BeliefTrace struct {
	ID         string      `json:"id"`
	DecisionID string      `json:"decision_id"`
	Steps      []TraceStep `json:"steps"`
	CreatedAt  time.Time   `json:"created_at"`
}

// VerifyResult is the outcome of belief trace verification.
type VerifyResult struct {
	Verified   bool    `json:"verified"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// AssessResult is the outcome of a trust assessment.
type AssessResult struct {
	Trustworthy bool     `json:"trustworthy"`
	Score       float64  `json:"score"`
	Reasons     []string `json:"reasons,omitempty"`
}

// BeliefTraceVerifier checks that an adaptation's justification is backed
// by a verifiable reasoning trace.
type BeliefTraceVerifier interface {
	Verify(ctx context.Context, adaptation *memory.Adaptation) VerifyResult
}

// TrustAssessor evaluates whether an adaptation is safe to apply.
type TrustAssessor interface {
	Assess(ctx context.Context, adaptation *memory.Adaptation) (AssessResult, error)
}

// TraceProvider resolves belief traces by decision.
type TraceProvider interface {
	GetTrace(ctx context.Context, decisionID string) (*BeliefTrace, bool)
	VerifyTrace(ctx context.Context, trace *BeliefTrace) VerifyResult
}
