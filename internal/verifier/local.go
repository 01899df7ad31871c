package verifier

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wesheets/promethios-sub018/internal/memory"
)

// TraceRegistry is an in-memory TraceProvider. Traces are registered by
// whatever produced the decision and looked up by decision id at
// verification time.
type TraceRegistry struct {
	mu     sync.RWMutex
	traces map[string]*BeliefTrace
}

// NewTraceRegistry creates an empty registry.
func NewTraceRegistry() *TraceRegistry {
	return &TraceRegistry{traces: make(map[string]*BeliefTrace)}
}

// Register stores a trace, replacing any previous trace for the same
// decision.
func (r *TraceRegistry) Register(trace *BeliefTrace) {
	if trace == nil || trace.DecisionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces[trace.DecisionID] = trace
}

// GetTrace returns the trace recorded for a decision, if any.
func (r *TraceRegistry) GetTrace(_ context.Context, decisionID string) (*BeliefTrace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	trace, ok := r.traces[decisionID]
	return trace, ok
}

// VerifyTrace runs structural checks over a trace: it must have steps,
// step timestamps must not run backwards, and every step referencing
// sources must reference steps that appear earlier in the chain. Each
// failed check lowers confidence; any hard failure clears Verified.
func (r *TraceRegistry) VerifyTrace(_ context.Context, trace *BeliefTrace) VerifyResult {
	if trace == nil {
		return VerifyResult{Reason: "no trace"}
	}
	if len(trace.Steps) == 0 {
		return VerifyResult{Reason: "trace has no steps"}
	}

	seen := make(map[string]bool, len(trace.Steps))
	confidence := 1.0
	for i, step := range trace.Steps {
		if step.ID == "" {
			return VerifyResult{Reason: "trace step without id"}
		}
		if seen[step.ID] {
			return VerifyResult{Reason: "duplicate trace step " + step.ID}
		}
		if i > 0 && step.Timestamp.Before(trace.Steps[i-1].Timestamp) {
			return VerifyResult{Reason: "trace timestamps run backwards at step " + step.ID}
		}
		for _, src := range step.SourceIDs {
			if !seen[src] {
				return VerifyResult{Reason: "step " + step.ID + " references unknown source " + src}
			}
		}
		// Steps past the first that cite no sources weaken the chain
		// without breaking it.
		if i > 0 && len(step.SourceIDs) == 0 {
			confidence -= 0.1
		}
		seen[step.ID] = true
	}
	if confidence < 0 {
		confidence = 0
	}
	return VerifyResult{Verified: true, Confidence: confidence}
}

// LocalVerifier verifies adaptations against a TraceProvider without any
// network dependency.
type LocalVerifier struct {
	provider TraceProvider
}

// NewLocalVerifier creates a verifier backed by the given provider.
func NewLocalVerifier(provider TraceProvider) *LocalVerifier {
	return &LocalVerifier{provider: provider}
}

// Verify resolves the trace behind the adaptation's source pattern and
// runs structural verification on it. Missing traces fail closed.
func (v *LocalVerifier) Verify(ctx context.Context, adaptation *memory.Adaptation) VerifyResult {
	ctx, span := tracer.Start(ctx, "verifier.local.verify")
	defer span.End()

	decisionID := adaptation.Justification.PatternID
	if decisionID == "" {
		return VerifyResult{Reason: "adaptation has no source pattern"}
	}
	trace, ok := v.provider.GetTrace(ctx, decisionID)
	if !ok {
		log.Debug().Str("adaptation_id", adaptation.ID).Str("decision_id", decisionID).
			Msg("no belief trace recorded")
		return VerifyResult{Reason: "no belief trace for " + decisionID}
	}
	return v.provider.VerifyTrace(ctx, trace)
}
