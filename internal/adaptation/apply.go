package adaptation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wesheets/promethios-sub018/internal/memory"
)

// ApplyResult reports the outcome of applying one adaptation.
type ApplyResult struct {
	Success      bool      `json:"success"`
	AdaptationID string    `json:"adaptation_id"`
	Timestamp    time.Time `json:"timestamp"`
	Error        string    `json:"error,omitempty"`
}

// Rule is a committed conditional behavior rule.
type Rule struct {
	Condition string `json:"condition"`
	Action    string `json:"action"`
}

// Runtime is the live settings table adaptations are committed to.
type Runtime struct {
	mu         sync.RWMutex
	parameters map[string]float64
	strategy   string
	rules      []Rule
}

// NewRuntime creates an empty runtime settings table.
func NewRuntime() *Runtime {
	return &Runtime{parameters: make(map[string]float64)}
}

// Parameter returns the committed value of a tunable, if set.
func (r *Runtime) Parameter(name string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.parameters[name]
	return v, ok
}

// Strategy returns the committed strategy.
func (r *Runtime) Strategy() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategy
}

// Rules returns a copy of the committed rules.
func (r *Runtime) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

func (r *Runtime) setParameter(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parameters[name] = value
}

func (r *Runtime) setStrategy(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategy = s
}

func (r *Runtime) addRule(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
}

// Apply commits one adaptation. The trust gate runs before anything is
// committed; an untrustworthy adaptation fails with the assessor's
// reasons embedded in the error. On every path the stored record is
// updated exactly once, so failed applications stay auditable.
func (e *Engine) Apply(ctx context.Context, a *memory.Adaptation) ApplyResult {
	ctx, span := tracer.Start(ctx, "adaptation.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("adaptation.id", a.ID),
		attribute.String("adaptation.type", string(a.Type)),
	)

	result := ApplyResult{AdaptationID: a.ID, Timestamp: e.now().UTC()}

	assessment, err := e.assessTrustImplications(ctx, a)
	switch {
	case err != nil:
		result.Error = fmt.Sprintf("trust assessment failed: %v", err)
	case !assessment.Trustworthy:
		result.Error = "Trust violation: " + strings.Join(assessment.Reasons, "; ")
	default:
		result.Error = e.commit(a)
	}
	result.Success = result.Error == ""

	a.Status = memory.StatusRejected
	if result.Success {
		a.Status = memory.StatusApplied
	}
	if err := e.store.UpdateAdaptation(ctx, a); err != nil {
		log.Error().Err(err).Str("adaptation_id", a.ID).
			Msg("recording adaptation outcome failed")
		if result.Success {
			result.Success = false
			result.Error = fmt.Sprintf("recording outcome: %v", err)
		}
	}

	span.SetAttributes(attribute.Bool("adaptation.success", result.Success))
	return result
}

// commit dispatches to the type-specific applier and returns an error
// string, empty on success.
func (e *Engine) commit(a *memory.Adaptation) string {
	switch a.Type {
	case memory.AdaptationParameter:
		if a.Target.Parameter == "" {
			return "parameter adaptation without a parameter"
		}
		e.runtime.setParameter(a.Target.Parameter, a.Target.TargetValue)
	case memory.AdaptationStrategy:
		if a.Target.Strategy == "" {
			return "strategy adaptation without a strategy"
		}
		e.runtime.setStrategy(a.Target.Strategy)
	case memory.AdaptationRule:
		if a.Target.Condition == "" || a.Target.Action == "" {
			return "rule adaptation without condition and action"
		}
		e.runtime.addRule(Rule{Condition: a.Target.Condition, Action: a.Target.Action})
	default:
		return "Unknown adaptation type"
	}
	return ""
}
