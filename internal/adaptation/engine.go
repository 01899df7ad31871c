// Package adaptation turns mined patterns into gated self-modification
// proposals and applies the ones that survive verification.
//
// Generation and application are separately gated. Candidates pass a
// belief trace check before they are ever returned; application passes a
// trust assessment before anything is committed. Both gates are skipped
// only when constitutional verification is explicitly disabled.
package adaptation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wesheets/promethios-sub018/internal/memory"
	promotel "github.com/wesheets/promethios-sub018/internal/otel"
	"github.com/wesheets/promethios-sub018/internal/verifier"
)

var tracer = promotel.Tracer("github.com/wesheets/promethios-sub018/internal/adaptation")

// Memory is the slice of the learning store the engine needs.
type Memory interface {
	UpdateAdaptation(ctx context.Context, a *memory.Adaptation) error
}

// Config tunes generation and gating.
type Config struct {
	// MinConfidence filters generated candidates. Strictly greater than.
	MinConfidence float64

	// MaxPerCycle caps candidates per Generate call, highest confidence
	// first.
	MaxPerCycle int

	// Generators selects which generators run. Empty means all three.
	Generators []memory.AdaptationType

	// ConstitutionalVerification enables the belief trace and trust
	// gates. Disabled, both gates pass unconditionally and the
	// collaborators are never called.
	ConstitutionalVerification bool

	// Tunables names the parameters the parameter generator may target.
	// Empty uses a built-in set.
	Tunables []string
}

func (c Config) withDefaults() Config {
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.7
	}
	if c.MaxPerCycle <= 0 {
		c.MaxPerCycle = 5
	}
	if len(c.Generators) == 0 {
		c.Generators = []memory.AdaptationType{
			memory.AdaptationParameter,
			memory.AdaptationStrategy,
			memory.AdaptationRule,
		}
	}
	if len(c.Tunables) == 0 {
		c.Tunables = []string{"sampling_rate", "significance_threshold", "confidence_threshold", "timeout_ms"}
	}
	return c
}

// Options carries per-call generation parameters.
type Options struct {
	Exploration bool
	Domain      string
}

// Engine generates and applies adaptations.
type Engine struct {
	cfg      Config
	store    Memory
	verifier verifier.BeliefTraceVerifier
	assessor verifier.TrustAssessor
	runtime  *Runtime
	tunables map[string]bool
	now      func() time.Time
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithClock overrides the engine clock (tests).
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. Verifier and assessor may be nil when
// constitutional verification is disabled.
func NewEngine(cfg Config, store Memory, bv verifier.BeliefTraceVerifier, ta verifier.TrustAssessor, opts ...EngineOption) *Engine {
	cfg = cfg.withDefaults()
	tunables := make(map[string]bool, len(cfg.Tunables))
	for _, t := range cfg.Tunables {
		tunables[t] = true
	}
	e := &Engine{
		cfg:      cfg,
		store:    store,
		verifier: bv,
		assessor: ta,
		runtime:  NewRuntime(),
		tunables: tunables,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Runtime returns the live settings the engine applies adaptations to.
func (e *Engine) Runtime() *Runtime { return e.runtime }

type generatorFunc func(p *memory.Pattern, opts Options) *memory.Adaptation

// Generate maps patterns to candidate adaptations. Generator panics are
// logged and contribute nothing. The result is confidence-filtered,
// capped, and passed through the belief trace gate.
func (e *Engine) Generate(ctx context.Context, patterns []*memory.Pattern, opts Options) []*memory.Adaptation {
	ctx, span := tracer.Start(ctx, "adaptation.generate")
	defer span.End()

	generators := map[memory.AdaptationType]generatorFunc{
		memory.AdaptationParameter: e.generateParameter,
		memory.AdaptationStrategy:  e.generateStrategy,
		memory.AdaptationRule:      e.generateRule,
	}

	var candidates []*memory.Adaptation
	for _, kind := range e.cfg.Generators {
		generate, ok := generators[kind]
		if !ok {
			log.Warn().Str("generator", string(kind)).Msg("unknown generator configured")
			continue
		}
		for _, p := range patterns {
			a, err := runGenerator(kind, p, opts, generate)
			if err != nil {
				log.Error().Err(err).Msgf("Error in %s generator", kind)
				continue
			}
			if a != nil {
				candidates = append(candidates, a)
			}
		}
	}

	filtered := candidates[:0]
	for _, a := range candidates {
		if a.Justification.Confidence > e.cfg.MinConfidence {
			filtered = append(filtered, a)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Justification.Confidence > filtered[j].Justification.Confidence
	})
	if len(filtered) > e.cfg.MaxPerCycle {
		filtered = filtered[:e.cfg.MaxPerCycle]
	}

	var out []*memory.Adaptation
	for _, a := range filtered {
		result := e.verifyAdaptation(ctx, a)
		if !result.Verified {
			log.Debug().Str("adaptation_id", a.ID).Str("reason", result.Reason).
				Msg("candidate failed belief trace verification")
			continue
		}
		out = append(out, a)
	}

	span.SetAttributes(
		attribute.Int("adaptation.candidates", len(candidates)),
		attribute.Int("adaptation.surfaced", len(out)),
	)
	return out
}

// runGenerator converts a generator panic into an error.
func runGenerator(kind memory.AdaptationType, p *memory.Pattern, opts Options, generate generatorFunc) (a *memory.Adaptation, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			a = nil
			err = fmt.Errorf("generator panicked: %v", rec)
		}
	}()
	return generate(p, opts), nil
}

// verifyAdaptation runs the belief trace gate. Disabled verification
// passes unconditionally without touching the collaborator.
func (e *Engine) verifyAdaptation(ctx context.Context, a *memory.Adaptation) verifier.VerifyResult {
	if !e.cfg.ConstitutionalVerification || e.verifier == nil {
		return verifier.VerifyResult{Verified: true, Confidence: 1}
	}
	return e.verifier.Verify(ctx, a)
}

// assessTrustImplications runs the trust gate. Disabled verification
// trusts unconditionally.
func (e *Engine) assessTrustImplications(ctx context.Context, a *memory.Adaptation) (verifier.AssessResult, error) {
	if !e.cfg.ConstitutionalVerification || e.assessor == nil {
		return verifier.AssessResult{Trustworthy: true, Score: 1}, nil
	}
	return e.assessor.Assess(ctx, a)
}

// generateParameter reacts to correlation and temporal patterns whose
// leading factor names a recognized tunable. Anything else is a silent
// skip.
func (e *Engine) generateParameter(p *memory.Pattern, opts Options) *memory.Adaptation {
	if p.Type != memory.PatternCorrelation && p.Type != memory.PatternTemporal {
		return nil
	}
	if len(p.Elements) == 0 || !e.tunables[p.Elements[0].Factor] {
		return nil
	}
	target, err := strconv.ParseFloat(p.Elements[0].Value, 64)
	if err != nil {
		return nil
	}
	direction := "decrease"
	if p.Outcome.Value == "success" {
		direction = "increase"
	}
	return e.newAdaptation(memory.AdaptationParameter, memory.AdaptationTarget{
		Parameter:   p.Elements[0].Factor,
		TargetValue: target,
		Direction:   direction,
	}, p, opts)
}

// generateStrategy reacts to causal and contextual patterns: consistent
// failure argues for exploring alternatives, consistent success for
// exploiting what works.
func (e *Engine) generateStrategy(p *memory.Pattern, opts Options) *memory.Adaptation {
	if p.Type != memory.PatternCausal && p.Type != memory.PatternContextual {
		return nil
	}
	strategy := "exploitation_emphasis"
	if p.Outcome.Value == "failure" {
		strategy = "exploration_emphasis"
	}
	return e.newAdaptation(memory.AdaptationStrategy, memory.AdaptationTarget{
		Strategy: strategy,
	}, p, opts)
}

// generateRule turns any qualifying pattern into a conditional rule.
func (e *Engine) generateRule(p *memory.Pattern, opts Options) *memory.Adaptation {
	if len(p.Elements) == 0 {
		return nil
	}
	condition := ""
	for i, el := range p.Elements {
		if i > 0 {
			condition += " && "
		}
		condition += el.Factor + " == " + el.Value
	}
	action := "avoid"
	if p.Outcome.Value == "success" {
		action = "prefer"
	}
	return e.newAdaptation(memory.AdaptationRule, memory.AdaptationTarget{
		Condition: condition,
		Action:    action,
	}, p, opts)
}

func (e *Engine) newAdaptation(kind memory.AdaptationType, target memory.AdaptationTarget, p *memory.Pattern, opts Options) *memory.Adaptation {
	return &memory.Adaptation{
		ID:     "adapt_" + uuid.New().String(),
		Type:   kind,
		Target: target,
		Justification: memory.Justification{
			Confidence: p.Statistics.Confidence,
			PatternID:  p.ID,
		},
		Status: memory.StatusPending,
		Domain: opts.Domain,
	}
}
