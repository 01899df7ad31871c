package verifier

import (
	"context"
	"embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wesheets/promethios-sub018/internal/memory"
)

//go:embed rego/*.rego
var embeddedPolicies embed.FS

const (
	trustPolicyFile  = "rego/adaptation_trust.rego"
	trustPolicyQuery = "data.promethios.trust.adaptation.deny"
)

// TrustConfig parameterizes the trust policy. It is loaded into OPA as
// data at construction time.
type TrustConfig struct {
	// MinConfidence is the floor below which adaptations are rejected.
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`

	// ProtectedParameters can never be targeted by parameter adaptations.
	ProtectedParameters []string `json:"protected_parameters" yaml:"protected_parameters"`

	// BlockedActions can never appear as a rule adaptation's action.
	BlockedActions []string `json:"blocked_actions" yaml:"blocked_actions"`

	// AllowedStrategies, when non-empty, is the whitelist for strategy
	// adaptations. Empty allows all.
	AllowedStrategies []string `json:"allowed_strategies" yaml:"allowed_strategies"`
}

func (c TrustConfig) withDefaults() TrustConfig {
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.6
	}
	if c.ProtectedParameters == nil {
		c.ProtectedParameters = []string{"trust_threshold", "verification_enabled"}
	}
	if c.BlockedActions == nil {
		c.BlockedActions = []string{"disable_verification", "bypass_governance"}
	}
	return c
}

// OPAAssessor evaluates adaptations against the embedded trust policy.
type OPAAssessor struct {
	cfg      TrustConfig
	prepared rego.PreparedEvalQuery
}

// NewOPAAssessor precompiles the trust policy with the given config as
// OPA data.
func NewOPAAssessor(ctx context.Context, cfg TrustConfig) (*OPAAssessor, error) {
	ctx, span := tracer.Start(ctx, "verifier.opa.new")
	defer span.End()

	cfg = cfg.withDefaults()

	content, err := embeddedPolicies.ReadFile(trustPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("reading embedded policy %s: %w", trustPolicyFile, err)
	}

	store := inmem.NewFromObject(map[string]interface{}{
		"trust": map[string]interface{}{
			"min_confidence":       cfg.MinConfidence,
			"protected_parameters": toInterfaceSlice(cfg.ProtectedParameters),
			"blocked_actions":      toInterfaceSlice(cfg.BlockedActions),
			"allowed_strategies":   toInterfaceSlice(cfg.AllowedStrategies),
		},
	})

	prepared, err := rego.New(
		rego.Query(trustPolicyQuery),
		rego.Module(trustPolicyFile, string(content)),
		rego.Store(store),
	).PrepareForEval(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("preparing trust policy: %w", err)
	}

	return &OPAAssessor{cfg: cfg, prepared: prepared}, nil
}

// Assess evaluates the adaptation. An evaluation error fails closed.
func (a *OPAAssessor) Assess(ctx context.Context, adaptation *memory.Adaptation) (AssessResult, error) {
	ctx, span := tracer.Start(ctx, "verifier.opa.assess")
	defer span.End()

	input := map[string]interface{}{
		"id":   adaptation.ID,
		"type": string(adaptation.Type),
		"justification": map[string]interface{}{
			"confidence": adaptation.Justification.Confidence,
			"pattern_id": adaptation.Justification.PatternID,
		},
		"target": map[string]interface{}{
			"parameter": adaptation.Target.Parameter,
			"strategy":  adaptation.Target.Strategy,
			"action":    adaptation.Target.Action,
		},
	}

	results, err := a.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		span.RecordError(err)
		return AssessResult{}, fmt.Errorf("evaluating trust policy: %w", err)
	}

	var reasons []string
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		// Querying a deny set yields []interface{} of strings.
		if vals, ok := results[0].Expressions[0].Value.([]interface{}); ok {
			for _, v := range vals {
				if msg, ok := v.(string); ok {
					reasons = append(reasons, msg)
				}
			}
		}
	}

	result := AssessResult{
		Trustworthy: len(reasons) == 0,
		Score:       adaptation.Justification.Confidence,
		Reasons:     reasons,
	}
	span.SetAttributes(
		attribute.Bool("trust.trustworthy", result.Trustworthy),
		attribute.Int("trust.deny_reasons", len(reasons)),
	)
	return result, nil
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
