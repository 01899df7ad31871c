package cmd

import (
	"context"
	"fmt"

	"github.com/wesheets/promethios-sub018/internal/adaptation"
	"github.com/wesheets/promethios-sub018/internal/config"
	"github.com/wesheets/promethios-sub018/internal/confidence"
	"github.com/wesheets/promethios-sub018/internal/feedback"
	"github.com/wesheets/promethios-sub018/internal/learning"
	"github.com/wesheets/promethios-sub018/internal/memory"
	"github.com/wesheets/promethios-sub018/internal/pattern"
	"github.com/wesheets/promethios-sub018/internal/verifier"
)

// app is the fully wired learning loop shared by the CLI commands.
// buildApp reads operator config and the learning policy, restores the
// store from sealed snapshots, and assembles every component.
type app struct {
	cfg        *config.Config
	policy     *config.LearningPolicy
	store      *memory.Store
	persister  *memory.Persister
	registry   *verifier.TraceRegistry
	collector  *feedback.Collector
	engine     *adaptation.Engine
	controller *learning.Controller
	scorer     *confidence.Scorer
	analytics  *confidence.Analytics
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKey()

	policy, err := config.LoadPolicy(cfg.PolicyPath())
	if err != nil {
		return nil, err
	}

	persister, err := memory.NewPersister(cfg.MemoryDBPath(), cfg.SnapshotKey)
	if err != nil {
		return nil, err
	}
	store := memory.NewStore(memory.WithPersister(persister))
	if err := store.Load(ctx); err != nil {
		_ = persister.Close()
		return nil, fmt.Errorf("restoring learning memory: %w", err)
	}

	registry := verifier.NewTraceRegistry()
	var bv verifier.BeliefTraceVerifier = verifier.NewLocalVerifier(registry)
	if cfg.VerifierURL != "" {
		bv = verifier.NewWebhookVerifier(cfg.VerifierURL, registry)
	}

	assessor, err := verifier.NewOPAAssessor(ctx, verifier.TrustConfig{
		MinConfidence:       policy.Trust.MinConfidence,
		ProtectedParameters: policy.Trust.ProtectedParameters,
		BlockedActions:      policy.Trust.BlockedActions,
		AllowedStrategies:   policy.Trust.AllowedStrategies,
	})
	if err != nil {
		_ = persister.Close()
		return nil, err
	}

	engine := adaptation.NewEngine(adaptation.Config{
		MinConfidence:              policy.Engine.MinConfidence,
		MaxPerCycle:                policy.Engine.MaxPerCycle,
		ConstitutionalVerification: policy.Engine.ConstitutionalVerification,
		Generators:                 adaptationTypes(policy.Engine.Generators),
		Tunables:                   policy.Engine.Tunables,
	}, store, bv, assessor)

	recognizer := pattern.NewRecognizer(pattern.Config{
		MinSupport:            policy.Recognizer.MinSupport,
		SignificanceThreshold: policy.Recognizer.SignificanceThreshold,
		MaxPatternElements:    policy.Recognizer.MaxPatternElements,
		CausalWindow:          policy.CausalWindow(),
		Analyzers:             patternTypes(policy.Recognizer.Analyzers),
	})

	controller := learning.NewController(learning.Config{
		MinFeedbackThreshold:     policy.Controller.MinFeedbackThreshold,
		FeedbackWindow:           policy.FeedbackWindow(),
		MaxConcurrentAdaptations: policy.Controller.MaxConcurrentAdaptations,
		AdaptationBatchSize:      policy.Controller.AdaptationBatchSize,
		InitialLearningRate:      policy.Controller.InitialLearningRate,
		Domain:                   policy.Controller.Domain,
	}, store, recognizer, engine)

	analytics, err := confidence.NewAnalyticsWithDB(cfg.AnalyticsDBPath())
	if err != nil {
		_ = persister.Close()
		return nil, err
	}

	scorer := confidence.NewScorer(confidence.Config{
		DefaultAlgorithm: policy.Confidence.DefaultAlgorithm,
		Thresholds:       policy.Confidence.Thresholds,
	}, confidence.WithTraceProvider(registry), confidence.WithAnalytics(analytics))

	collector := feedback.NewCollector(feedback.Config{
		RequiredFields:    policy.Collector.RequiredFields,
		SourceReliability: policy.Collector.SourceReliability,
		SamplingRate:      policy.Collector.SamplingRate,
	})

	return &app{
		cfg:        cfg,
		policy:     policy,
		store:      store,
		persister:  persister,
		registry:   registry,
		collector:  collector,
		engine:     engine,
		controller: controller,
		scorer:     scorer,
		analytics:  analytics,
	}, nil
}

// Close persists memory and analytics, then releases both databases.
func (a *app) Close(ctx context.Context) {
	a.store.Persist(ctx)
	a.analytics.Flush(ctx)
	_ = a.analytics.Close()
	_ = a.persister.Close()
}

func adaptationTypes(names []string) []memory.AdaptationType {
	out := make([]memory.AdaptationType, 0, len(names))
	for _, n := range names {
		out = append(out, memory.AdaptationType(n))
	}
	return out
}

func patternTypes(names []string) []memory.PatternType {
	out := make([]memory.PatternType, 0, len(names))
	for _, n := range names {
		out = append(out, memory.PatternType(n))
	}
	return out
}
