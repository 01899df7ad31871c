package learning

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/wesheets/promethios-sub018/internal/learning")

var (
	cyclesTotal         metric.Int64Counter
	adaptationsApplied  metric.Int64Counter
	explorationSwitches metric.Int64Counter
	ticksDropped        metric.Int64Counter
)

func init() {
	var err error
	cyclesTotal, err = meter.Int64Counter("learning.cycles.total",
		metric.WithDescription("Learning cycles by terminal status"))
	if err != nil {
		cyclesTotal, _ = meter.Int64Counter("learning.cycles.total.fallback")
	}

	adaptationsApplied, err = meter.Int64Counter("learning.adaptations.applied",
		metric.WithDescription("Adaptations successfully applied"))
	if err != nil {
		adaptationsApplied, _ = meter.Int64Counter("learning.adaptations.applied.fallback")
	}

	explorationSwitches, err = meter.Int64Counter("learning.exploration.switches",
		metric.WithDescription("Exploration mode flips driven by the performance trend"))
	if err != nil {
		explorationSwitches, _ = meter.Int64Counter("learning.exploration.switches.fallback")
	}

	ticksDropped, err = meter.Int64Counter("learning.scheduler.ticks_dropped",
		metric.WithDescription("Scheduler ticks dropped because a cycle was in flight"))
	if err != nil {
		ticksDropped, _ = meter.Int64Counter("learning.scheduler.ticks_dropped.fallback")
	}
}

func withStatus(status string) metric.AddOption {
	return metric.WithAttributes(attribute.String("status", status))
}
