package memory

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/wesheets/promethios-sub018/internal/memory")

var (
	storesTotal       metric.Int64Counter
	updatesTotal      metric.Int64Counter
	integrityFailures metric.Int64Counter
	persistFailures   metric.Int64Counter
)

func init() {
	var err error
	storesTotal, err = meter.Int64Counter("learning_memory.stores.total",
		metric.WithDescription("Entities stored across all collections"))
	if err != nil {
		storesTotal, _ = meter.Int64Counter("learning_memory.stores.total.fallback")
	}

	updatesTotal, err = meter.Int64Counter("learning_memory.updates.total",
		metric.WithDescription("Adaptation update operations"))
	if err != nil {
		updatesTotal, _ = meter.Int64Counter("learning_memory.updates.total.fallback")
	}

	integrityFailures, err = meter.Int64Counter("learning_memory.integrity.failures",
		metric.WithDescription("Collections whose recomputed root diverged from the stored root"))
	if err != nil {
		integrityFailures, _ = meter.Int64Counter("learning_memory.integrity.failures.fallback")
	}

	persistFailures, err = meter.Int64Counter("learning_memory.persist.failures",
		metric.WithDescription("Snapshot persistence failures (non-fatal)"))
	if err != nil {
		persistFailures, _ = meter.Int64Counter("learning_memory.persist.failures.fallback")
	}
}

func withCollection(name string) metric.AddOption {
	return metric.WithAttributes(attribute.String("collection", name))
}
