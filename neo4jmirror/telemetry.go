package neo4jmirror

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/go-trackmodel/neo4jmirror")
var meter = otel.Meter("github.com/go-digitaltwin/go-trackmodel/neo4jmirror")

var (
	// applyDuration measures the write transaction of a single change set.
	applyDuration metric.Float64Histogram
	// corruptionCounter counts how many times a write found the mirrored graph
	// violating its own constraints.
	corruptionCounter metric.Int64Counter
)

func init() {
	var err error
	applyDuration, err = meter.Float64Histogram(
		"mirror.apply.duration",
		metric.WithDescription("The duration of writing a single ChangeSet to neo4j."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(fmt.Sprintf("neo4jmirror: failed to init 'mirror.apply.duration' instrument: %v", err))
	}

	corruptionCounter, err = meter.Int64Counter(
		"mirror.corruption.count",
		metric.WithDescription("how many times a write has found the mirrored graph corrupted"),
	)
	if err != nil {
		panic(fmt.Sprintf("neo4jmirror: failed to init 'mirror.corruption.count' instrument: %v", err))
	}
}

func measureApply(ctx context.Context, database string, succeeded bool, d time.Duration) {
	attrs := attribute.NewSet(
		attribute.String("neo4j.database", database),
		attribute.Bool("success", succeeded),
	)
	applyDuration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributeSet(attrs))
}
