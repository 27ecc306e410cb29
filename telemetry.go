package trackmodel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/go-trackmodel")
var meter = otel.Meter("github.com/go-digitaltwin/go-trackmodel")

const (
	// analyzerKind and analyzerKey label analyzer failure records so they can be
	// examined per phase and per analyzer.
	analyzerKind = "analyzer.kind"
	analyzerKey  = "analyzer.key"
)

var (
	// flushDuration measures a single flush, from track recomputation through
	// the dispatch of every event.
	flushDuration metric.Float64Histogram
	// flushFailures counts flushes in which at least one analyzer failed.
	flushFailures metric.Int64Counter
	// analyzerFailures counts individual analyzer failures.
	//
	// Each record is labeled with analyzerKind and analyzerKey.
	analyzerFailures metric.Int64Counter
)

func init() {
	var err error
	flushDuration, err = meter.Float64Histogram(
		"model.flush.duration",
		metric.WithDescription("The duration of a single model flush, including feature computation and event dispatch."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("trackmodel: failed to init 'model.flush.duration' instrument")
	}

	flushFailures, err = meter.Int64Counter(
		"model.flush.failures",
		metric.WithDescription("The number of model flushes in which an analyzer failed."),
	)
	if err != nil {
		panic("trackmodel: failed to init 'model.flush.failures' instrument")
	}

	analyzerFailures, err = meter.Int64Counter(
		"model.analyzer.failures",
		metric.WithDescription("The number of analyzer runs that have failed."),
	)
	if err != nil {
		panic("trackmodel: failed to init 'model.analyzer.failures' instrument")
	}
}

// measureFlush records the duration of a successful flush, or counts a failed
// one.
func measureFlush(ctx context.Context, succeeded bool, d time.Duration) {
	if succeeded {
		// floating-point division keeps sub-millisecond precision
		flushDuration.Record(ctx, float64(d)/float64(time.Millisecond))
	} else {
		flushFailures.Add(ctx, 1)
	}
}

func countAnalyzerFailure(ctx context.Context, kind, key string) {
	attrs := attribute.NewSet(
		attribute.String(analyzerKind, kind),
		attribute.String(analyzerKey, key),
	)
	analyzerFailures.Add(ctx, 1, metric.WithAttributeSet(attrs))
}
