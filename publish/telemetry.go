package publish

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/go-trackmodel/publish")
var meter = otel.Meter("github.com/go-digitaltwin/go-trackmodel/publish")

const (
	// modelName is the attribute key associating each record with the model it
	// is about, so measurements can be examined across models or per model.
	modelName = "trackmodel"
)

var (
	// publishDuration measures a single Publisher flush, including the time it
	// took to send every queued ChangeSet message.
	publishDuration metric.Float64Histogram
	// publishFailures counts Publisher flushes that failed to send a message.
	publishFailures metric.Int64Counter
	// disassemblyDuration measures a single ChangeSet disassembly, including the
	// duration it took to produce the entire set of TrackChanged messages.
	disassemblyDuration metric.Float64Histogram
	// disassemblyFailures counts failed disassembly processes.
	disassemblyFailures metric.Int64Counter
)

func init() {
	var err error
	publishDuration, err = meter.Float64Histogram(
		"changeSet.publish.duration",
		metric.WithDescription("The duration of sending queued ChangeSet messages."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("publish: failed to init 'changeSet.publish.duration' instrument")
	}

	publishFailures, err = meter.Int64Counter(
		"changeSet.publish.failures",
		metric.WithDescription("The number of publisher flushes that have failed."),
	)
	if err != nil {
		panic("publish: failed to init 'changeSet.publish.failures' instrument")
	}

	disassemblyDuration, err = meter.Float64Histogram(
		"changeSet.disassembly.duration",
		metric.WithDescription("The duration of a single ChangeSet disassembly, including the duration it took to produce (to pubsub service) the entire set of TrackChanged messages."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("publish: failed to init 'changeSet.disassembly.duration' instrument")
	}

	disassemblyFailures, err = meter.Int64Counter(
		"changeSet.disassembly.failures",
		metric.WithDescription("The number of disassembly processes that have failed."),
	)
	if err != nil {
		panic("publish: failed to init 'changeSet.disassembly.failures' instrument")
	}
}

func measurePublish(ctx context.Context, name string, succeeded bool, d time.Duration) {
	record(ctx, publishDuration, publishFailures, name, succeeded, d)
}

func measureDisassembly(ctx context.Context, name string, succeeded bool, d time.Duration) {
	record(ctx, disassemblyDuration, disassemblyFailures, name, succeeded, d)
}

// record adds the duration of a successful run to the histogram, or counts a
// failed one. Records are labeled with the model name.
func record(ctx context.Context, h metric.Float64Histogram, c metric.Int64Counter, name string, succeeded bool, d time.Duration) {
	attrs := attribute.NewSet(attribute.String(modelName, name))
	if succeeded {
		// floating-point division keeps sub-millisecond precision
		h.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributeSet(attrs))
	} else {
		c.Add(ctx, 1, metric.WithAttributeSet(attrs))
	}
}
