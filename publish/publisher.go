package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/pubsub"

	trackmodel "github.com/go-digitaltwin/go-trackmodel"
)

// Publisher is a [trackmodel.ModelChangeListener] that publishes every
// consolidated change of a model as an encoded ChangeSet message.
//
// ModelChanged only encodes and queues the message; Flush, or the procedure
// returned by Exec, sends queued messages to the topic in the order the
// changes happened.
type Publisher struct {
	name  string
	model *trackmodel.Model
	topic *pubsub.Topic

	mu      sync.Mutex
	queue   []*pubsub.Message
	pending chan struct{}
}

// NewPublisher returns a Publisher of the changes of m to topic. The name
// labels the Publisher's telemetry (e.g. "microscope-1"). Register the
// Publisher with m.AddModelChangeListener.
func NewPublisher(name string, m *trackmodel.Model, topic *pubsub.Topic) *Publisher {
	return &Publisher{
		name:    name,
		model:   m,
		topic:   topic,
		pending: make(chan struct{}, 1),
	}
}

// ModelChanged implements trackmodel.ModelChangeListener.
func (p *Publisher) ModelChanged(e *trackmodel.ModelChangeEvent) {
	if e.Kind() != trackmodel.ModelModified {
		return
	}
	c := NewChangeSet(p.model, e)
	body, err := encode(c)
	if err != nil {
		// every field of a ChangeSet is gob-encodable, so this is a bug
		panic(fmt.Sprintf("publish: %v", err))
	}

	p.mu.Lock()
	p.queue = append(p.queue, &pubsub.Message{
		Body: body,
		Metadata: map[string]string{
			"graphBefore": c.GraphBefore.String(),
			"graphAfter":  c.GraphAfter.String(),
		},
	})
	p.mu.Unlock()

	select {
	case p.pending <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued messages.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Flush sends every queued message, oldest first. It stops at the first
// failure, keeping the failed message and those after it queued for the next
// call.
func (p *Publisher) Flush(ctx context.Context) (err error) {
	p.mu.Lock()
	batch := p.queue
	p.queue = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Publisher.Flush", trace.WithAttributes(
		attribute.Int("msg.count", len(batch)),
	))
	defer span.End()
	defer func(start time.Time) {
		measurePublish(ctx, p.name, err == nil, time.Since(start))
	}(time.Now())

	for i, msg := range batch {
		if err := p.topic.Send(ctx, msg); err != nil {
			p.mu.Lock()
			p.queue = append(batch[i:], p.queue...)
			p.mu.Unlock()
			err = fmt.Errorf("send: %w", err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

// Exec sends queued messages as they arrive until l stops, then sends what is
// left within the grace period.
func (p *Publisher) Exec(l *component.L) {
	logger := component.Logger(l.Context())
	for l.Continue() {
		select {
		case <-p.pending:
		case <-l.Context().Done():
			continue
		}
		if err := p.Flush(l.Context()); err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			logger.Error("Couldn't publish change sets", slog.Any("error", err), slog.Int("pending", p.Pending()))
			l.Fatal(err)
		}
	}

	if err := p.Flush(l.GraceContext()); err != nil {
		logger.Error("Change sets left unpublished at shutdown", slog.Any("error", err), slog.Int("pending", p.Pending()))
	}
}
