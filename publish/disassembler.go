package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/pubsub"
	"golang.org/x/sync/errgroup"
)

type disassembler struct {
	modelName string
	source    *pubsub.Subscription
	sink      *pubsub.Topic
}

// NewDisassembler returns a [component.Procedure] that disassembles change sets
// of an entire model (received from the given source) into individual track
// change notifications and publishes them to the specified sink.
//
// It consumes ChangeSet notifications and produces TrackChanged
// notifications.
//
// The disassembler measures the duration of processing each change set and
// labels each measurement record with the provided model name (e.g.
// "microscope-1").
func NewDisassembler(modelName string, source *pubsub.Subscription, sink *pubsub.Topic) component.Procedure {
	return disassembler{
		modelName: modelName,
		source:    source,
		sink:      sink,
	}
}

func (d disassembler) Exec(l *component.L) {
	logger := component.Logger(l.Context())
	for l.Continue() {
		msg, err := d.source.Receive(l.GraceContext())
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return
			}
			// A non-retryable error of the driver; the subscription is unusable.
			l.Fatal(fmt.Errorf("receive: %w", err))
		}

		err = d.handleMessage(l.GraceContext(), logger, msg)
		if err != nil {
			// Track changes of a change set must all be published before the next
			// change set is disassembled, so we stop and let the message be
			// redelivered.
			logger.Error("Couldn't handle ChangeSet message",
				slog.Any("error", err),
			)
			l.Fatal(fmt.Errorf("handle %s: %w", msg.LoggableID, err))
		}

		// at-least-once: unacknowledged change sets are redelivered
		msg.Ack()
	}
}

// handleMessage disassembles a ChangeSet message into TrackChanged messages and
// publishes them. It returns an error if it fails to publish even a single
// TrackChanged message.
func (d disassembler) handleMessage(ctx context.Context, logger *slog.Logger, msg *pubsub.Message) (err error) {
	ctx, span := tracer.Start(ctx, "disassembler.handleMessage", trace.WithAttributes(
		attribute.String("msg.id", msg.LoggableID),
		attribute.String("model.name", d.modelName),
	))
	defer span.End()

	defer func(start time.Time) {
		measureDisassembly(ctx, d.modelName, err == nil, time.Since(start))
	}(time.Now())

	var changed ChangeSet
	if err := decode(msg.Body, &changed); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if changed.IsEmpty() {
		logger.Info("Skipped a ChangeSet without changes", slog.Any("graph-hash", changed.GraphBefore))
		return nil
	}

	logger = logger.With(
		slog.Any("graph-before-hash", changed.GraphBefore),
		slog.Any("graph-after-hash", changed.GraphAfter),
	)
	logger.Debug("Disassembling change set into track changes...")

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range disassemble(changed) {
		g.Go(func() error {
			return d.notifyChange(ctx, logger, c)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("send track changes: %w", err)
	}
	logger.Info("ChangeSet disassembled", slog.Int("updated", len(changed.Updated)), slog.Int("removed", len(changed.Removed)))
	return nil
}

func (d disassembler) notifyChange(ctx context.Context, logger *slog.Logger, c TrackChanged) error {
	ctx, span := tracer.Start(ctx, "disassembler.notifyChange", trace.WithAttributes(
		attribute.Stringer("graph.hash", c.GraphHash),
		attribute.Int("track.id", int(c.Track.ID)),
	))
	defer span.End()

	logger = logger.With(slog.Any("track-id", c.Track.ID))
	body, err := encode(c)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	// The track label is the message key, so brokers that partition by key
	// deliver the changes of a track in order.
	msg := &pubsub.Message{Body: body, Metadata: map[string]string{"trackID": strconv.Itoa(int(c.Track.ID))}}
	if err := d.sink.Send(ctx, msg); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("send %v: %w", c.Track.ID, err)
	}
	logger.Debug("Sent TrackChanged message")
	return nil
}
