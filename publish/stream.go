package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielorbach/go-component"
	"gocloud.dev/pubsub"

	trackmodel "github.com/go-digitaltwin/go-trackmodel"
)

// A Handler processes a decoded ChangeSet.
type Handler func(ctx context.Context, c ChangeSet) error

// ErrDiscontinuity is returned by a Stream that receives a ChangeSet whose
// GraphBefore does not match the GraphAfter of the previous one.
var ErrDiscontinuity = errors.New("discontinuity in change sets")

// Stream returns a component.Proc that continuously receives ChangeSet
// messages from the subscription and passes them to h, in order.
//
// The procedure stops fatally when a message cannot be decoded, when h fails,
// or when a change set does not follow its predecessor.
func Stream(sub *pubsub.Subscription, h Handler) component.Proc {
	return func(l *component.L) {
		var f follower
		for l.Continue() {
			msg, err := sub.Receive(l.Context())
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					// we're shutting down
					return
				}
				l.Fatal(fmt.Errorf("receive: %w", err))
			}
			// always ack, even if we fail to decode.
			// otherwise, we might get stuck processing
			// the same failed message
			msg.Ack()

			if err := f.handle(l.Context(), msg.Body, h); err != nil {
				l.Fatal(err)
			}
		}
	}
}

// follower decodes consecutive change sets and checks they chain.
type follower struct {
	last trackmodel.GraphHash
	seen bool
}

func (f *follower) handle(ctx context.Context, body []byte, h Handler) error {
	var c ChangeSet
	if err := decode(body, &c); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if f.seen && c.GraphBefore != f.last {
		return fmt.Errorf("%w: last handled %v, received %v", ErrDiscontinuity, f.last, c.GraphBefore)
	}
	if err := h(ctx, c); err != nil {
		return fmt.Errorf("process: %w", err)
	}
	f.last, f.seen = c.GraphAfter, true
	return nil
}
