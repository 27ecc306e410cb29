/*
Package edit records manual edits of a track model so they can be stored,
transmitted, and applied consistently to another model.

The package provides a [Recorder] for collecting edit steps and a [Replay]
function for applying them. Steps refer to spots by their identifier rather
than by pointer, so a recording made against one model replays against any
model holding spots with the same identifiers, typically one restored from
the same source in another process.

Replay applies all the steps of a recording in a single transaction, so the
model analyses the outcome once and its listeners observe a single change
event, whatever the number of steps.
*/
package edit

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"

	trackmodel "github.com/go-digitaltwin/go-trackmodel"
)

// ErrUnknownSpot is returned when a step refers to a spot the model does not
// hold.
var ErrUnknownSpot = errors.New("unknown spot")

// ErrRejected is returned when the model refuses a step, for example a link
// from a spot to itself.
var ErrRejected = errors.New("edit rejected")

// Step represents a single edit of a track model.
//
// All Step implementations must be registered with gob to be encoded; the
// steps of this package register themselves.
type Step interface {
	// Do applies the edit to the model. It is called inside a transaction.
	Do(context.Context, *trackmodel.Model) error
	// Targets returns the identifiers of the spots this Step affects.
	Targets() iter.Seq[uuid.UUID]
}

// Encode serialises a slice of Steps for storage or transmission.
func Encode(s []Step) (data []byte, err error) {
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)
	if err := encoder.Encode(s); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reconstructs a slice of Steps from data returned by Encode.
func Decode(data []byte) (steps []Step, err error) {
	var s []Step
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return s, nil
}

// Recorder collects a sequence of edits. Each edit is stored as a separate
// [Step] in the order it was recorded.
//
// The zero value of Recorder is ready to use. Do not copy a non-zero Recorder.
type Recorder struct {
	steps []Step
}

// Reset clears all accumulated steps.
func (r *Recorder) Reset() {
	r.steps = nil
}

// Steps returns a copy of the recorded steps.
func (r *Recorder) Steps() []Step {
	s := make([]Step, len(r.steps))
	copy(s, r.steps)
	return s
}

// Len returns the number of recorded steps.
func (r *Recorder) Len() int {
	return len(r.steps)
}

// Replay applies the steps to the model, in order, inside a single
// transaction.
//
// If any step fails, the remaining steps are skipped and the error is
// returned, along with any analyzer failure of the flush. The steps applied
// before the failure are kept: the transaction still closes and flushes, so
// the model stays consistent with what was applied.
func Replay(ctx context.Context, m *trackmodel.Model, steps []Step) error {
	return m.Update(ctx, func() error {
		for i, step := range steps {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := step.Do(ctx, m); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
		return nil
	})
}

// Targets iterates over all spots affected by the provided steps, yielding
// each identifier once.
func Targets(steps []Step) iter.Seq[uuid.UUID] {
	return func(yield func(uuid.UUID) bool) {
		var seen = make(map[uuid.UUID]struct{})
		for _, step := range steps {
			for target := range step.Targets() {
				if _, ok := seen[target]; ok {
					continue
				}
				seen[target] = struct{}{}
				if !yield(target) {
					return
				}
			}
		}
	}
}

// AddSpot records the creation of a spot in the given frame.
//
// When replayed, the spot is created with the identifier, name and features
// of s unless the model already holds a spot with that identifier, in which
// case the step does nothing.
func (r *Recorder) AddSpot(s *trackmodel.Spot, frame int) {
	r.steps = append(r.steps, addSpot{ID: s.ID(), Name: s.Name(), Frame: frame, Features: s.Features()})
}

// RemoveSpot records the removal of a spot along with all its links.
func (r *Recorder) RemoveSpot(id uuid.UUID) {
	r.steps = append(r.steps, removeSpot{ID: id})
}

// MoveSpot records moving a spot to another frame.
func (r *Recorder) MoveSpot(id uuid.UUID, to int) {
	r.steps = append(r.steps, moveSpot{ID: id, To: to})
}

// UpdateFeatures records new values for some features of a spot. Features not
// named are left as they are.
func (r *Recorder) UpdateFeatures(id uuid.UUID, features map[string]float64) {
	r.steps = append(r.steps, updateFeatures{ID: id, Features: features})
}

// Link records a new directed link from source to target.
func (r *Recorder) Link(source, target uuid.UUID, weight float64) {
	r.steps = append(r.steps, link{Source: source, Target: target, Weight: weight})
}

// Unlink records the removal of the oldest link from source to target. When
// replayed, the step does nothing if there is no such link.
func (r *Recorder) Unlink(source, target uuid.UUID) {
	r.steps = append(r.steps, unlink{Source: source, Target: target})
}

// SetWeight records a new weight for the oldest link from source to target.
func (r *Recorder) SetWeight(source, target uuid.UUID, weight float64) {
	r.steps = append(r.steps, setWeight{Source: source, Target: target, Weight: weight})
}

// LinkExclusive records a one-to-one link from source to target.
//
// When replayed, prior links are adjusted so that the link is the only one
// leaving source and the only one entering target:
//
//   - Links from source to any other spot are removed.
//   - Links to target from any other spot are removed.
//   - Of several links from source to target only the oldest is kept, with
//     the new weight; if there is none, a link is created.
//
// Links entering source or leaving target are not affected.
func (r *Recorder) LinkExclusive(source, target uuid.UUID, weight float64) {
	r.steps = append(r.steps, linkExclusive{Source: source, Target: target, Weight: weight})
}
