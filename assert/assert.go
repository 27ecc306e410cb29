/*
Package assert provides syntax sugar for linking spots of a track model
according to common patterns: one-to-one, one-to-many, many-to-one, and
many-to-many associations between consecutive detections.

A relationship constrains the links of a spot to the spots of one other frame.
For example, a one-to-one link between a spot of frame 3 and a spot of frame 4
means neither spot links to any other spot of the other's frame, so the track
neither splits nor merges there. One-to-many allows the source to split,
many-to-one allows the target to merge.

Each assertion applies within a single model transaction, so listeners observe
it as one change.
*/
package assert

import (
	"context"
	"errors"
	"fmt"

	trackmodel "github.com/go-digitaltwin/go-trackmodel"
)

// ErrRejected is returned when the model refuses a link, e.g. because a spot
// is not in the model or the link would be a self-loop.
var ErrRejected = errors.New("link rejected")

// Links extends the given model. It returns a type that supports assertions of
// the common relationships.
//
// When asserting relationships between spots, the relation must hold for all
// links between the same two frames. That is, every source spot of frame A and
// target spot of frame B must always be linked with the same relationship
// assertion.
//
// Assertions return an *IntegrityError, changing nothing, if the links of
// either spot already violate the relationship. The model is not otherwise
// inspected; too many links to a frame only hint that different relationships
// were asserted for the same frames.
func Links(m *trackmodel.Model) linkWriter {
	return linkWriter{m}
}

type linkWriter struct {
	m *trackmodel.Model
}

// OneToOne asserts that a strict one-to-one relationship exists between the
// given source and target spots.
//
// To maintain the one-to-one relationship between the two given spots, any
// prior links are adjusted. Specifically:
//
//   - Links from the given source to any spot of the target's frame are
//     removed.
//   - Links to the given target from any spot of the source's frame are
//     removed.
//
// An existing link between the two spots is kept, with the given weight.
func (a linkWriter) OneToOne(ctx context.Context, source, target *trackmodel.Spot, weight float64) error {
	return a.assert(ctx, "one-to-one", source, target, weight, true, true)
}

// OneToMany asserts that a strict one-to-many relationship exists between the
// given source and target spots: the source may link to many spots of the
// target's frame, but the target is linked from the source alone.
//
//   - Links from the given source to any spot of the target's frame are
//     retained.
//   - Links to the given target from any spot of the source's frame are
//     removed.
func (a linkWriter) OneToMany(ctx context.Context, source, target *trackmodel.Spot, weight float64) error {
	return a.assert(ctx, "one-to-many", source, target, weight, false, true)
}

// ManyToOne asserts that a strict many-to-one relationship exists between the
// given source and target spots: the target may be linked from many spots of
// the source's frame, but the source links to the target alone.
//
//   - Links from the given source to any spot of the target's frame are
//     removed.
//   - Links to the given target from any spot of the source's frame are
//     retained.
func (a linkWriter) ManyToOne(ctx context.Context, source, target *trackmodel.Spot, weight float64) error {
	return a.assert(ctx, "many-to-one", source, target, weight, true, false)
}

// ManyToMany asserts that a link connects the given source and target spots.
// No prior links are adjusted, so it never returns an *IntegrityError.
func (a linkWriter) ManyToMany(ctx context.Context, source, target *trackmodel.Spot, weight float64) error {
	return a.assert(ctx, "many-to-many", source, target, weight, false, false)
}

func (a linkWriter) assert(ctx context.Context, relationship string, source, target *trackmodel.Spot, weight float64, fromSource, toTarget bool) error {
	return a.m.Update(ctx, func() error {
		g := a.m.Graph()
		var stale []trackmodel.EdgeID
		if fromSource {
			ids := a.linksToFrame(source, g.OutgoingEdges(source), g.EdgeTarget, target.Frame())
			if len(ids) > 1 {
				return &IntegrityError{Relationship: relationship, Direction: "from source", Links: len(ids)}
			}
			stale = append(stale, except(ids, g.EdgeTarget, target)...)
		}
		if toTarget {
			ids := a.linksToFrame(target, g.IncomingEdges(target), g.EdgeSource, source.Frame())
			if len(ids) > 1 {
				return &IntegrityError{Relationship: relationship, Direction: "to target", Links: len(ids)}
			}
			stale = append(stale, except(ids, g.EdgeSource, source)...)
		}

		for _, id := range stale {
			a.m.RemoveEdge(id)
		}
		if id, ok := g.EdgeBetween(source, target); ok {
			a.m.SetEdgeWeight(id, weight)
			return nil
		}
		if _, ok := a.m.AddEdge(source, target, weight); !ok {
			return fmt.Errorf("%w: %v -> %v", ErrRejected, source, target)
		}
		return nil
	})
}

// linksToFrame filters the links of a spot to those whose other end, as given
// by end, is in the given frame.
func (a linkWriter) linksToFrame(s *trackmodel.Spot, links []trackmodel.EdgeID, end func(trackmodel.EdgeID) *trackmodel.Spot, frame int) []trackmodel.EdgeID {
	var ids []trackmodel.EdgeID
	for _, id := range links {
		if end(id).Frame() == frame {
			ids = append(ids, id)
		}
	}
	return ids
}

func except(ids []trackmodel.EdgeID, end func(trackmodel.EdgeID) *trackmodel.Spot, keep *trackmodel.Spot) []trackmodel.EdgeID {
	var out []trackmodel.EdgeID
	for _, id := range ids {
		if end(id) != keep {
			out = append(out, id)
		}
	}
	return out
}

// An IntegrityError reports that the links of a spot violate the relationship
// being asserted, probably because a different relationship was asserted for
// the same frames earlier.
type IntegrityError struct {
	Relationship string // one of "one-to-one", "one-to-many", "many-to-one"
	Direction    string // either "from source" or "to target"
	Links        int    // number of links found to the other frame
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("inconsistent graph detected: relationship %v was violated with %v links %v", e.Relationship, e.Links, e.Direction)
}
