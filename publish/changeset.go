/*
Package publish exports the change events of a track model to a pubsub topic,
so that processes other than the one editing the model can follow it.

A [Publisher] listens to a model and encodes every consolidated change event
into a [ChangeSet] message. Messages are queued synchronously, in order, and
sent by the Publisher's procedure so that listeners never block on the
network. A disassembler (see [NewDisassembler]) splits change sets into
per-track [TrackChanged] messages keyed by track, and [Stream] consumes change
sets on the other side.

All messages are encoded with gob.
*/
package publish

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/google/uuid"

	trackmodel "github.com/go-digitaltwin/go-trackmodel"
)

// SpotState is a snapshot of a spot as of the flush that produced a ChangeSet.
type SpotState struct {
	ID       uuid.UUID
	Name     string
	Frame    int
	Features map[string]float64
	Flags    trackmodel.SpotFlag
}

// IsRemoved reports whether the spot left the model; its other fields hold
// its last known state.
func (s SpotState) IsRemoved() bool { return s.Flags.Has(trackmodel.SpotRemoved) }

// EdgeState is a snapshot of a link. Removed links keep their last known
// endpoints, weight and track.
type EdgeState struct {
	ID             trackmodel.EdgeID
	Source, Target uuid.UUID
	Weight         float64
	Track          trackmodel.TrackID
	Flags          trackmodel.EdgeFlag
	Features       map[string]float64
}

// IsRemoved reports whether the link no longer exists.
func (e EdgeState) IsRemoved() bool { return e.Flags.Has(trackmodel.EdgeRemoved) }

// TrackState is a snapshot of a track: its structure and its features.
type TrackState struct {
	ID       trackmodel.TrackID
	Hash     trackmodel.TrackHash
	Visible  bool
	Spots    []uuid.UUID // ordered by frame
	Edges    []trackmodel.EdgeID
	Features map[string]float64
}

// ChangeSet notifies about one consolidated change of a track model: the spots
// and links touched by a transaction, the tracks they created or changed, and
// the tracks that ceased to exist.
//
// GraphBefore and GraphAfter chain consecutive change sets; a consumer that
// receives a GraphBefore different from the GraphAfter it last handled has
// missed a change set.
type ChangeSet struct {
	Spots   []SpotState
	Edges   []EdgeState
	Updated []TrackState
	Removed []trackmodel.TrackID

	GraphBefore trackmodel.GraphHash
	GraphAfter  trackmodel.GraphHash
	// The time, in UTC, the flush computed the change. The information in this
	// message is accurate up to this timestamp, not a moment afterward.
	Timestamp time.Time
}

// IsEmpty reports whether the change set carries no change at all.
func (c ChangeSet) IsEmpty() bool {
	return c.GraphBefore == c.GraphAfter && len(c.Spots) == 0 && len(c.Edges) == 0
}

// NewChangeSet snapshots a ModelModified event of m. It must be called while
// the event is current, typically from a ModelChangeListener, since feature
// values are read from the model rather than from the event.
func NewChangeSet(m *trackmodel.Model, e *trackmodel.ModelChangeEvent) ChangeSet {
	c := ChangeSet{
		Removed:     e.TracksRemoved(),
		GraphBefore: e.GraphBefore(),
		GraphAfter:  e.GraphAfter(),
		Timestamp:   e.Timestamp(),
	}
	for _, s := range e.Spots() {
		c.Spots = append(c.Spots, SpotState{
			ID:       s.ID(),
			Name:     s.Name(),
			Frame:    s.Frame(),
			Features: s.Features(),
			Flags:    e.SpotFlag(s),
		})
	}
	for _, x := range e.Edges() {
		state := EdgeState{
			ID:     x.ID,
			Weight: x.Weight,
			Track:  x.Track,
			Flags:  x.Flags,
		}
		if x.Source != nil {
			state.Source = x.Source.ID()
		}
		if x.Target != nil {
			state.Target = x.Target.ID()
		}
		if !state.IsRemoved() {
			state.Features = m.Features().EdgeFeatures(x.ID)
		}
		c.Edges = append(c.Edges, state)
	}
	for _, id := range e.TracksUpdated() {
		if t, ok := snapshotTrack(m, id); ok {
			c.Updated = append(c.Updated, t)
		}
	}
	return c
}

func snapshotTrack(m *trackmodel.Model, id trackmodel.TrackID) (TrackState, bool) {
	g := m.Graph()
	hash, ok := g.TrackHash(id)
	if !ok {
		return TrackState{}, false
	}
	t := TrackState{
		ID:       id,
		Hash:     hash,
		Visible:  g.IsVisible(id),
		Edges:    g.TrackEdges(id),
		Features: m.Features().TrackFeatures(id),
	}
	for _, s := range g.TrackSpots(id) {
		t.Spots = append(t.Spots, s.ID())
	}
	return t, true
}

// TrackChanged notifies about a change of a single track. The changes can be:
//   - A track is updated: created, or its spots, links or features changed.
//   - A track is removed.
//
// For removed tracks only Track.ID is set.
type TrackChanged struct {
	Track   TrackState
	Removed bool
	// GraphHash is the hash of the entire graph after the change. It
	// corresponds to the ChangeSet.GraphAfter of the change set this track
	// change is a part of.
	GraphHash trackmodel.GraphHash
	Timestamp time.Time
}

// IsRemoved returns true if the track no longer exists.
func (c TrackChanged) IsRemoved() bool { return c.Removed }

// disassemble splits a ChangeSet into TrackChanged messages, updated tracks
// first.
func disassemble(c ChangeSet) (changes []TrackChanged) {
	for _, t := range c.Updated {
		changes = append(changes, TrackChanged{
			Track:     t,
			GraphHash: c.GraphAfter,
			Timestamp: c.Timestamp,
		})
	}
	for _, id := range c.Removed {
		changes = append(changes, TrackChanged{
			Track:     TrackState{ID: id},
			Removed:   true,
			GraphHash: c.GraphAfter,
			Timestamp: c.Timestamp,
		})
	}
	return changes
}

func encode(v any) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(v); err != nil {
		return nil, fmt.Errorf("encode gob: %w", err)
	}
	return b.Bytes(), nil
}

func decode(p []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(v); err != nil {
		return fmt.Errorf("decode gob: %w", err)
	}
	return nil
}
