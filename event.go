package trackmodel

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// SpotFlag tells how a spot changed during a transaction. Flags combine: a
// spot added and then updated within the same transaction is
// SpotAdded|SpotModified.
type SpotFlag uint8

const (
	SpotAdded SpotFlag = 1 << iota
	SpotRemoved
	SpotFrameChanged
	SpotModified
)

func (f SpotFlag) Has(x SpotFlag) bool { return f&x == x }

func (f SpotFlag) String() string {
	return formatFlags(uint8(f), []string{"ADDED", "REMOVED", "FRAME_CHANGED", "MODIFIED"})
}

// EdgeFlag tells how a link changed during a transaction. Flags combine like
// SpotFlag.
type EdgeFlag uint8

const (
	EdgeAdded EdgeFlag = 1 << iota
	EdgeRemoved
	EdgeModified
)

func (f EdgeFlag) Has(x EdgeFlag) bool { return f&x == x }

func (f EdgeFlag) String() string {
	return formatFlags(uint8(f), []string{"ADDED", "REMOVED", "MODIFIED"})
}

func formatFlags(f uint8, names []string) string {
	var parts []string
	for i, name := range names {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// EventKind discriminates the consolidated change record from the simple
// events queued during a transaction.
type EventKind int

const (
	// ModelModified is the consolidated record of spot and link changes.
	ModelModified EventKind = iota
	// SpotsComputed follows a wholesale replacement of the spot collection.
	SpotsComputed
	// SpotsFiltered follows a change of the spot filters.
	SpotsFiltered
	// TracksComputed follows an explicit request to recompute tracks.
	TracksComputed
	// TracksVisibilityChanged follows a change of the visible track set.
	TracksVisibilityChanged
)

func (k EventKind) String() string {
	switch k {
	case ModelModified:
		return "MODEL_MODIFIED"
	case SpotsComputed:
		return "SPOTS_COMPUTED"
	case SpotsFiltered:
		return "SPOTS_FILTERED"
	case TracksComputed:
		return "TRACKS_COMPUTED"
	case TracksVisibilityChanged:
		return "TRACKS_VISIBILITY_CHANGED"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// EdgeChange describes a link touched by a transaction. For removed links the
// endpoints, weight and track are the last known values.
type EdgeChange struct {
	ID     EdgeID
	Source *Spot
	Target *Spot
	Weight float64
	Track  TrackID
	Flags  EdgeFlag
}

// ModelChangeEvent is the notification observers receive once per flush. For
// kind ModelModified it carries every spot and link touched by the transaction;
// the other kinds carry no payload besides the timestamp and graph hashes.
//
// A ModelChangeEvent is never modified after it is dispatched. Accessors
// return copies.
type ModelChangeEvent struct {
	kind          EventKind
	spots         []*Spot
	spotFlags     map[*Spot]SpotFlag
	edges         []EdgeChange
	edgeIndex     map[EdgeID]int
	tracksUpdated []TrackID
	tracksRemoved []TrackID
	graphBefore   GraphHash
	graphAfter    GraphHash
	timestamp     time.Time
}

func newSimpleEvent(kind EventKind, graph GraphHash, ts time.Time) *ModelChangeEvent {
	return &ModelChangeEvent{kind: kind, graphBefore: graph, graphAfter: graph, timestamp: ts}
}

func (e *ModelChangeEvent) Kind() EventKind { return e.kind }

// Spots returns the changed spots: added spots first, then removed, moved and
// updated ones, each group in the order of the edits.
func (e *ModelChangeEvent) Spots() []*Spot { return slices.Clone(e.spots) }

// SpotFlag returns the flags of a spot, zero if the spot did not change.
func (e *ModelChangeEvent) SpotFlag(s *Spot) SpotFlag { return e.spotFlags[s] }

// Edges returns the changed links: added links first, then removed and
// modified ones, each group in the order of the edits.
func (e *ModelChangeEvent) Edges() []EdgeChange { return slices.Clone(e.edges) }

// Edge returns the change of a single link.
func (e *ModelChangeEvent) Edge(id EdgeID) (EdgeChange, bool) {
	i, ok := e.edgeIndex[id]
	if !ok {
		return EdgeChange{}, false
	}
	return e.edges[i], true
}

// EdgeFlag returns the flags of a link, zero if the link did not change.
func (e *ModelChangeEvent) EdgeFlag(id EdgeID) EdgeFlag {
	c, _ := e.Edge(id)
	return c.Flags
}

// TracksUpdated returns the labels of tracks observers should refresh: newly
// created tracks, retained tracks whose links changed, and tracks owning
// modified links.
func (e *ModelChangeEvent) TracksUpdated() []TrackID { return slices.Clone(e.tracksUpdated) }

// TracksRemoved returns the labels that ceased to exist in this flush.
func (e *ModelChangeEvent) TracksRemoved() []TrackID { return slices.Clone(e.tracksRemoved) }

func (e *ModelChangeEvent) GraphBefore() GraphHash { return e.graphBefore }

func (e *ModelChangeEvent) GraphAfter() GraphHash { return e.graphAfter }

// Timestamp returns the time, in UTC, at which the flush computed the record.
func (e *ModelChangeEvent) Timestamp() time.Time { return e.timestamp }

func (e *ModelChangeEvent) String() string {
	if e.kind != ModelModified {
		return e.kind.String()
	}
	return fmt.Sprintf("%v: %d spots, %d edges, %d tracks updated, %d tracks removed",
		e.kind, len(e.spots), len(e.edges), len(e.tracksUpdated), len(e.tracksRemoved))
}

// A ModelChangeListener receives change events synchronously, in registration
// order, from the goroutine that closed the transaction. Listeners must not
// mutate the model they listen to from inside ModelChanged.
type ModelChangeListener interface {
	ModelChanged(e *ModelChangeEvent)
}

// ModelChangeListenerFunc adapts a function to a ModelChangeListener.
type ModelChangeListenerFunc func(e *ModelChangeEvent)

func (f ModelChangeListenerFunc) ModelChanged(e *ModelChangeEvent) { f(e) }

// FormatChanges returns a human-readable representation of the event.
// The indent string is prepended to each line.
func FormatChanges(e *ModelChangeEvent, indent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, indent+"%v at %v\n", e.kind, e.timestamp.Format(time.RFC3339Nano))
	fmt.Fprintf(&b, indent+"baseline snapshot: %v\n", e.graphBefore)
	for _, s := range e.spots {
		fmt.Fprintf(&b, indent+"  %v [%v] frame %d\n", s, e.spotFlags[s], s.Frame())
	}
	for _, c := range e.edges {
		fmt.Fprintf(&b, indent+"  %v %v -> %v (%g) [%v]\n", c.ID, c.Source, c.Target, c.Weight, c.Flags)
	}
	for _, id := range e.tracksUpdated {
		fmt.Fprintf(&b, indent+"* %v\n", id)
	}
	for _, id := range e.tracksRemoved {
		fmt.Fprintf(&b, indent+"- %v\n", id)
	}
	fmt.Fprintf(&b, indent+"current snapshot: %v\n", e.graphAfter)
	return b.String()
}
