package trackmodel

import (
	"maps"
	"slices"
	"strconv"
)

// EdgeID is a stable handle on a link of a TrackGraph. Handles are never
// reused, so an EdgeID of a removed link keeps referring to that link in
// change records.
type EdgeID uint64

func (id EdgeID) String() string { return "edge(" + strconv.FormatUint(uint64(id), 10) + ")" }

// TrackID labels a track, i.e. a connected component of the graph. Labels are
// assigned when tracks are computed and never reused.
type TrackID int

// NoTrack is returned where a link or spot belongs to no track.
const NoTrack TrackID = -1

func (id TrackID) String() string { return "track#" + strconv.Itoa(int(id)) }

// A Link is a directed weighted edge between two spots.
type Link struct {
	Source, Target *Spot
	Weight         float64
}

type removedLink struct {
	Link
	track TrackID
}

type track struct {
	spots []*Spot
	edges []EdgeID
	hash  TrackHash
}

// TrackDelta summarises a track computation relative to the previous one.
type TrackDelta struct {
	Created []TrackID // labels that did not exist before
	Changed []TrackID // retained labels whose links changed
	Removed []TrackID // labels that no longer exist
}

// TrackGraph is a directed multigraph over spots. Links are held in an arena
// keyed by EdgeID; vertices only keep the set of their incident handles.
//
// Structural changes (links added, removed or modified) accumulate in three
// dirty sets until ClearChanges. Tracks are recomputed explicitly with
// ComputeTracksFromGraph, treating links as undirected.
type TrackGraph struct {
	vertices *orderedSet[*Spot]
	incident map[*Spot]*orderedSet[EdgeID]
	links    map[EdgeID]Link
	lastEdge EdgeID

	tracks      map[TrackID]*track
	order       []TrackID
	trackOfSpot map[*Spot]TrackID
	trackOfEdge map[EdgeID]TrackID
	nextTrack   TrackID
	visible     map[TrackID]bool

	added     *orderedSet[EdgeID]
	removed   *orderedSet[EdgeID]
	modified  *orderedSet[EdgeID]
	graveyard map[EdgeID]removedLink
}

func NewTrackGraph() *TrackGraph {
	return &TrackGraph{
		vertices:    newOrderedSet[*Spot](),
		incident:    make(map[*Spot]*orderedSet[EdgeID]),
		links:       make(map[EdgeID]Link),
		tracks:      make(map[TrackID]*track),
		trackOfSpot: make(map[*Spot]TrackID),
		trackOfEdge: make(map[EdgeID]TrackID),
		visible:     make(map[TrackID]bool),
		added:       newOrderedSet[EdgeID](),
		removed:     newOrderedSet[EdgeID](),
		modified:    newOrderedSet[EdgeID](),
		graveyard:   make(map[EdgeID]removedLink),
	}
}

// AddVertex registers s in the graph and reports whether it was absent.
func (g *TrackGraph) AddVertex(s *Spot) bool {
	if !g.vertices.Add(s) {
		return false
	}
	g.incident[s] = newOrderedSet[EdgeID]()
	return true
}

func (g *TrackGraph) HasVertex(s *Spot) bool {
	return g.vertices.Has(s)
}

// RemoveVertex removes every link incident to s, recording each one as
// removed, and then s itself.
func (g *TrackGraph) RemoveVertex(s *Spot) bool {
	edges, ok := g.incident[s]
	if !ok {
		return false
	}
	for _, id := range edges.Items() {
		g.RemoveEdge(id)
	}
	delete(g.incident, s)
	g.vertices.Remove(s)
	return true
}

// Vertices returns the spots of the graph in insertion order.
func (g *TrackGraph) Vertices() []*Spot {
	return g.vertices.Items()
}

// AddEdge links source to target. It fails when either spot is not a vertex
// or when both are the same spot.
func (g *TrackGraph) AddEdge(source, target *Spot, weight float64) (EdgeID, bool) {
	if source == target || !g.HasVertex(source) || !g.HasVertex(target) {
		return 0, false
	}
	g.lastEdge++
	id := g.lastEdge
	g.links[id] = Link{Source: source, Target: target, Weight: weight}
	g.incident[source].Add(id)
	g.incident[target].Add(id)
	g.added.Add(id)
	return id, true
}

// RemoveEdge removes the link and records it as removed. It returns false if
// the link does not exist.
func (g *TrackGraph) RemoveEdge(id EdgeID) bool {
	l, ok := g.links[id]
	if !ok {
		return false
	}
	delete(g.links, id)
	g.incident[l.Source].Remove(id)
	g.incident[l.Target].Remove(id)

	trackID, ok := g.trackOfEdge[id]
	if !ok {
		trackID = NoTrack
	}
	g.graveyard[id] = removedLink{Link: l, track: trackID}
	g.removed.Add(id)
	return true
}

// RemoveEdgeBetween removes the oldest link going from source to target.
func (g *TrackGraph) RemoveEdgeBetween(source, target *Spot) (EdgeID, bool) {
	id, ok := g.EdgeBetween(source, target)
	if !ok {
		return 0, false
	}
	return id, g.RemoveEdge(id)
}

// EdgeBetween returns the oldest link going from source to target.
func (g *TrackGraph) EdgeBetween(source, target *Spot) (EdgeID, bool) {
	edges, ok := g.incident[source]
	if !ok {
		return 0, false
	}
	var found bool
	var oldest EdgeID
	for id := range edges.All() {
		l := g.links[id]
		if l.Source == source && l.Target == target && (!found || id < oldest) {
			oldest, found = id, true
		}
	}
	return oldest, found
}

// SetEdgeWeight changes the weight of a link without marking it modified.
func (g *TrackGraph) SetEdgeWeight(id EdgeID, weight float64) bool {
	l, ok := g.links[id]
	if !ok {
		return false
	}
	l.Weight = weight
	g.links[id] = l
	return true
}

// MarkModified records a live link as modified.
func (g *TrackGraph) MarkModified(id EdgeID) bool {
	if _, ok := g.links[id]; !ok {
		return false
	}
	g.modified.Add(id)
	return true
}

// markIncidentModified records every link touching s as modified.
func (g *TrackGraph) markIncidentModified(s *Spot) {
	edges, ok := g.incident[s]
	if !ok {
		return
	}
	for id := range edges.All() {
		g.modified.Add(id)
	}
}

// Edge returns the link behind a handle.
func (g *TrackGraph) Edge(id EdgeID) (Link, bool) {
	l, ok := g.links[id]
	return l, ok
}

func (g *TrackGraph) HasEdge(id EdgeID) bool {
	_, ok := g.links[id]
	return ok
}

// EdgeSource returns the source of a live link, or nil.
func (g *TrackGraph) EdgeSource(id EdgeID) *Spot { return g.links[id].Source }

// EdgeTarget returns the target of a live link, or nil.
func (g *TrackGraph) EdgeTarget(id EdgeID) *Spot { return g.links[id].Target }

// EdgeWeight returns the weight of a live link, or zero.
func (g *TrackGraph) EdgeWeight(id EdgeID) float64 { return g.links[id].Weight }

func (g *TrackGraph) NEdges() int { return len(g.links) }

// EdgesOf returns the handles of all links touching s, in either direction.
func (g *TrackGraph) EdgesOf(s *Spot) []EdgeID {
	edges, ok := g.incident[s]
	if !ok {
		return nil
	}
	return edges.Items()
}

// OutgoingEdges returns the handles of links whose source is s.
func (g *TrackGraph) OutgoingEdges(s *Spot) []EdgeID {
	return g.edgesWhere(s, func(l Link) bool { return l.Source == s })
}

// IncomingEdges returns the handles of links whose target is s.
func (g *TrackGraph) IncomingEdges(s *Spot) []EdgeID {
	return g.edgesWhere(s, func(l Link) bool { return l.Target == s })
}

func (g *TrackGraph) edgesWhere(s *Spot, pred func(Link) bool) []EdgeID {
	var out []EdgeID
	for _, id := range g.EdgesOf(s) {
		if pred(g.links[id]) {
			out = append(out, id)
		}
	}
	return out
}

// TrackIDOf returns the track a link belonged to at the last computation.
func (g *TrackGraph) TrackIDOf(id EdgeID) (TrackID, bool) {
	t, ok := g.trackOfEdge[id]
	return t, ok
}

// TrackIDOfSpot returns the track a spot belonged to at the last computation.
func (g *TrackGraph) TrackIDOfSpot(s *Spot) (TrackID, bool) {
	t, ok := g.trackOfSpot[s]
	return t, ok
}

// TrackIDs returns all track labels in ascending order.
func (g *TrackGraph) TrackIDs() []TrackID {
	return slices.Clone(g.order)
}

// FilteredTrackIDs returns the labels of the visible tracks in ascending order.
func (g *TrackGraph) FilteredTrackIDs() []TrackID {
	var out []TrackID
	for _, id := range g.order {
		if g.visible[id] {
			out = append(out, id)
		}
	}
	return out
}

// NTracks counts all tracks, or only the visible ones.
func (g *TrackGraph) NTracks(filteredOnly bool) int {
	if filteredOnly {
		return len(g.visible)
	}
	return len(g.tracks)
}

func (g *TrackGraph) HasTrack(id TrackID) bool {
	_, ok := g.tracks[id]
	return ok
}

// TrackEdges returns the links of a track ordered by handle.
func (g *TrackGraph) TrackEdges(id TrackID) []EdgeID {
	if t, ok := g.tracks[id]; ok {
		return slices.Clone(t.edges)
	}
	return nil
}

// TrackSpots returns the spots of a track ordered by frame.
func (g *TrackGraph) TrackSpots(id TrackID) []*Spot {
	if t, ok := g.tracks[id]; ok {
		return slices.Clone(t.spots)
	}
	return nil
}

func (g *TrackGraph) TrackHash(id TrackID) (TrackHash, bool) {
	if t, ok := g.tracks[id]; ok {
		return t.hash, true
	}
	return TrackHash{}, false
}

// GraphHash digests all tracks as of the last computation.
func (g *TrackGraph) GraphHash() GraphHash {
	m := make(map[TrackID]TrackHash, len(g.tracks))
	for id, t := range g.tracks {
		m[id] = t.hash
	}
	return HashTracks(m)
}

func (g *TrackGraph) IsVisible(id TrackID) bool {
	return g.visible[id]
}

// SetVisible shows or hides an existing track and reports whether the
// visibility actually changed.
func (g *TrackGraph) SetVisible(id TrackID, visible bool) bool {
	if _, ok := g.tracks[id]; !ok || g.visible[id] == visible {
		return false
	}
	if visible {
		g.visible[id] = true
	} else {
		delete(g.visible, id)
	}
	return true
}

// SetFilteredTrackIDs replaces the visible set. Unknown labels are ignored.
func (g *TrackGraph) SetFilteredTrackIDs(ids []TrackID) {
	clear(g.visible)
	for _, id := range ids {
		if _, ok := g.tracks[id]; ok {
			g.visible[id] = true
		}
	}
}

// EdgeChanges returns the contents of the three dirty sets in the order the
// changes happened.
func (g *TrackGraph) EdgeChanges() (added, removed, modified []EdgeID) {
	return g.added.Items(), g.removed.Items(), g.modified.Items()
}

// HasChanges reports whether any link was added, removed or modified since the
// last ClearChanges.
func (g *TrackGraph) HasChanges() bool {
	return g.added.Len() > 0 || g.removed.Len() > 0 || g.modified.Len() > 0
}

// RemovedEdge returns the last known state of a link removed since the last
// ClearChanges, along with the track it belonged to.
func (g *TrackGraph) RemovedEdge(id EdgeID) (Link, TrackID, bool) {
	r, ok := g.graveyard[id]
	return r.Link, r.track, ok
}

// ClearChanges empties the dirty sets.
func (g *TrackGraph) ClearChanges() {
	g.added.Clear()
	g.removed.Clear()
	g.modified.Clear()
	clear(g.graveyard)
}

// ComputeTracksFromGraph recomputes the connected components of the graph.
//
// Spots without links form no track. A component holding exactly the spots of
// a previous track keeps its label and visibility; any other component gets a
// fresh label and is visible unless all the previous tracks it took spots from
// were hidden.
func (g *TrackGraph) ComputeTracksFromGraph() TrackDelta {
	prev, prevOfSpot, prevVisible := g.tracks, g.trackOfSpot, g.visible
	g.tracks = make(map[TrackID]*track, len(prev))
	g.trackOfSpot = make(map[*Spot]TrackID, len(prevOfSpot))
	g.trackOfEdge = make(map[EdgeID]TrackID, len(g.links))
	g.visible = make(map[TrackID]bool, len(prevVisible))

	var delta TrackDelta
	seen := make(map[*Spot]bool)
	for v := range g.vertices.All() {
		if seen[v] || g.incident[v].Len() == 0 {
			continue
		}
		t := g.component(v, seen)

		id, retained := matchTrack(t, prev, prevOfSpot)
		if retained {
			if prev[id].hash != t.hash {
				delta.Changed = append(delta.Changed, id)
			}
			if prevVisible[id] {
				g.visible[id] = true
			}
		} else {
			id = g.nextTrack
			g.nextTrack++
			delta.Created = append(delta.Created, id)
			if inheritsVisibility(t, prevOfSpot, prevVisible) {
				g.visible[id] = true
			}
		}

		g.tracks[id] = t
		for _, s := range t.spots {
			g.trackOfSpot[s] = id
		}
		for _, e := range t.edges {
			g.trackOfEdge[e] = id
		}
	}

	for _, id := range slices.Sorted(maps.Keys(prev)) {
		if _, ok := g.tracks[id]; !ok {
			delta.Removed = append(delta.Removed, id)
		}
	}
	g.order = slices.Sorted(maps.Keys(g.tracks))
	slices.Sort(delta.Changed)
	return delta
}

// component collects the connected component of v, ignoring link direction.
func (g *TrackGraph) component(v *Spot, seen map[*Spot]bool) *track {
	spots := []*Spot{v}
	edges := newOrderedSet[EdgeID]()
	seen[v] = true
	for i := 0; i < len(spots); i++ {
		for id := range g.incident[spots[i]].All() {
			edges.Add(id)
			l := g.links[id]
			other := l.Target
			if other == spots[i] {
				other = l.Source
			}
			if !seen[other] {
				seen[other] = true
				spots = append(spots, other)
			}
		}
	}
	slices.SortStableFunc(spots, func(a, b *Spot) int { return a.Frame() - b.Frame() })

	ids := edges.Items()
	slices.Sort(ids)
	links := make([][2]*Spot, len(ids))
	for i, id := range ids {
		links[i] = [2]*Spot{g.links[id].Source, g.links[id].Target}
	}
	return &track{spots: spots, edges: ids, hash: hashTrack(spots, links)}
}

// matchTrack finds the previous track holding exactly the spots of t.
func matchTrack(t *track, prev map[TrackID]*track, prevOfSpot map[*Spot]TrackID) (TrackID, bool) {
	id, ok := prevOfSpot[t.spots[0]]
	if !ok || len(prev[id].spots) != len(t.spots) {
		return NoTrack, false
	}
	for _, s := range t.spots[1:] {
		if other, ok := prevOfSpot[s]; !ok || other != id {
			return NoTrack, false
		}
	}
	return id, true
}

func inheritsVisibility(t *track, prevOfSpot map[*Spot]TrackID, prevVisible map[TrackID]bool) bool {
	var contributed bool
	for _, s := range t.spots {
		id, ok := prevOfSpot[s]
		if !ok {
			continue
		}
		if prevVisible[id] {
			return true
		}
		contributed = true
	}
	return !contributed
}
