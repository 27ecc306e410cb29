package trackmodel

// A Visitor defines a Visit method invoked for each spot encountered by Walk.
// If the result visitor w is not nil, Walk visits each successor of the spot
// with the visitor w, followed by a call of w.Visit(nil).
type Visitor interface {
	Visit(s *Spot) (w Visitor)
}

// Walk traverses a track in depth-first order, following link direction: It
// calls WalkFrom for each root of the track, i.e. each spot without incoming
// links. A track made only of cycles is walked from its earliest spot.
//
// Every spot is visited at most once, so the successors of a merge are only
// walked from the first branch reaching it.
func Walk(v Visitor, g *TrackGraph, id TrackID) {
	spots := g.TrackSpots(id)
	if len(spots) == 0 {
		return
	}
	visited := make(map[*Spot]bool)
	var rooted bool
	for _, s := range spots {
		if len(g.IncomingEdges(s)) == 0 {
			rooted = true
			walk(v, g, s, visited)
		}
	}
	if !rooted {
		walk(v, g, spots[0], visited)
	}
}

// WalkFrom traverses the successors of s in depth-first order: It starts by
// calling v.Visit(s). If the visitor w returned by v.Visit(s) is not nil, the
// walk continues recursively with visitor w for each target of an outgoing
// link of s, followed by a call of w.Visit(nil).
func WalkFrom(v Visitor, g *TrackGraph, s *Spot) {
	walk(v, g, s, make(map[*Spot]bool))
}

func walk(v Visitor, g *TrackGraph, s *Spot, visited map[*Spot]bool) {
	if visited[s] {
		return
	}
	visited[s] = true
	// Start by calling v.Visit(s).
	if v = v.Visit(s); v == nil {
		return
	}
	// Then traverse the successors of s, depth-first.
	for _, e := range g.OutgoingEdges(s) {
		walk(v, g, g.EdgeTarget(e), visited)
	}
	// Finally, call v.Visit(nil).
	v.Visit(nil)
}

type inspector func(s *Spot) bool

func (f inspector) Visit(s *Spot) Visitor {
	if f(s) {
		return f
	}
	return nil
}

// Inspect traverses a track in depth-first order: It starts by calling f(root)
// for every root of the track. If f returns true, Inspect invokes f
// recursively for each successor of the spot, followed by a call of f(nil).
func Inspect(g *TrackGraph, id TrackID, f func(s *Spot) bool) {
	Walk(inspector(f), g, id)
}
