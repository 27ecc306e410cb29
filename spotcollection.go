package trackmodel

import (
	"iter"
	"maps"
	"slices"
)

// A FeatureFilter is a threshold predicate over a single spot feature. With
// IsAbove set, spots pass when their value is at least Value; otherwise they
// pass when it is at most Value.
type FeatureFilter struct {
	Feature string
	Value   float64
	IsAbove bool
}

func (f FeatureFilter) accepts(s *Spot) bool {
	v, ok := s.Feature(f.Feature)
	if !ok {
		return false
	}
	if f.IsAbove {
		return v >= f.Value
	}
	return v <= f.Value
}

// SpotCollection stores spots bucketed by frame. Each spot belongs to at most
// one frame. The collection also tracks which spots pass the current feature
// filters; see Filter.
//
// The zero value is not usable; call NewSpotCollection.
type SpotCollection struct {
	frames  map[int]*orderedSet[*Spot]
	frameOf map[*Spot]int
	visible map[*Spot]bool
}

func NewSpotCollection() *SpotCollection {
	return &SpotCollection{
		frames:  make(map[int]*orderedSet[*Spot]),
		frameOf: make(map[*Spot]int),
		visible: make(map[*Spot]bool),
	}
}

// Add inserts s into the given frame and sets its FRAME feature. Newly added
// spots are visible. Add returns false, without changing anything, if s is
// already part of the collection.
func (c *SpotCollection) Add(s *Spot, frame int) bool {
	if _, ok := c.frameOf[s]; ok {
		return false
	}
	c.insert(s, frame)
	c.visible[s] = true
	return true
}

func (c *SpotCollection) insert(s *Spot, frame int) {
	bucket, ok := c.frames[frame]
	if !ok {
		bucket = newOrderedSet[*Spot]()
		c.frames[frame] = bucket
	}
	bucket.Add(s)
	c.frameOf[s] = frame
	s.PutFeature(FeatureFrame, float64(frame))
}

// Remove deletes s from the given frame. It returns false and leaves the
// collection untouched if s is not in that frame.
func (c *SpotCollection) Remove(s *Spot, frame int) bool {
	if !c.evict(s, frame) {
		return false
	}
	delete(c.visible, s)
	return true
}

func (c *SpotCollection) evict(s *Spot, frame int) bool {
	if f, ok := c.frameOf[s]; !ok || f != frame {
		return false
	}
	bucket := c.frames[frame]
	bucket.Remove(s)
	if bucket.Len() == 0 {
		delete(c.frames, frame)
	}
	delete(c.frameOf, s)
	return true
}

// Move relocates s from one frame to another, keeping its visibility. It
// returns false if s is not in the from frame.
func (c *SpotCollection) Move(s *Spot, from, to int) bool {
	if !c.evict(s, from) {
		return false
	}
	c.insert(s, to)
	return true
}

func (c *SpotCollection) Contains(s *Spot) bool {
	_, ok := c.frameOf[s]
	return ok
}

// FrameOf returns the frame that holds s.
func (c *SpotCollection) FrameOf(s *Spot) (int, bool) {
	f, ok := c.frameOf[s]
	return f, ok
}

func (c *SpotCollection) CountIn(frame int) int {
	if bucket, ok := c.frames[frame]; ok {
		return bucket.Len()
	}
	return 0
}

// CountTotal returns the number of spots in the collection, or only of those
// passing the current filters when filteredOnly is set.
func (c *SpotCollection) CountTotal(filteredOnly bool) int {
	if !filteredOnly {
		return len(c.frameOf)
	}
	var n int
	for _, ok := range c.visible {
		if ok {
			n++
		}
	}
	return n
}

// Frames returns the non-empty frames in ascending order.
func (c *SpotCollection) Frames() []int {
	return slices.Sorted(maps.Keys(c.frames))
}

// Iterate yields the spots of a frame in insertion order.
func (c *SpotCollection) Iterate(frame int) iter.Seq[*Spot] {
	return func(yield func(*Spot) bool) {
		bucket, ok := c.frames[frame]
		if !ok {
			return
		}
		for s := range bucket.All() {
			if !yield(s) {
				return
			}
		}
	}
}

// All yields every spot with its frame, frames in ascending order.
func (c *SpotCollection) All() iter.Seq2[int, *Spot] {
	return func(yield func(int, *Spot) bool) {
		for _, f := range c.Frames() {
			for s := range c.frames[f].All() {
				if !yield(f, s) {
					return
				}
			}
		}
	}
}

// Visible reports whether s passes the current filters.
func (c *SpotCollection) Visible(s *Spot) bool {
	return c.visible[s]
}

// SetVisible overrides the filtered state of a single spot.
func (c *SpotCollection) SetVisible(s *Spot, visible bool) {
	if _, ok := c.frameOf[s]; ok {
		c.visible[s] = visible
	}
}

// Filter re-evaluates visibility of every spot against all the given filters
// and returns the resulting view. An empty filter set makes every spot visible.
func (c *SpotCollection) Filter(filters []FeatureFilter) *FilteredView {
	for s := range c.frameOf {
		ok := true
		for _, f := range filters {
			if !f.accepts(s) {
				ok = false
				break
			}
		}
		c.visible[s] = ok
	}
	return c.Filtered()
}

// Filtered returns the view over the currently visible spots.
func (c *SpotCollection) Filtered() *FilteredView {
	return &FilteredView{c: c}
}

// A FilteredView exposes the visible subset of a SpotCollection. It holds the
// very same *Spot values, so feature writes through the view show in the
// collection and vice versa. The view is live: it reflects later calls to
// Filter, Add and Remove on its collection.
type FilteredView struct {
	c *SpotCollection
}

func (v *FilteredView) CountIn(frame int) int {
	var n int
	for range v.Iterate(frame) {
		n++
	}
	return n
}

func (v *FilteredView) CountTotal() int {
	return v.c.CountTotal(true)
}

func (v *FilteredView) Contains(s *Spot) bool {
	return v.c.visible[s]
}

func (v *FilteredView) Iterate(frame int) iter.Seq[*Spot] {
	return func(yield func(*Spot) bool) {
		for s := range v.c.Iterate(frame) {
			if v.c.visible[s] && !yield(s) {
				return
			}
		}
	}
}

func (v *FilteredView) All() iter.Seq2[int, *Spot] {
	return func(yield func(int, *Spot) bool) {
		for f, s := range v.c.All() {
			if v.c.visible[s] && !yield(f, s) {
				return
			}
		}
	}
}
