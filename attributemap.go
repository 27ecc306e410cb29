package trackmodel

import (
	"iter"
	"maps"
	"sync"
)

// An AttributeFunc defines a specific attribute of tracks. For a given track
// of the model, it returns the attribute's value and a bool indicating whether
// that attribute is valid for that track.
//
// It usually reads track features or walks the track, but any value of type V
// is appropriate.
type AttributeFunc[V any] func(m *Model, id TrackID) (V, bool)

// AttributeMap correlates between the tracks of a model and their
// corresponding attribute value. The generic parameter V denotes the type of
// the attribute's value.
//
// An AttributeMap is a ModelChangeListener: once registered with its model it
// refreshes the attribute of every updated track and forgets removed tracks.
// Use Find to read the values from any goroutine.
type AttributeMap[V any] struct {
	model       *Model
	attributeOf AttributeFunc[V]

	mu sync.Mutex
	m  map[TrackID]V
}

// NewAttributeMap returns a view of a single track attribute of the given
// model. Register it with Model.AddModelChangeListener to keep it current.
//
// If an existing map 'm' is provided, its contents seed the view; otherwise,
// the view starts empty.
func NewAttributeMap[V any](model *Model, attr AttributeFunc[V], m map[TrackID]V) *AttributeMap[V] {
	newMap := make(map[TrackID]V)
	if m != nil {
		maps.Copy(newMap, m)
	}
	return &AttributeMap[V]{
		model:       model,
		attributeOf: attr,
		m:           newMap,
	}
}

// Find returns the last known attribute value of a track.
//
// Find is safe for concurrent use.
func (a *AttributeMap[V]) Find(id TrackID) (v V, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok = a.m[id]
	return v, ok
}

// Update recomputes the attribute of a track. If the value is deemed invalid
// for the track, the track is expunged from the map.
//
// Update is safe for concurrent use, but reads the model, which is not.
func (a *AttributeMap[V]) Update(id TrackID) {
	v, ok := a.attributeOf(a.model, id)
	a.mu.Lock()
	defer a.mu.Unlock()
	if ok {
		a.m[id] = v
	} else {
		delete(a.m, id)
	}
}

// Forget removes a track from the map.
func (a *AttributeMap[V]) Forget(id TrackID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.m, id)
}

func (a *AttributeMap[V]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.m)
}

// All yields a snapshot of the tracks and their attribute values.
func (a *AttributeMap[V]) All() iter.Seq2[TrackID, V] {
	a.mu.Lock()
	snapshot := maps.Clone(a.m)
	a.mu.Unlock()
	return maps.All(snapshot)
}

// ModelChanged implements ModelChangeListener.
func (a *AttributeMap[V]) ModelChanged(e *ModelChangeEvent) {
	switch e.Kind() {
	case ModelModified:
		for _, id := range e.TracksRemoved() {
			a.Forget(id)
		}
		for _, id := range e.TracksUpdated() {
			a.Update(id)
		}
	case TracksComputed:
		for _, id := range a.model.Graph().TrackIDs() {
			a.Update(id)
		}
	}
}
