package trackmodel_test

import (
	"fmt"
	"maps"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	. "github.com/go-digitaltwin/go-trackmodel"
)

func TestAttributeMap(t *testing.T) {
	m, _ := newRecordedModel(t)
	a, b, c := newSpot("A", 0, 0), newSpot("B", 1, 0), newSpot("C", 2, 0)
	mustUpdate(t, m, func() {
		m.AddSpotTo(a, 0)
		m.AddSpotTo(b, 1)
		m.AddSpotTo(c, 2)
		mustAddEdge(t, m, a, b)
	})
	first := trackOf(t, m, a)

	t.Run("primitive", func(t *testing.T) {
		attr := NewAttributeMap(m, func(m *Model, id TrackID) (int, bool) {
			n := len(m.Graph().TrackSpots(id))
			return n, n > 0
		}, nil)

		if _, ok := attr.Find(first); ok {
			t.Errorf("Find(empty map) = true, expected false")
		}
		attr.Update(first)
		got, ok := attr.Find(first)
		if !ok {
			t.Errorf("Find(%v) not found", first)
		}
		if diff := cmp.Diff(2, got); diff != "" {
			t.Errorf("Find(%v) mismatch (-want +got):\n%s", first, diff)
		}
	})

	t.Run("slice", func(t *testing.T) {
		attr := NewAttributeMap(m, func(m *Model, id TrackID) ([]string, bool) {
			var names []string
			Inspect(m.Graph(), id, func(s *Spot) bool {
				if s != nil {
					names = append(names, s.Name())
				}
				return true
			})
			return names, len(names) > 0
		}, nil)
		attr.Update(first)

		got, ok := attr.Find(first)
		if !ok {
			t.Errorf("Find(%v) not found", first)
		}
		if diff := cmp.Diff([]string{"A", "B"}, got); diff != "" {
			t.Errorf("Find(%v) mismatch (-want +got):\n%s", first, diff)
		}
	})

	t.Run("listener", func(t *testing.T) {
		attr := NewAttributeMap(m, func(m *Model, id TrackID) (float64, bool) {
			return float64(len(m.Graph().TrackEdges(id))), m.Graph().HasTrack(id)
		}, nil)
		remove := m.AddModelChangeListener(attr)
		defer remove()

		m.ComputeTracks(true)
		if got, _ := attr.Find(first); got != 1 {
			t.Errorf("Find(%v) after TracksComputed = %v, want 1", first, got)
		}

		mustUpdate(t, m, func() { mustAddEdge(t, m, b, c) })
		if _, ok := attr.Find(first); ok {
			t.Errorf("Find(%v) = true after the track was removed", first)
		}
		merged := trackOf(t, m, c)
		if got, _ := attr.Find(merged); got != 2 {
			t.Errorf("Find(%v) = %v, want 2", merged, got)
		}
		if diff := cmp.Diff([]TrackID{merged}, slices.Sorted(maps.Keys(maps.Collect(attr.All())))); diff != "" {
			t.Errorf("All() mismatch (-want +got):\n%s", diff)
		}
	})
}

// This example illustrates how to seed an AttributeMap from the contents of
// another one, for instance to restore a map persisted by a previous run.
func ExampleNewAttributeMap() {
	m := NewModel()

	// In this example, a no-op AttributeFunc is used. The seeded values are
	// the focus of this example.
	fn := func(*Model, TrackID) (string, bool) {
		return "", false
	}

	am1 := NewAttributeMap(m, fn, map[TrackID]string{0: "first", 1: "second"})
	am2 := NewAttributeMap(m, fn, maps.Collect(am1.All()))

	for _, id := range slices.Sorted(maps.Keys(maps.Collect(am2.All()))) {
		v, _ := am2.Find(id)
		fmt.Printf("%v=%s\n", id, v)
	}
	// Output:
	// track#0=first
	// track#1=second
}
