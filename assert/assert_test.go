package assert

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	trackmodel "github.com/go-digitaltwin/go-trackmodel"
)

// newModel returns a model holding one spot per name, placed in the frame
// given by frames.
func newModel(t *testing.T, frames map[string]int) (*trackmodel.Model, map[string]*trackmodel.Spot) {
	t.Helper()
	m := trackmodel.NewModel()
	spots := make(map[string]*trackmodel.Spot)
	err := m.Update(context.Background(), func() error {
		for name, frame := range frames {
			s := trackmodel.NewSpot(float64(len(spots)), 0, 0, 1, 1)
			s.SetName(name)
			m.AddSpotTo(s, frame)
			spots[name] = s
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return m, spots
}

// links lists every link of the model as "source->target", sorted.
func links(m *trackmodel.Model) []string {
	g := m.Graph()
	var out []string
	for _, s := range g.Vertices() {
		for _, id := range g.OutgoingEdges(s) {
			out = append(out, s.Name()+"->"+g.EdgeTarget(id).Name())
		}
	}
	slices.Sort(out)
	return out
}

type flushCounter int

func (c *flushCounter) ModelChanged(e *trackmodel.ModelChangeEvent) {
	if e.Kind() == trackmodel.ModelModified {
		*c++
	}
}

func TestRelationships(t *testing.T) {
	frames := map[string]int{"A": 0, "P": 0, "B": 1, "C": 1}
	type assertion func(a linkWriter, ctx context.Context, source, target *trackmodel.Spot, weight float64) error

	tests := []struct {
		Name   string
		Before [][2]string
		Assert assertion
		Source string
		Target string
		Want   []string
	}{
		{
			Name:   "OneToOne/Fresh",
			Assert: linkWriter.OneToOne,
			Source: "A", Target: "B",
			Want: []string{"A->B"},
		},
		{
			Name:   "OneToOne/ReplacesSuccessor",
			Before: [][2]string{{"A", "C"}},
			Assert: linkWriter.OneToOne,
			Source: "A", Target: "B",
			Want: []string{"A->B"},
		},
		{
			Name:   "OneToOne/ReplacesPredecessor",
			Before: [][2]string{{"P", "B"}},
			Assert: linkWriter.OneToOne,
			Source: "A", Target: "B",
			Want: []string{"A->B"},
		},
		{
			Name:   "OneToMany/KeepsSuccessors",
			Before: [][2]string{{"A", "C"}, {"P", "B"}},
			Assert: linkWriter.OneToMany,
			Source: "A", Target: "B",
			Want: []string{"A->B", "A->C"},
		},
		{
			Name:   "ManyToOne/KeepsPredecessors",
			Before: [][2]string{{"A", "C"}, {"P", "B"}},
			Assert: linkWriter.ManyToOne,
			Source: "A", Target: "B",
			Want: []string{"A->B", "P->B"},
		},
		{
			Name:   "ManyToMany",
			Before: [][2]string{{"A", "C"}, {"P", "B"}},
			Assert: linkWriter.ManyToMany,
			Source: "A", Target: "B",
			Want: []string{"A->B", "A->C", "P->B"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			ctx := context.Background()
			m, spots := newModel(t, frames)
			for _, l := range tt.Before {
				if _, ok := m.AddEdge(spots[l[0]], spots[l[1]], 1); !ok {
					t.Fatalf("AddEdge(%v) failed", l)
				}
			}
			var flushes flushCounter
			m.AddModelChangeListener(&flushes)

			if err := tt.Assert(Links(m), ctx, spots[tt.Source], spots[tt.Target], 2); err != nil {
				t.Fatalf("assertion error = %v", err)
			}
			if diff := cmp.Diff(tt.Want, links(m)); diff != "" {
				t.Errorf("links mismatch (-want +got):\n%s", diff)
			}
			if flushes != 1 {
				t.Errorf("flushes = %d, want 1", flushes)
			}
			id, _ := m.Graph().EdgeBetween(spots[tt.Source], spots[tt.Target])
			if got := m.Graph().EdgeWeight(id); got != 2 {
				t.Errorf("EdgeWeight() = %v, want 2", got)
			}
		})
	}
}

func TestExistingLinkIsKept(t *testing.T) {
	ctx := context.Background()
	m, spots := newModel(t, map[string]int{"A": 0, "B": 1})
	before, _ := m.AddEdge(spots["A"], spots["B"], 1)

	if err := Links(m).OneToOne(ctx, spots["A"], spots["B"], 5); err != nil {
		t.Fatal(err)
	}
	after, ok := m.Graph().EdgeBetween(spots["A"], spots["B"])
	if !ok || after != before {
		t.Errorf("EdgeBetween() = %v, %v; want the original %v", after, ok, before)
	}
	if got := m.Graph().EdgeWeight(after); got != 5 {
		t.Errorf("EdgeWeight() = %v, want 5", got)
	}
}

func TestIntegrityError(t *testing.T) {
	ctx := context.Background()
	m, spots := newModel(t, map[string]int{"A": 0, "P": 0, "B": 1, "C": 1})
	m.AddEdge(spots["A"], spots["B"], 1)
	m.AddEdge(spots["A"], spots["C"], 1)
	m.AddEdge(spots["P"], spots["C"], 1)

	tests := []struct {
		Name   string
		Assert func() error
		Want   IntegrityError
	}{
		{
			Name:   "OneToOne",
			Assert: func() error { return Links(m).OneToOne(ctx, spots["A"], spots["B"], 1) },
			Want:   IntegrityError{Relationship: "one-to-one", Direction: "from source", Links: 2},
		},
		{
			Name:   "OneToMany",
			Assert: func() error { return Links(m).OneToMany(ctx, spots["P"], spots["C"], 1) },
			Want:   IntegrityError{Relationship: "one-to-many", Direction: "to target", Links: 2},
		},
		{
			Name:   "ManyToOne",
			Assert: func() error { return Links(m).ManyToOne(ctx, spots["A"], spots["C"], 1) },
			Want:   IntegrityError{Relationship: "many-to-one", Direction: "from source", Links: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			before := links(m)
			var got *IntegrityError
			if err := tt.Assert(); !errors.As(err, &got) {
				t.Fatalf("assertion error = %v, want an *IntegrityError", err)
			}
			if diff := cmp.Diff(tt.Want, *got); diff != "" {
				t.Errorf("IntegrityError mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(before, links(m)); diff != "" {
				t.Errorf("links changed (-before +after):\n%s", diff)
			}
		})
	}
}

func TestRejected(t *testing.T) {
	ctx := context.Background()
	m, spots := newModel(t, map[string]int{"A": 0})
	stranger := trackmodel.NewSpot(0, 0, 0, 1, 1)
	err := Links(m).ManyToMany(ctx, spots["A"], stranger, 1)
	if !errors.Is(err, ErrRejected) {
		t.Errorf("ManyToMany() error = %v, want %v", err, ErrRejected)
	}
}
