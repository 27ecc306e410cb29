package edit_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	trackmodel "github.com/go-digitaltwin/go-trackmodel"
	"github.com/go-digitaltwin/go-trackmodel/edit"
)

type eventCounter int

func (c *eventCounter) ModelChanged(e *trackmodel.ModelChangeEvent) {
	if e.Kind() == trackmodel.ModelModified {
		*c++
	}
}

func named(name string, x float64) *trackmodel.Spot {
	s := trackmodel.NewSpot(x, 0, 0, 1, 1)
	s.SetName(name)
	return s
}

// outgoing returns the names of the targets of the links leaving id.
func outgoing(m *trackmodel.Model, id uuid.UUID) []string {
	s, _ := m.SpotByID(id)
	var out []string
	for _, e := range m.Graph().OutgoingEdges(s) {
		out = append(out, m.Graph().EdgeTarget(e).Name())
	}
	return out
}

func TestReplaySingleFlush(t *testing.T) {
	a, b, c := named("A", 0), named("B", 1), named("C", 2)
	var r edit.Recorder
	r.AddSpot(a, 0)
	r.AddSpot(b, 1)
	r.AddSpot(c, 2)
	r.Link(a.ID(), b.ID(), 1)
	r.Link(b.ID(), c.ID(), 1)
	r.UpdateFeatures(c.ID(), map[string]float64{trackmodel.FeatureQuality: 42, trackmodel.FeatureFrame: 9})

	m := trackmodel.NewModel()
	var flushes eventCounter
	m.AddModelChangeListener(&flushes)
	if err := edit.Replay(context.Background(), m, r.Steps()); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	if flushes != 1 {
		t.Errorf("Replay() flushed %d times, want 1", flushes)
	}
	if got := m.Graph().NTracks(false); got != 1 {
		t.Errorf("NTracks() = %d, want 1", got)
	}
	restored, ok := m.SpotByID(c.ID())
	if !ok {
		t.Fatal("Replayed spot not found")
	}
	if restored == c {
		t.Error("Replay() reused the recorded spot instead of creating one")
	}
	if q, _ := restored.Feature(trackmodel.FeatureQuality); q != 42 || restored.Frame() != 2 {
		t.Errorf("Replayed spot has QUALITY %v and FRAME %d, want 42 and 2", q, restored.Frame())
	}

	t.Run("Idempotent", func(t *testing.T) {
		var r edit.Recorder
		r.AddSpot(a, 5)
		if err := edit.Replay(context.Background(), m, r.Steps()); err != nil {
			t.Fatalf("Replay() error = %v", err)
		}
		if s, _ := m.SpotByID(a.ID()); s.Frame() != 0 {
			t.Errorf("Adding a known spot moved it to frame %d", s.Frame())
		}
	})
}

func TestReplayUnknownSpot(t *testing.T) {
	a := named("A", 0)
	var r edit.Recorder
	r.AddSpot(a, 0)
	r.RemoveSpot(uuid.New())
	r.MoveSpot(a.ID(), 3)

	m := trackmodel.NewModel()
	err := edit.Replay(context.Background(), m, r.Steps())
	if !errors.Is(err, edit.ErrUnknownSpot) {
		t.Fatalf("Replay() error = %v, want %v", err, edit.ErrUnknownSpot)
	}
	if got := m.Depth(); got != 0 {
		t.Errorf("Depth() = %d after a failed replay, want 0", got)
	}
	s, ok := m.SpotByID(a.ID())
	if !ok {
		t.Fatal("Steps before the failure were not kept")
	}
	if s.Frame() != 0 {
		t.Errorf("Steps after the failure were applied: FRAME = %d", s.Frame())
	}
}

func TestReplayRejected(t *testing.T) {
	a := named("A", 0)
	var r edit.Recorder
	r.AddSpot(a, 0)
	r.Link(a.ID(), a.ID(), 1)
	err := edit.Replay(context.Background(), trackmodel.NewModel(), r.Steps())
	if !errors.Is(err, edit.ErrRejected) {
		t.Errorf("Replay(self-link) error = %v, want %v", err, edit.ErrRejected)
	}

	r.Reset()
	r.AddSpot(a, 0)
	r.SetWeight(a.ID(), a.ID(), 3)
	err = edit.Replay(context.Background(), trackmodel.NewModel(), r.Steps())
	if !errors.Is(err, edit.ErrRejected) {
		t.Errorf("Replay(weigh missing link) error = %v, want %v", err, edit.ErrRejected)
	}
}

func TestLinkExclusive(t *testing.T) {
	s := []*trackmodel.Spot{named("A", 0), named("B", 1), named("C", 2), named("D", 3), named("E", 4)}
	a, b, c, d, e := s[0].ID(), s[1].ID(), s[2].ID(), s[3].ID(), s[4].ID()
	var setup edit.Recorder
	for i, x := range s {
		setup.AddSpot(x, i)
	}
	setup.Link(a, c, 1) // leaves the source
	setup.Link(d, b, 1) // enters the target
	setup.Link(a, b, 1)
	setup.Link(a, b, 2) // parallel
	setup.Link(e, a, 1) // enters the source, kept
	setup.Link(b, d, 1) // leaves the target, kept

	m := trackmodel.NewModel()
	if err := edit.Replay(context.Background(), m, setup.Steps()); err != nil {
		t.Fatalf("Replay(setup) error = %v", err)
	}
	// Replay builds its own spots; resolve them by identifier.
	sa, _ := m.SpotByID(a)
	sb, _ := m.SpotByID(b)
	oldest, _ := m.Graph().EdgeBetween(sa, sb)

	var r edit.Recorder
	r.LinkExclusive(a, b, 7)
	if err := edit.Replay(context.Background(), m, r.Steps()); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	if diff := cmp.Diff([]string{"B"}, outgoing(m, a)); diff != "" {
		t.Errorf("Links leaving A mismatch (-want +got):\n%s", diff)
	}
	if got := m.Graph().IncomingEdges(sb); !slices.Equal(got, []trackmodel.EdgeID{oldest}) {
		t.Errorf("IncomingEdges(B) = %v, want only %v", got, oldest)
	}
	if got := m.Graph().EdgeWeight(oldest); got != 7 {
		t.Errorf("EdgeWeight() = %v, want 7", got)
	}
	if diff := cmp.Diff([]string{"A"}, outgoing(m, e)); diff != "" {
		t.Errorf("Links leaving E mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"D"}, outgoing(m, b)); diff != "" {
		t.Errorf("Links leaving B mismatch (-want +got):\n%s", diff)
	}

	t.Run("Create", func(t *testing.T) {
		var r edit.Recorder
		r.LinkExclusive(c, e, 1)
		if err := edit.Replay(context.Background(), m, r.Steps()); err != nil {
			t.Fatalf("Replay() error = %v", err)
		}
		if diff := cmp.Diff([]string{"E"}, outgoing(m, c)); diff != "" {
			t.Errorf("Links leaving C mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestUnlink(t *testing.T) {
	a, b := named("A", 0), named("B", 1)
	var r edit.Recorder
	r.AddSpot(a, 0)
	r.AddSpot(b, 1)
	r.Link(a.ID(), b.ID(), 1)
	r.Unlink(a.ID(), b.ID())
	r.Unlink(a.ID(), b.ID()) // nothing left to remove

	m := trackmodel.NewModel()
	if err := edit.Replay(context.Background(), m, r.Steps()); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if got := m.Graph().NEdges(); got != 0 {
		t.Errorf("NEdges() = %d, want 0", got)
	}
}

func TestEncodeDecode(t *testing.T) {
	a, b := named("A", 0), named("B", 1)
	var r edit.Recorder
	r.AddSpot(a, 0)
	r.AddSpot(b, 1)
	r.Link(a.ID(), b.ID(), 1)
	r.SetWeight(a.ID(), b.ID(), 4)
	r.MoveSpot(b.ID(), 2)
	r.LinkExclusive(a.ID(), b.ID(), 5)

	data, err := edit.Encode(r.Steps())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	steps, err := edit.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(steps) != r.Len() {
		t.Fatalf("Decode() returned %d steps, want %d", len(steps), r.Len())
	}

	m := trackmodel.NewModel()
	if err := edit.Replay(context.Background(), m, steps); err != nil {
		t.Fatalf("Replay(decoded) error = %v", err)
	}
	s, _ := m.SpotByID(b.ID())
	if s.Name() != "B" || s.Frame() != 2 {
		t.Errorf("Decoded replay produced %v in frame %d", s, s.Frame())
	}

	if _, err := edit.Decode([]byte("not gob")); err == nil {
		t.Error("Decode(garbage) succeeded")
	}
}

func TestTargets(t *testing.T) {
	a, b, c := named("A", 0), named("B", 1), named("C", 2)
	var r edit.Recorder
	r.AddSpot(a, 0)
	r.Link(a.ID(), b.ID(), 1)
	r.LinkExclusive(b.ID(), c.ID(), 1)
	r.RemoveSpot(a.ID())

	got := slices.Collect(edit.Targets(r.Steps()))
	if diff := cmp.Diff([]uuid.UUID{a.ID(), b.ID(), c.ID()}, got); diff != "" {
		t.Errorf("Targets() mismatch (-want +got):\n%s", diff)
	}
}
