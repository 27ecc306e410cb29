package neo4jmirror

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	trackmodel "github.com/go-digitaltwin/go-trackmodel"
	"github.com/go-digitaltwin/go-trackmodel/internal/dbtest"
	"github.com/go-digitaltwin/go-trackmodel/publish"
)

// changeSets collects a ChangeSet for every consolidated change of a model.
type changeSets struct {
	m   *trackmodel.Model
	got []publish.ChangeSet
}

func (c *changeSets) ModelChanged(e *trackmodel.ModelChangeEvent) {
	if e.Kind() == trackmodel.ModelModified {
		c.got = append(c.got, publish.NewChangeSet(c.m, e))
	}
}

// drain applies every collected ChangeSet to the mirror.
func (c *changeSets) drain(t *testing.T, mirror *Mirror) {
	t.Helper()
	for _, set := range c.got {
		if err := mirror.Apply(context.Background(), set); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}
	c.got = nil
}

func newSpot(name string, x float64) *trackmodel.Spot {
	s := trackmodel.NewSpot(x, 0, 0, 1, 1)
	s.SetName(name)
	return s
}

func newMirror(t *testing.T, database string) *Mirror {
	t.Helper()
	d := dbtest.SetupNeo4j(t)
	if err := BootstrapDatabase(context.Background(), d, database); err != nil {
		t.Fatalf("BootstrapDatabase() error = %v", err)
	}
	return NewMirror(d, database)
}

func TestBootstrapDatabase(t *testing.T) {
	d := dbtest.SetupNeo4j(t)

	var tests = []struct {
		name     string
		database string
	}{
		{name: "Alphanumeric", database: "Aa1"},
		{name: "WithDash", database: "a-1"},
		{name: "WithDot", database: "a.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if err := BootstrapDatabase(ctx, d, tt.database); err != nil {
				t.Fatalf("BootstrapDatabase() error = %v", err)
			}
			// a second run must be harmless
			if err := BootstrapDatabase(ctx, d, tt.database); err != nil {
				t.Fatalf("BootstrapDatabase() again error = %v", err)
			}

			session := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: tt.database})
			defer func() {
				if err := session.Close(ctx); err != nil {
					t.Fatal("Failed to close session:", err)
				}
			}()
			result, err := session.Run(ctx, "SHOW CONSTRAINTS YIELD labelsOrTypes, type WHERE type = 'NODE_KEY' RETURN labelsOrTypes[0] AS label ORDER BY label", nil)
			if err != nil {
				t.Fatal("Failed to list constraints:", err)
			}
			records, err := result.Collect(ctx)
			if err != nil {
				t.Fatal("Failed to collect constraints:", err)
			}
			var labels []string
			for _, r := range records {
				l, err := getRecordProperty[string](r, "label")
				if err != nil {
					t.Fatal(err)
				}
				labels = append(labels, l)
			}
			if diff := cmp.Diff([]string{spotLabel, trackLabel}, labels); diff != "" {
				t.Errorf("NODE_KEY constraints mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBootstrapDatabaseRejectsReservedNames(t *testing.T) {
	for _, name := range []string{"", "neo4j", "system2", "_x"} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("createDatabase(%q) did not panic", name)
				}
			}()
			// the name is validated before the driver is used
			_ = createDatabase(context.Background(), nil, name)
		})
	}
}

func TestMirrorApply(t *testing.T) {
	ctx := context.Background()
	mirror := newMirror(t, "apply")
	m := trackmodel.NewModel()
	sets := &changeSets{m: m}
	m.AddModelChangeListener(sets)

	a, b, c := newSpot("A", 0), newSpot("B", 3), newSpot("C", 6)
	err := m.Update(ctx, func() error {
		m.AddSpotTo(a, 0)
		m.AddSpotTo(b, 1)
		m.AddSpotTo(c, 2)
		m.AddEdge(a, b, 1)
		m.AddEdge(b, c, 1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sets.drain(t, mirror)

	track, ok := m.Graph().TrackIDOfSpot(a)
	if !ok {
		t.Fatal("A has no track")
	}
	t.Run("Created", func(t *testing.T) {
		got, err := mirror.TrackSpots(ctx, track)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]uuid.UUID{a.ID(), b.ID(), c.ID()}, got); diff != "" {
			t.Errorf("TrackSpots() mismatch (-want +got):\n%s", diff)
		}
		assertLinks(t, mirror, 2)
		assertHead(t, mirror, m.Graph().GraphHash())
	})

	if err := m.Update(ctx, func() error {
		m.RemoveSpot(c)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	sets.drain(t, mirror)

	t.Run("SpotRemoved", func(t *testing.T) {
		track, _ := m.Graph().TrackIDOfSpot(a)
		got, err := mirror.TrackSpots(ctx, track)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]uuid.UUID{a.ID(), b.ID()}, got); diff != "" {
			t.Errorf("TrackSpots() mismatch (-want +got):\n%s", diff)
		}
		assertLinks(t, mirror, 1)
		assertHead(t, mirror, m.Graph().GraphHash())
	})

	m.RemoveEdgeBetween(a, b)
	sets.drain(t, mirror)

	t.Run("TrackRemoved", func(t *testing.T) {
		got, err := mirror.TrackSpots(ctx, track)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("TrackSpots() = %v, want a removed track", got)
		}
		assertLinks(t, mirror, 0)
		assertHead(t, mirror, m.Graph().GraphHash())
	})
}

func TestMirrorHeadOfEmptyDatabase(t *testing.T) {
	mirror := newMirror(t, "empty")
	assertHead(t, mirror, trackmodel.GraphHash{})
}

func assertLinks(t *testing.T, mirror *Mirror, want int) {
	t.Helper()
	got, err := mirror.CountLinks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("CountLinks() = %d, want %d", got, want)
	}
}

func assertHead(t *testing.T, mirror *Mirror, want trackmodel.GraphHash) {
	t.Helper()
	got, err := mirror.Head(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Head() = %v, want %v", got, want)
	}
}
