package edit

import (
	"context"
	"encoding/gob"
	"fmt"
	"iter"

	"github.com/google/uuid"

	trackmodel "github.com/go-digitaltwin/go-trackmodel"
)

// We register all Step implementations with gob so that a []Step encodes its
// dynamic types.
func init() {
	gob.Register(addSpot{})
	gob.Register(removeSpot{})
	gob.Register(moveSpot{})
	gob.Register(updateFeatures{})
	gob.Register(link{})
	gob.Register(unlink{})
	gob.Register(setWeight{})
	gob.Register(linkExclusive{})
}

func lookup(m *trackmodel.Model, id uuid.UUID) (*trackmodel.Spot, error) {
	s, ok := m.SpotByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSpot, id)
	}
	return s, nil
}

func lookupPair(m *trackmodel.Model, source, target uuid.UUID) (*trackmodel.Spot, *trackmodel.Spot, error) {
	s, err := lookup(m, source)
	if err != nil {
		return nil, nil, fmt.Errorf("source: %w", err)
	}
	t, err := lookup(m, target)
	if err != nil {
		return nil, nil, fmt.Errorf("target: %w", err)
	}
	return s, t, nil
}

func one(id uuid.UUID) iter.Seq[uuid.UUID] {
	return func(yield func(uuid.UUID) bool) {
		yield(id)
	}
}

func pair(source, target uuid.UUID) iter.Seq[uuid.UUID] {
	return func(yield func(uuid.UUID) bool) {
		if !yield(source) {
			return
		}
		yield(target)
	}
}

// An addSpot is a Step that ensures a spot exists in the model.
type addSpot struct {
	ID       uuid.UUID
	Name     string
	Frame    int
	Features map[string]float64
}

func (s addSpot) Do(_ context.Context, m *trackmodel.Model) error {
	if _, ok := m.SpotByID(s.ID); ok {
		return nil
	}
	spot := trackmodel.NewSpotWithID(s.ID, s.Features)
	spot.SetName(s.Name)
	if !m.AddSpotTo(spot, s.Frame) {
		return fmt.Errorf("add %v: %w", spot, ErrRejected)
	}
	return nil
}

func (s addSpot) Targets() iter.Seq[uuid.UUID] { return one(s.ID) }

// A removeSpot is a Step that removes a spot along with all its links.
type removeSpot struct {
	ID uuid.UUID
}

func (s removeSpot) Do(_ context.Context, m *trackmodel.Model) error {
	spot, err := lookup(m, s.ID)
	if err != nil {
		return err
	}
	if !m.RemoveSpot(spot) {
		return fmt.Errorf("remove %v: %w", spot, ErrRejected)
	}
	return nil
}

func (s removeSpot) Targets() iter.Seq[uuid.UUID] { return one(s.ID) }

// A moveSpot is a Step that moves a spot to another frame.
type moveSpot struct {
	ID uuid.UUID
	To int
}

func (s moveSpot) Do(_ context.Context, m *trackmodel.Model) error {
	spot, err := lookup(m, s.ID)
	if err != nil {
		return err
	}
	from := spot.Frame()
	if from == s.To {
		return nil
	}
	if !m.MoveSpotFrom(spot, from, s.To) {
		return fmt.Errorf("move %v: %w", spot, ErrRejected)
	}
	return nil
}

func (s moveSpot) Targets() iter.Seq[uuid.UUID] { return one(s.ID) }

// An updateFeatures is a Step that overwrites some features of a spot.
type updateFeatures struct {
	ID       uuid.UUID
	Features map[string]float64
}

func (s updateFeatures) Do(_ context.Context, m *trackmodel.Model) error {
	spot, err := lookup(m, s.ID)
	if err != nil {
		return err
	}
	for k, v := range s.Features {
		if k == trackmodel.FeatureFrame {
			// frames only change through moveSpot
			continue
		}
		spot.PutFeature(k, v)
	}
	m.UpdateFeatures(spot)
	return nil
}

func (s updateFeatures) Targets() iter.Seq[uuid.UUID] { return one(s.ID) }

// A link is a Step that creates a directed link between two spots.
type link struct {
	Source, Target uuid.UUID
	Weight         float64
}

func (s link) Do(_ context.Context, m *trackmodel.Model) error {
	source, target, err := lookupPair(m, s.Source, s.Target)
	if err != nil {
		return err
	}
	if _, ok := m.AddEdge(source, target, s.Weight); !ok {
		return fmt.Errorf("link %v -> %v: %w", source, target, ErrRejected)
	}
	return nil
}

func (s link) Targets() iter.Seq[uuid.UUID] { return pair(s.Source, s.Target) }

// An unlink is a Step that removes the oldest link from one spot to another.
type unlink struct {
	Source, Target uuid.UUID
}

func (s unlink) Do(_ context.Context, m *trackmodel.Model) error {
	source, target, err := lookupPair(m, s.Source, s.Target)
	if err != nil {
		return err
	}
	m.RemoveEdgeBetween(source, target)
	return nil
}

func (s unlink) Targets() iter.Seq[uuid.UUID] { return pair(s.Source, s.Target) }

// A setWeight is a Step that changes the weight of a link.
type setWeight struct {
	Source, Target uuid.UUID
	Weight         float64
}

func (s setWeight) Do(_ context.Context, m *trackmodel.Model) error {
	source, target, err := lookupPair(m, s.Source, s.Target)
	if err != nil {
		return err
	}
	id, ok := m.Graph().EdgeBetween(source, target)
	if !ok {
		return fmt.Errorf("weigh %v -> %v: no link: %w", source, target, ErrRejected)
	}
	m.SetEdgeWeight(id, s.Weight)
	return nil
}

func (s setWeight) Targets() iter.Seq[uuid.UUID] { return pair(s.Source, s.Target) }

// A linkExclusive is a Step that asserts a one-to-one link between two spots.
type linkExclusive struct {
	Source, Target uuid.UUID
	Weight         float64
}

func (s linkExclusive) Do(_ context.Context, m *trackmodel.Model) error {
	source, target, err := lookupPair(m, s.Source, s.Target)
	if err != nil {
		return err
	}
	g := m.Graph()

	kept, found := g.EdgeBetween(source, target)
	for _, id := range g.OutgoingEdges(source) {
		if id != kept || !found {
			m.RemoveEdge(id)
		}
	}
	for _, id := range g.IncomingEdges(target) {
		if id != kept || !found {
			m.RemoveEdge(id)
		}
	}

	if found {
		m.SetEdgeWeight(kept, s.Weight)
		return nil
	}
	if _, ok := m.AddEdge(source, target, s.Weight); !ok {
		return fmt.Errorf("link %v -> %v: %w", source, target, ErrRejected)
	}
	return nil
}

func (s linkExclusive) Targets() iter.Seq[uuid.UUID] { return pair(s.Source, s.Target) }
