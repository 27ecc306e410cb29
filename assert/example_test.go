package assert_test

import (
	"context"
	"fmt"

	trackmodel "github.com/go-digitaltwin/go-trackmodel"
	"github.com/go-digitaltwin/go-trackmodel/assert"
)

func spot(name string, frame int) *trackmodel.Spot {
	s := trackmodel.NewSpot(float64(frame), 0, 0, 1, 1)
	s.SetName(name)
	return s
}

func printLinks(m *trackmodel.Model, s *trackmodel.Spot) {
	g := m.Graph()
	for _, id := range g.OutgoingEdges(s) {
		fmt.Println(s.Name(), "->", g.EdgeTarget(id).Name())
	}
}

// This example demonstrates how a one-to-one assertion replaces a link that
// would make a track split.
func Example() {
	ctx := context.Background()
	m := trackmodel.NewModel()
	a, b, c := spot("A", 0), spot("B", 1), spot("C", 1)
	_ = m.Update(ctx, func() error {
		m.AddSpotTo(a, 0)
		m.AddSpotTo(b, 1)
		m.AddSpotTo(c, 1)
		return nil
	})

	// In this example, we ignore all errors.
	fmt.Println("-- one to many --")
	_ = assert.Links(m).OneToMany(ctx, a, b, 1)
	_ = assert.Links(m).OneToMany(ctx, a, c, 1)
	printLinks(m, a)
	fmt.Println("-- one to one --")
	err := assert.Links(m).OneToOne(ctx, a, b, 1)
	fmt.Println(err)

	// Output:
	// -- one to many --
	// A -> B
	// A -> C
	// -- one to one --
	// inconsistent graph detected: relationship one-to-one was violated with 2 links from source
}
