package trackmodel_test

import (
	"context"
	"fmt"

	trackmodel "github.com/go-digitaltwin/go-trackmodel"
)

// This example builds a small model holding one track, observes the change
// event its flush produces, and reads the features computed by the built-in
// analyzers.
func Example() {
	features := trackmodel.NewFeatureModel()
	if err := trackmodel.RegisterDefaultAnalyzers(features); err != nil {
		panic(err)
	}
	model := trackmodel.NewModel(
		trackmodel.WithFeatureModel(features),
		trackmodel.WithPhysicalUnits("µm", "s"),
	)

	// Listeners run synchronously after every flush.
	model.AddModelChangeListener(trackmodel.ModelChangeListenerFunc(func(e *trackmodel.ModelChangeEvent) {
		fmt.Println(e)
		for _, s := range e.Spots() {
			fmt.Printf("  %v %v\n", s, e.SpotFlag(s))
		}
	}))

	// Spots are placed in frames; links between spots make up tracks.
	a := trackmodel.NewSpot(0, 0, 0, 1, 10)
	a.SetName("A")
	b := trackmodel.NewSpot(3, 4, 0, 1, 10)
	b.SetName("B")
	c := trackmodel.NewSpot(6, 8, 0, 1, 10)
	c.SetName("C")

	// A transaction batches edits into a single flush.
	err := model.Update(context.Background(), func() error {
		model.AddSpotTo(a, 0)
		model.AddSpotTo(b, 1)
		model.AddSpotTo(c, 2)
		model.AddEdge(a, b, 1)
		model.AddEdge(b, c, 1)
		return nil
	})
	if err != nil {
		panic(err)
	}

	id, _ := model.Graph().TrackIDOfSpot(a)
	length, _ := features.TrackFeature(id, trackmodel.FeatureTotalEdgeLength)
	speed, _ := features.TrackFeature(id, trackmodel.FeatureTrackMeanSpeed)
	fmt.Printf("%v: length %g %s, mean speed %g %s/%s\n", id, length, model.SpaceUnits(), speed, model.SpaceUnits(), model.TimeUnits())
	fmt.Print(model)

	// Output:
	// MODEL_MODIFIED: 3 spots, 2 edges, 1 tracks updated, 0 tracks removed
	//   A ADDED
	//   B ADDED
	//   C ADDED
	// track#0: length 10 µm, mean speed 5 µm/s
	// Contains 3 spots in total.
	// Contains 3 filtered spots.
	// Contains 1 tracks in total.
	// Contains 1 filtered tracks.
	// Physical units:
	//   space units: µm
	//   time units: s
}
