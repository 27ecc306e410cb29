package trackmodel

import (
	"context"
	"fmt"
	"math"

	kalman_filter "github.com/LdDl/kalman-filter"
	"gonum.org/v1/gonum/stat"
)

// Track features computed by TrackKalmanAnalyzer.
const (
	FeatureKalmanMeanResidual = "KALMAN_MEAN_RESIDUAL"
	FeatureKalmanFinalX       = "KALMAN_FINAL_X"
	FeatureKalmanFinalY       = "KALMAN_FINAL_Y"
)

// TrackKalmanAnalyzer runs a constant-velocity Kalman filter along each track,
// in the XY plane, one step per spot in frame order. It records the mean
// distance between predicted and observed positions and the final filtered
// position. Branching tracks are visited in frame order as if they were
// linear.
type TrackKalmanAnalyzer struct {
	UX, UY             float64 // control inputs
	StdDevA            float64 // process noise
	StdDevMX, StdDevMY float64 // measurement noise
}

func NewTrackKalmanAnalyzer() TrackKalmanAnalyzer {
	return TrackKalmanAnalyzer{UX: 1, UY: 1, StdDevA: 2, StdDevMX: 0.1, StdDevMY: 0.1}
}

func (a TrackKalmanAnalyzer) ProcessTracks(ctx context.Context, m *Model, tracks []TrackID) error {
	for _, id := range tracks {
		if err := ctx.Err(); err != nil {
			return err
		}
		spots := m.Graph().TrackSpots(id)
		if len(spots) < 2 {
			continue
		}

		x0, y0 := planar(spots[0])
		kf := kalman_filter.NewKalman2D(1.0, a.UX, a.UY, a.StdDevA, a.StdDevMX, a.StdDevMY, kalman_filter.WithState2D(x0, y0))
		residuals := make([]float64, 0, len(spots)-1)
		for _, s := range spots[1:] {
			kf.Predict()
			px, py := kf.GetState()
			x, y := planar(s)
			residuals = append(residuals, math.Hypot(x-px, y-py))
			if err := kf.Update(x, y); err != nil {
				return fmt.Errorf("%v: kalman update at %v: %w", id, s, err)
			}
		}
		fx, fy := kf.GetState()

		f := m.Features()
		f.PutTrackFeature(id, FeatureKalmanMeanResidual, stat.Mean(residuals, nil))
		f.PutTrackFeature(id, FeatureKalmanFinalX, fx)
		f.PutTrackFeature(id, FeatureKalmanFinalY, fy)
	}
	return nil
}

func planar(s *Spot) (x, y float64) {
	x, _ = s.Feature(FeaturePositionX)
	y, _ = s.Feature(FeaturePositionY)
	return x, y
}
