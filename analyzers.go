package trackmodel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Link features computed by EdgeLengthAnalyzer.
const (
	FeatureEdgeLength  = "EDGE_LENGTH"
	FeatureEdgeTimeGap = "EDGE_TIME_GAP"
	FeatureEdgeSpeed   = "EDGE_SPEED"
)

// Track features computed by the built-in track analyzers.
const (
	FeatureTotalEdgeLength   = "TOTAL_EDGE_LENGTH"
	FeatureTrackDisplacement = "TRACK_DISPLACEMENT"
	FeatureNumberSpots       = "NUMBER_SPOTS"
	FeatureNumberGaps        = "NUMBER_GAPS"
	FeatureNumberSplits      = "NUMBER_SPLITS"
	FeatureNumberMerges      = "NUMBER_MERGES"
	FeatureTrackStart        = "TRACK_START"
	FeatureTrackStop         = "TRACK_STOP"
	FeatureTrackDuration     = "TRACK_DURATION"
	FeatureTrackMeanSpeed    = "TRACK_MEAN_SPEED"
	FeatureTrackStdSpeed     = "TRACK_STD_SPEED"
	FeatureTrackMaxSpeed     = "TRACK_MAX_SPEED"
	FeatureTrackMedianSpeed  = "TRACK_MEDIAN_SPEED"
)

// Keys of the built-in analyzers, as used by RegisterAnalyzers and in
// configuration files.
const (
	EdgeLengthKey     = "edge-length"
	TrackBranchingKey = "track-branching"
	TrackLengthKey    = "track-length"
	TrackSpeedKey     = "track-speed"
	TrackKalmanKey    = "track-kalman"
)

// builtinOrder lists the built-in analyzers in dependency order.
var builtinOrder = []string{EdgeLengthKey, TrackBranchingKey, TrackLengthKey, TrackSpeedKey, TrackKalmanKey}

var builtins = map[string]func(f *FeatureModel, key string) error{
	EdgeLengthKey: func(f *FeatureModel, key string) error {
		return f.AddEdgeAnalyzer(key, Local, EdgeLengthAnalyzer{})
	},
	TrackBranchingKey: func(f *FeatureModel, key string) error {
		return f.AddTrackAnalyzer(key, Local, TrackBranchingAnalyzer{})
	},
	TrackLengthKey: func(f *FeatureModel, key string) error {
		return f.AddTrackAnalyzer(key, Global, TrackLengthAnalyzer{})
	},
	TrackSpeedKey: func(f *FeatureModel, key string) error {
		return f.AddTrackAnalyzer(key, Local, TrackSpeedAnalyzer{})
	},
	TrackKalmanKey: func(f *FeatureModel, key string) error {
		return f.AddTrackAnalyzer(key, Global, NewTrackKalmanAnalyzer())
	},
}

// ErrUnknownAnalyzer is returned when naming an analyzer that is not built in.
var ErrUnknownAnalyzer = errors.New("unknown analyzer")

// ErrMissingDependency is returned when an analyzer is configured without an
// analyzer whose features it reads listed before it.
var ErrMissingDependency = errors.New("analyzer dependency missing")

// builtinDeps names, per built-in analyzer, the analyzers it reads from.
var builtinDeps = map[string][]string{
	TrackLengthKey: {EdgeLengthKey},
	TrackSpeedKey:  {EdgeLengthKey},
}

// RegisterAnalyzers registers the named built-in analyzers with f, in the
// given order.
func RegisterAnalyzers(f *FeatureModel, keys ...string) error {
	for _, key := range keys {
		register, ok := builtins[key]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownAnalyzer, key)
		}
		if err := register(f, key); err != nil {
			return err
		}
	}
	return nil
}

// RegisterDefaultAnalyzers registers every built-in analyzer with f.
func RegisterDefaultAnalyzers(f *FeatureModel) error {
	return RegisterAnalyzers(f, builtinOrder...)
}

// EdgeLengthAnalyzer computes the length of each link, the time elapsed
// between its endpoints and the resulting speed. Time comes from POSITION_T
// when both spots carry it, from FRAME otherwise.
type EdgeLengthAnalyzer struct{}

func (EdgeLengthAnalyzer) ProcessEdges(ctx context.Context, m *Model, edges []EdgeID) error {
	for _, id := range edges {
		if err := ctx.Err(); err != nil {
			return err
		}
		l, ok := m.Graph().Edge(id)
		if !ok {
			continue
		}
		length := l.Source.DistanceTo(l.Target)
		gap := math.Abs(spotTime(l.Target) - spotTime(l.Source))
		m.Features().PutEdgeFeature(id, FeatureEdgeLength, length)
		m.Features().PutEdgeFeature(id, FeatureEdgeTimeGap, gap)
		if gap > 0 {
			m.Features().PutEdgeFeature(id, FeatureEdgeSpeed, length/gap)
		}
	}
	return nil
}

func spotTime(s *Spot) float64 {
	if t, ok := s.Feature(FeaturePositionT); ok {
		return t
	}
	return float64(s.Frame())
}

// TrackLengthAnalyzer sums the EDGE_LENGTH of the links of each track and
// measures the distance between its first and last spot. It reads link
// features, so EdgeLengthAnalyzer must be registered too.
type TrackLengthAnalyzer struct{}

func (TrackLengthAnalyzer) ProcessTracks(_ context.Context, m *Model, tracks []TrackID) error {
	for _, id := range tracks {
		var total float64
		for _, e := range m.Graph().TrackEdges(id) {
			v, ok := m.Features().EdgeFeature(e, FeatureEdgeLength)
			if !ok {
				return fmt.Errorf("%v of %v: missing %s", e, id, FeatureEdgeLength)
			}
			total += v
		}
		m.Features().PutTrackFeature(id, FeatureTotalEdgeLength, total)

		spots := m.Graph().TrackSpots(id)
		if len(spots) > 0 {
			m.Features().PutTrackFeature(id, FeatureTrackDisplacement, spots[0].DistanceTo(spots[len(spots)-1]))
		}
	}
	return nil
}

// TrackBranchingAnalyzer counts the spots, gaps, splits and merges of each
// track and records its temporal extent in frames. A gap is a link spanning
// more than one frame; a split is a spot linked forward to several distinct
// spots and a merge one linked from several distinct spots.
type TrackBranchingAnalyzer struct{}

func (TrackBranchingAnalyzer) ProcessTracks(_ context.Context, m *Model, tracks []TrackID) error {
	g := m.Graph()
	for _, id := range tracks {
		spots := g.TrackSpots(id)
		if len(spots) == 0 {
			continue
		}
		var gaps, splits, merges int
		for _, e := range g.TrackEdges(id) {
			l, _ := g.Edge(e)
			if d := l.Target.Frame() - l.Source.Frame(); d > 1 || d < -1 {
				gaps++
			}
		}
		for _, s := range spots {
			if distinctEnds(g.OutgoingEdges(s), g.EdgeTarget) > 1 {
				splits++
			}
			if distinctEnds(g.IncomingEdges(s), g.EdgeSource) > 1 {
				merges++
			}
		}
		start, stop := spots[0].Frame(), spots[len(spots)-1].Frame()

		f := m.Features()
		f.PutTrackFeature(id, FeatureNumberSpots, float64(len(spots)))
		f.PutTrackFeature(id, FeatureNumberGaps, float64(gaps))
		f.PutTrackFeature(id, FeatureNumberSplits, float64(splits))
		f.PutTrackFeature(id, FeatureNumberMerges, float64(merges))
		f.PutTrackFeature(id, FeatureTrackStart, float64(start))
		f.PutTrackFeature(id, FeatureTrackStop, float64(stop))
		f.PutTrackFeature(id, FeatureTrackDuration, float64(stop-start))
	}
	return nil
}

// distinctEnds counts the distinct spots reached through edges. Parallel
// links count once.
func distinctEnds(edges []EdgeID, end func(EdgeID) *Spot) int {
	seen := make(map[*Spot]struct{}, len(edges))
	for _, e := range edges {
		seen[end(e)] = struct{}{}
	}
	return len(seen)
}

// TrackSpeedAnalyzer summarises the EDGE_SPEED of the links of each track.
// Tracks whose links carry no speed get no speed features.
type TrackSpeedAnalyzer struct{}

func (TrackSpeedAnalyzer) ProcessTracks(_ context.Context, m *Model, tracks []TrackID) error {
	for _, id := range tracks {
		var speeds []float64
		for _, e := range m.Graph().TrackEdges(id) {
			if v, ok := m.Features().EdgeFeature(e, FeatureEdgeSpeed); ok {
				speeds = append(speeds, v)
			}
		}
		if len(speeds) == 0 {
			continue
		}
		slices.Sort(speeds)

		mean, std := stat.MeanStdDev(speeds, nil)
		if len(speeds) < 2 {
			std = 0 // the unbiased estimator is undefined for a single sample
		}
		f := m.Features()
		f.PutTrackFeature(id, FeatureTrackMeanSpeed, mean)
		f.PutTrackFeature(id, FeatureTrackStdSpeed, std)
		f.PutTrackFeature(id, FeatureTrackMaxSpeed, speeds[len(speeds)-1])
		f.PutTrackFeature(id, FeatureTrackMedianSpeed, stat.Quantile(0.5, stat.Empirical, speeds, nil))
	}
	return nil
}
