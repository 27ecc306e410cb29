package trackmodel

import (
	"maps"
	"math"

	"github.com/google/uuid"
)

// Standard spot feature keys.
const (
	FeatureFrame     = "FRAME"
	FeatureQuality   = "QUALITY"
	FeaturePositionX = "POSITION_X"
	FeaturePositionY = "POSITION_Y"
	FeaturePositionZ = "POSITION_Z"
	FeaturePositionT = "POSITION_T"
	FeatureRadius    = "RADIUS"
)

// A Spot is a point object detected in a single frame. It carries a set of
// named numeric features, of which FRAME and QUALITY are always present.
//
// Spots are compared by pointer. The UUID returned by ID is only used to refer
// to a spot from outside the process (edit scripts, exported change sets).
//
// A Spot is not safe for concurrent mutation.
type Spot struct {
	id       uuid.UUID
	name     string
	features map[string]float64
}

// NewSpot returns a spot at the given position. Its FRAME is set once it is
// added to a model.
func NewSpot(x, y, z, radius, quality float64) *Spot {
	return &Spot{
		id: uuid.New(),
		features: map[string]float64{
			FeaturePositionX: x,
			FeaturePositionY: y,
			FeaturePositionZ: z,
			FeatureRadius:    radius,
			FeatureQuality:   quality,
			FeatureFrame:     0,
		},
	}
}

// NewSpotWithID restores a spot with a known identifier and feature values.
// Missing FRAME and QUALITY features default to zero.
func NewSpotWithID(id uuid.UUID, features map[string]float64) *Spot {
	s := &Spot{
		id:       id,
		features: make(map[string]float64, len(features)+2),
	}
	maps.Copy(s.features, features)
	if _, ok := s.features[FeatureFrame]; !ok {
		s.features[FeatureFrame] = 0
	}
	if _, ok := s.features[FeatureQuality]; !ok {
		s.features[FeatureQuality] = 0
	}
	return s
}

func (s *Spot) ID() uuid.UUID { return s.id }

func (s *Spot) Name() string { return s.name }

func (s *Spot) SetName(name string) { s.name = name }

// Feature returns the value of the named feature and reports whether it is set.
func (s *Spot) Feature(name string) (float64, bool) {
	v, ok := s.features[name]
	return v, ok
}

// PutFeature stores a feature value. Callers inside a model transaction should
// follow up with Model.UpdateFeatures so that dependent features are refreshed.
func (s *Spot) PutFeature(name string, v float64) {
	s.features[name] = v
}

// Features returns a copy of all feature values.
func (s *Spot) Features() map[string]float64 {
	return maps.Clone(s.features)
}

// Frame returns the frame recorded in the FRAME feature.
func (s *Spot) Frame() int {
	return int(s.features[FeatureFrame])
}

// DistanceTo returns the euclidean distance between the positions of s and o.
func (s *Spot) DistanceTo(o *Spot) float64 {
	dx := s.features[FeaturePositionX] - o.features[FeaturePositionX]
	dy := s.features[FeaturePositionY] - o.features[FeaturePositionY]
	dz := s.features[FeaturePositionZ] - o.features[FeaturePositionZ]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func (s *Spot) String() string {
	if s.name != "" {
		return s.name
	}
	return "spot(" + s.id.String()[:8] + ")"
}
