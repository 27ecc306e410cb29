package trackmodel

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Scope tells the model which elements an analyzer needs.
type Scope int

const (
	// Local analyzers receive exactly the changed elements.
	Local Scope = iota
	// Global analyzers receive every element of the tracks owning the changed
	// elements.
	Global
)

func (s Scope) String() string {
	switch s {
	case Local:
		return "local"
	case Global:
		return "global"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// A SpotAnalyzer computes spot features. Spot analyzers run sequentially before
// any other analyzer and may write to the given spots.
type SpotAnalyzer interface {
	ProcessSpots(ctx context.Context, m *Model, spots []*Spot) error
}

// An EdgeAnalyzer computes link features and stores them with
// FeatureModel.PutEdgeFeature.
type EdgeAnalyzer interface {
	ProcessEdges(ctx context.Context, m *Model, edges []EdgeID) error
}

// A TrackAnalyzer computes track features and stores them with
// FeatureModel.PutTrackFeature. Track analyzers run after every edge analyzer
// has completed, so they may read link features of the same flush.
type TrackAnalyzer interface {
	ProcessTracks(ctx context.Context, m *Model, tracks []TrackID) error
}

type (
	SpotAnalyzerFunc  func(ctx context.Context, m *Model, spots []*Spot) error
	EdgeAnalyzerFunc  func(ctx context.Context, m *Model, edges []EdgeID) error
	TrackAnalyzerFunc func(ctx context.Context, m *Model, tracks []TrackID) error
)

func (f SpotAnalyzerFunc) ProcessSpots(ctx context.Context, m *Model, spots []*Spot) error {
	return f(ctx, m, spots)
}

func (f EdgeAnalyzerFunc) ProcessEdges(ctx context.Context, m *Model, edges []EdgeID) error {
	return f(ctx, m, edges)
}

func (f TrackAnalyzerFunc) ProcessTracks(ctx context.Context, m *Model, tracks []TrackID) error {
	return f(ctx, m, tracks)
}

// AnalyzerProvider is the registry contract the model consumes when flushing.
// Keys are listed in the order analyzers must run.
type AnalyzerProvider interface {
	SpotAnalyzerKeys() []string
	SpotAnalyzer(key string) (SpotAnalyzer, bool)
	EdgeAnalyzerKeys() []string
	EdgeAnalyzer(key string) (EdgeAnalyzer, Scope, bool)
	TrackAnalyzerKeys() []string
	TrackAnalyzer(key string) (TrackAnalyzer, Scope, bool)
}

// ErrDuplicateAnalyzer is returned when registering a key twice for the same
// kind of analyzer.
var ErrDuplicateAnalyzer = errors.New("analyzer already registered")

// AnalyzerError reports the failure of a single analyzer during a flush.
type AnalyzerError struct {
	Kind string // "spot", "edge" or "track"
	Key  string
	Err  error
}

func (e *AnalyzerError) Error() string {
	return fmt.Sprintf("%s analyzer %q: %v", e.Kind, e.Key, e.Err)
}

func (e *AnalyzerError) Unwrap() error { return e.Err }

type registration[A any] struct {
	analyzer A
	scope    Scope
}

// FeatureModel registers analyzers and stores the link and track features
// they compute. It implements AnalyzerProvider.
//
// Feature reads and writes are safe for concurrent use, so that analyzers of a
// phase may run in parallel. Registration is not; register analyzers before
// the model is shared.
type FeatureModel struct {
	spotKeys  []string
	spots     map[string]SpotAnalyzer
	edgeKeys  []string
	edges     map[string]registration[EdgeAnalyzer]
	trackKeys []string
	tracks    map[string]registration[TrackAnalyzer]

	mu            sync.RWMutex
	edgeFeatures  map[EdgeID]map[string]float64
	trackFeatures map[TrackID]map[string]float64
}

func NewFeatureModel() *FeatureModel {
	return &FeatureModel{
		spots:         make(map[string]SpotAnalyzer),
		edges:         make(map[string]registration[EdgeAnalyzer]),
		tracks:        make(map[string]registration[TrackAnalyzer]),
		edgeFeatures:  make(map[EdgeID]map[string]float64),
		trackFeatures: make(map[TrackID]map[string]float64),
	}
}

func (f *FeatureModel) AddSpotAnalyzer(key string, a SpotAnalyzer) error {
	if _, ok := f.spots[key]; ok {
		return fmt.Errorf("spot %q: %w", key, ErrDuplicateAnalyzer)
	}
	f.spots[key] = a
	f.spotKeys = append(f.spotKeys, key)
	return nil
}

func (f *FeatureModel) AddEdgeAnalyzer(key string, scope Scope, a EdgeAnalyzer) error {
	if _, ok := f.edges[key]; ok {
		return fmt.Errorf("edge %q: %w", key, ErrDuplicateAnalyzer)
	}
	f.edges[key] = registration[EdgeAnalyzer]{analyzer: a, scope: scope}
	f.edgeKeys = append(f.edgeKeys, key)
	return nil
}

func (f *FeatureModel) AddTrackAnalyzer(key string, scope Scope, a TrackAnalyzer) error {
	if _, ok := f.tracks[key]; ok {
		return fmt.Errorf("track %q: %w", key, ErrDuplicateAnalyzer)
	}
	f.tracks[key] = registration[TrackAnalyzer]{analyzer: a, scope: scope}
	f.trackKeys = append(f.trackKeys, key)
	return nil
}

func (f *FeatureModel) SpotAnalyzerKeys() []string { return slices.Clone(f.spotKeys) }

func (f *FeatureModel) SpotAnalyzer(key string) (SpotAnalyzer, bool) {
	a, ok := f.spots[key]
	return a, ok
}

func (f *FeatureModel) EdgeAnalyzerKeys() []string { return slices.Clone(f.edgeKeys) }

func (f *FeatureModel) EdgeAnalyzer(key string) (EdgeAnalyzer, Scope, bool) {
	r, ok := f.edges[key]
	return r.analyzer, r.scope, ok
}

func (f *FeatureModel) TrackAnalyzerKeys() []string { return slices.Clone(f.trackKeys) }

func (f *FeatureModel) TrackAnalyzer(key string) (TrackAnalyzer, Scope, bool) {
	r, ok := f.tracks[key]
	return r.analyzer, r.scope, ok
}

func (f *FeatureModel) EdgeFeature(id EdgeID, name string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.edgeFeatures[id][name]
	return v, ok
}

func (f *FeatureModel) PutEdgeFeature(id EdgeID, name string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.edgeFeatures[id]
	if !ok {
		m = make(map[string]float64)
		f.edgeFeatures[id] = m
	}
	m[name] = v
}

// EdgeFeatures returns a copy of all features of a link.
func (f *FeatureModel) EdgeFeatures(id EdgeID) map[string]float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return maps.Clone(f.edgeFeatures[id])
}

func (f *FeatureModel) TrackFeature(id TrackID, name string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.trackFeatures[id][name]
	return v, ok
}

func (f *FeatureModel) PutTrackFeature(id TrackID, name string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.trackFeatures[id]
	if !ok {
		m = make(map[string]float64)
		f.trackFeatures[id] = m
	}
	m[name] = v
}

// TrackFeatures returns a copy of all features of a track.
func (f *FeatureModel) TrackFeatures(id TrackID) map[string]float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return maps.Clone(f.trackFeatures[id])
}

// expunge drops the features of links and tracks that no longer exist.
func (f *FeatureModel) expunge(edges []EdgeID, tracks []TrackID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range edges {
		delete(f.edgeFeatures, id)
	}
	for _, id := range tracks {
		delete(f.trackFeatures, id)
	}
}
