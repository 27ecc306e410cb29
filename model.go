package trackmodel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/google/uuid"
)

// GlobalTrackInput selects the tracks handed to global track analyzers.
type GlobalTrackInput int

const (
	// FilteredTracks hands every visible track to global track analyzers.
	FilteredTracks GlobalTrackInput = iota
	// UpdatedTracks hands only the tracks that changed in the flush.
	UpdatedTracks
)

func (p GlobalTrackInput) String() string {
	switch p {
	case FilteredTracks:
		return "filtered"
	case UpdatedTracks:
		return "updated"
	default:
		return fmt.Sprintf("GlobalTrackInput(%d)", int(p))
	}
}

// Model holds spots, the links between them and their features, and keeps all
// of it consistent across batches of edits.
//
// Edits are grouped in transactions: BeginUpdate opens one, EndUpdate closes
// it. Transactions nest; only closing the outermost one flushes. A flush
// recomputes tracks if links changed, runs the edge analyzers and then the
// track analyzers, notifies listeners once with a consolidated
// ModelChangeEvent, and resets the accumulated changes. Edits made outside of
// any transaction run in an implicit transaction of their own.
//
// A Model is not safe for concurrent use. Callers that edit a model from
// several goroutines must hold a lock around every transaction.
type Model struct {
	logger    *slog.Logger
	spots     *SpotCollection
	graph     *TrackGraph
	features  *FeatureModel
	analyzers AnalyzerProvider
	byID      map[uuid.UUID]*Spot

	parallel    bool
	globalInput GlobalTrackInput
	spaceUnits  string
	timeUnits   string
	filters     []FeatureFilter

	depth     int
	flushing  bool
	recompute bool
	added     *orderedSet[*Spot]
	removed   *orderedSet[*Spot]
	moved     *orderedSet[*Spot]
	updated   *orderedSet[*Spot]
	events    *orderedSet[EventKind]

	listeners    []listenerEntry
	lastListener uint64
}

type listenerEntry struct {
	id uint64
	l  ModelChangeListener
}

// An Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger for diagnostics. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Model) { m.logger = l }
}

// WithFeatureModel sets the registry that stores features and, unless
// WithAnalyzerProvider is also given, provides the analyzers.
func WithFeatureModel(f *FeatureModel) Option {
	return func(m *Model) { m.features = f }
}

// WithAnalyzerProvider sets where the model looks up analyzers at flush time.
func WithAnalyzerProvider(p AnalyzerProvider) Option {
	return func(m *Model) { m.analyzers = p }
}

// WithParallelAnalyzers runs the analyzers of a phase concurrently. Phases
// still run one after the other.
func WithParallelAnalyzers(parallel bool) Option {
	return func(m *Model) { m.parallel = parallel }
}

// WithGlobalTrackInput selects the tracks given to global track analyzers.
func WithGlobalTrackInput(p GlobalTrackInput) Option {
	return func(m *Model) { m.globalInput = p }
}

// WithPhysicalUnits sets the units of spatial and temporal features.
func WithPhysicalUnits(space, time string) Option {
	return func(m *Model) { m.spaceUnits, m.timeUnits = space, time }
}

// NewModel returns an empty model.
func NewModel(opts ...Option) *Model {
	m := &Model{
		logger:     slog.Default(),
		spots:      NewSpotCollection(),
		graph:      NewTrackGraph(),
		byID:       make(map[uuid.UUID]*Spot),
		spaceUnits: "pixels",
		timeUnits:  "frames",
		added:      newOrderedSet[*Spot](),
		removed:    newOrderedSet[*Spot](),
		moved:      newOrderedSet[*Spot](),
		updated:    newOrderedSet[*Spot](),
		events:     newOrderedSet[EventKind](),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.features == nil {
		m.features = NewFeatureModel()
	}
	if m.analyzers == nil {
		m.analyzers = m.features
	}
	return m
}

// NewModelFromConfig returns an empty model configured by cfg. The analyzers
// named by the configuration are registered with the model's FeatureModel.
// Options are applied after the configuration.
func NewModelFromConfig(cfg Config, opts ...Option) (*Model, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	input, _ := parseGlobalTrackInput(cfg.Analysis.GlobalTrackInput)
	base := []Option{
		WithPhysicalUnits(cfg.Units.Space, cfg.Units.Time),
		WithParallelAnalyzers(cfg.Analysis.Parallel),
		WithGlobalTrackInput(input),
	}
	m := NewModel(append(base, opts...)...)
	if err := RegisterAnalyzers(m.features, cfg.Analysis.Analyzers...); err != nil {
		return nil, fmt.Errorf("register analyzers: %w", err)
	}
	if len(cfg.Filters) > 0 {
		m.FilterSpots(cfg.SpotFilters(), false)
	}
	return m, nil
}

// Spots returns the spot collection. Edit spots through the model only.
func (m *Model) Spots() *SpotCollection { return m.spots }

// Graph returns the link graph. Edit links through the model only.
func (m *Model) Graph() *TrackGraph { return m.graph }

// Features returns the feature registry.
func (m *Model) Features() *FeatureModel { return m.features }

// SpotByID returns the spot of the model with the given identifier.
func (m *Model) SpotByID(id uuid.UUID) (*Spot, bool) {
	s, ok := m.byID[id]
	return s, ok
}

func (m *Model) SpaceUnits() string { return m.spaceUnits }

func (m *Model) TimeUnits() string { return m.timeUnits }

// SetPhysicalUnits changes the units of spatial and temporal features.
func (m *Model) SetPhysicalUnits(space, time string) {
	m.spaceUnits, m.timeUnits = space, time
}

// Depth returns the number of open transactions.
func (m *Model) Depth() int { return m.depth }

// BeginUpdate opens a transaction. Every call must be matched by a call to
// EndUpdate on the same call path.
func (m *Model) BeginUpdate() {
	m.depth++
	m.logger.Debug("Increased update level", slog.Int("level", m.depth))
}

// EndUpdate closes a transaction; closing the outermost one flushes. The
// returned error joins the failures of analyzers run during the flush, in
// which case listeners were still notified.
//
// EndUpdate panics if no transaction is open.
func (m *Model) EndUpdate(ctx context.Context) error {
	if m.depth == 0 {
		panic("trackmodel: EndUpdate called without a matching BeginUpdate")
	}
	m.depth--
	m.logger.Debug("Decreased update level", slog.Int("level", m.depth))
	if m.depth > 0 {
		return nil
	}
	return m.flush(ctx)
}

// Update runs fn inside a transaction. The transaction is closed even if fn
// panics. Errors from fn and from the flush are joined.
func (m *Model) Update(ctx context.Context, fn func() error) (err error) {
	m.BeginUpdate()
	defer func() {
		err = errors.Join(err, m.EndUpdate(ctx))
	}()
	return fn()
}

// implicit runs a single edit in its own transaction when none is open.
func (m *Model) implicit(edit func() bool) bool {
	if m.depth > 0 {
		return edit()
	}
	m.BeginUpdate()
	ok := edit()
	if err := m.EndUpdate(context.Background()); err != nil {
		m.logger.Error("Implicit model update completed with analyzer failures", slog.Any("error", err))
	}
	return ok
}

// AddSpotTo inserts s in the given frame. It returns false, changing nothing,
// if s is already part of the model or if frame is negative.
func (m *Model) AddSpotTo(s *Spot, frame int) bool {
	return m.implicit(func() bool {
		if frame < 0 {
			m.logger.Debug("Spot rejected for negative frame", slog.Any("spot", s), slog.Int("frame", frame))
			return false
		}
		if !m.spots.Add(s, frame) {
			return false
		}
		m.graph.AddVertex(s)
		m.byID[s.ID()] = s
		m.added.Add(s)
		m.logger.Debug("Added spot", slog.Any("spot", s), slog.Int("frame", frame))
		return true
	})
}

// RemoveSpot removes s, and every link touching it, from the frame given by its
// FRAME feature. It returns false, changing nothing, if s is not in that frame.
func (m *Model) RemoveSpot(s *Spot) bool {
	return m.implicit(func() bool {
		frame := s.Frame()
		if !m.spots.Remove(s, frame) {
			m.logger.Debug("Spot to remove not found", slog.Any("spot", s), slog.Int("frame", frame))
			return false
		}
		m.graph.RemoveVertex(s)
		delete(m.byID, s.ID())
		m.removed.Add(s)
		m.logger.Debug("Removed spot", slog.Any("spot", s), slog.Int("frame", frame))
		return true
	})
}

// MoveSpotFrom moves s between frames and marks its links modified. It returns
// false, changing nothing, if s is not in the from frame.
func (m *Model) MoveSpotFrom(s *Spot, from, to int) bool {
	return m.implicit(func() bool {
		if !m.spots.Move(s, from, to) {
			m.logger.Debug("Spot to move not found", slog.Any("spot", s), slog.Int("frame", from))
			return false
		}
		m.graph.markIncidentModified(s)
		m.moved.Add(s)
		m.logger.Debug("Moved spot", slog.Any("spot", s), slog.Int("from", from), slog.Int("to", to))
		return true
	})
}

// UpdateFeatures marks the features of s as changed, along with the links
// touching it, so they are recomputed by the next flush. Spots outside the
// model are ignored.
func (m *Model) UpdateFeatures(s *Spot) {
	m.implicit(func() bool {
		if !m.spots.Contains(s) {
			m.logger.Debug("Updated spot not in model", slog.Any("spot", s))
			return false
		}
		m.graph.markIncidentModified(s)
		m.updated.Add(s)
		return true
	})
}

// AddEdge links source to target. It returns false if either spot is not in
// the model or if both are the same spot.
func (m *Model) AddEdge(source, target *Spot, weight float64) (EdgeID, bool) {
	var id EdgeID
	ok := m.implicit(func() bool {
		var ok bool
		id, ok = m.graph.AddEdge(source, target, weight)
		return ok
	})
	return id, ok
}

// RemoveEdgeBetween removes the oldest link going from source to target. It
// returns false if there is none.
func (m *Model) RemoveEdgeBetween(source, target *Spot) (EdgeID, bool) {
	var id EdgeID
	ok := m.implicit(func() bool {
		var ok bool
		id, ok = m.graph.RemoveEdgeBetween(source, target)
		return ok
	})
	return id, ok
}

// RemoveEdge removes a link. It returns false if the link does not exist.
func (m *Model) RemoveEdge(id EdgeID) bool {
	return m.implicit(func() bool {
		return m.graph.RemoveEdge(id)
	})
}

// SetEdgeWeight changes the weight of a link. It is not a structural change
// and by itself triggers neither track nor feature computation.
func (m *Model) SetEdgeWeight(id EdgeID, weight float64) bool {
	return m.graph.SetEdgeWeight(id, weight)
}

// SetSpots replaces the spot collection. Links touching spots that are not in
// c are removed. With notify set, listeners receive a SpotsComputed event.
func (m *Model) SetSpots(c *SpotCollection, notify bool) {
	m.implicit(func() bool {
		for _, v := range m.graph.Vertices() {
			if !c.Contains(v) {
				m.graph.RemoveVertex(v)
			}
		}
		clear(m.byID)
		for _, s := range c.All() {
			m.graph.AddVertex(s)
			m.byID[s.ID()] = s
		}
		m.spots = c
		if notify {
			m.events.Add(SpotsComputed)
		}
		return true
	})
}

// FilterSpots applies feature filters to the spot collection. With notify set,
// listeners receive a SpotsFiltered event.
func (m *Model) FilterSpots(filters []FeatureFilter, notify bool) {
	m.implicit(func() bool {
		m.filters = append([]FeatureFilter(nil), filters...)
		m.spots.Filter(m.filters)
		if notify {
			m.events.Add(SpotsFiltered)
		}
		return true
	})
}

// SpotFilters returns the filters last applied with FilterSpots.
func (m *Model) SpotFilters() []FeatureFilter {
	return append([]FeatureFilter(nil), m.filters...)
}

// ComputeTracks forces the next flush to recompute tracks and track features
// even if no link changed. With notify set, listeners receive a TracksComputed
// event.
func (m *Model) ComputeTracks(notify bool) {
	m.implicit(func() bool {
		m.recompute = true
		if notify {
			m.events.Add(TracksComputed)
		}
		return true
	})
}

// SetTrackVisible shows or hides a track. It returns false if the track does
// not exist or already has that visibility. With notify set, listeners receive
// a TracksVisibilityChanged event.
func (m *Model) SetTrackVisible(id TrackID, visible, notify bool) bool {
	return m.implicit(func() bool {
		if !m.graph.SetVisible(id, visible) {
			return false
		}
		if notify {
			m.events.Add(TracksVisibilityChanged)
		}
		return true
	})
}

// SetFilteredTrackIDs replaces the set of visible tracks. With notify set,
// listeners receive a TracksVisibilityChanged event.
func (m *Model) SetFilteredTrackIDs(ids []TrackID, notify bool) {
	m.implicit(func() bool {
		m.graph.SetFilteredTrackIDs(ids)
		if notify {
			m.events.Add(TracksVisibilityChanged)
		}
		return true
	})
}

// AddModelChangeListener registers l to be notified after every flush. The
// returned function unregisters it.
func (m *Model) AddModelChangeListener(l ModelChangeListener) (remove func()) {
	m.lastListener++
	id := m.lastListener
	m.listeners = append(m.listeners, listenerEntry{id: id, l: l})
	return func() { m.removeListener(func(e listenerEntry) bool { return e.id == id }) }
}

// RemoveModelChangeListener unregisters the first registration of l and
// reports whether there was one. Listeners of an incomparable dynamic type,
// such as ModelChangeListenerFunc, can only be removed with the function
// returned by AddModelChangeListener.
func (m *Model) RemoveModelChangeListener(l ModelChangeListener) bool {
	return m.removeListener(func(e listenerEntry) bool { return sameListener(e.l, l) })
}

func (m *Model) removeListener(match func(listenerEntry) bool) bool {
	for i, e := range m.listeners {
		if match(e) {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func sameListener(a, b ModelChangeListener) bool {
	t := reflect.TypeOf(a)
	if t == nil || t != reflect.TypeOf(b) || !t.Comparable() {
		return false
	}
	return a == b
}

// ModelChangeListeners returns the registered listeners in registration order.
func (m *Model) ModelChangeListeners() []ModelChangeListener {
	out := make([]ModelChangeListener, len(m.listeners))
	for i, e := range m.listeners {
		out[i] = e.l
	}
	return out
}

func (m *Model) String() string {
	var b strings.Builder
	if n := m.spots.CountTotal(false); n == 0 {
		b.WriteString("No spots.\n")
	} else {
		fmt.Fprintf(&b, "Contains %d spots in total.\n", n)
	}
	if n := m.spots.CountTotal(true); n == 0 {
		b.WriteString("No filtered spots.\n")
	} else {
		fmt.Fprintf(&b, "Contains %d filtered spots.\n", n)
	}
	if n := m.graph.NTracks(false); n == 0 {
		b.WriteString("No tracks.\n")
	} else {
		fmt.Fprintf(&b, "Contains %d tracks in total.\n", n)
	}
	if n := m.graph.NTracks(true); n == 0 {
		b.WriteString("No filtered tracks.\n")
	} else {
		fmt.Fprintf(&b, "Contains %d filtered tracks.\n", n)
	}
	fmt.Fprintf(&b, "Physical units:\n  space units: %s\n  time units: %s\n", m.spaceUnits, m.timeUnits)
	return b.String()
}
