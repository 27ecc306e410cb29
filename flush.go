package trackmodel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// flush processes everything accumulated since the previous flush. The dirty
// sets are cleared on return, including when an analyzer or a listener panics.
func (m *Model) flush(ctx context.Context) (err error) {
	if m.flushing {
		panic("trackmodel: flush re-entered from a model change listener")
	}
	m.flushing = true

	ctx, span := tracer.Start(ctx, "Model.flush")
	defer span.End()
	defer func(start time.Time) {
		m.clearDirty()
		m.flushing = false
		measureFlush(ctx, err == nil, time.Since(start))
	}(time.Now())

	g := m.graph
	before := g.GraphHash()
	addedEdges, removedEdges, modifiedEdges := g.EdgeChanges()
	edgesChanged := len(addedEdges)+len(removedEdges)+len(modifiedEdges) > 0
	spotsChanged := m.added.Len()+m.removed.Len()+m.moved.Len()+m.updated.Len() > 0
	span.SetAttributes(
		attribute.Int("edges.added", len(addedEdges)),
		attribute.Int("edges.removed", len(removedEdges)),
		attribute.Int("edges.modified", len(modifiedEdges)),
	)

	var delta TrackDelta
	recomputed := edgesChanged || m.recompute
	if recomputed {
		delta = g.ComputeTracksFromGraph()
		m.logger.Debug("Recomputed tracks",
			slog.Int("created", len(delta.Created)),
			slog.Int("changed", len(delta.Changed)),
			slog.Int("removed", len(delta.Removed)),
		)
	}

	tracksToUpdate := newOrderedSet(delta.Created...)
	for _, id := range delta.Changed {
		tracksToUpdate.Add(id)
	}
	for _, e := range modifiedEdges {
		if id, ok := g.TrackIDOf(e); ok {
			tracksToUpdate.Add(id)
		}
	}

	var deadEdges []EdgeID
	for _, e := range removedEdges {
		if !g.HasEdge(e) {
			deadEdges = append(deadEdges, e)
		}
	}
	m.features.expunge(deadEdges, delta.Removed)

	var event *ModelChangeEvent
	now := time.Now().UTC()
	if spotsChanged || edgesChanged {
		event = m.buildEvent(before, g.GraphHash(), now, addedEdges, removedEdges, modifiedEdges)
		event.tracksUpdated = tracksToUpdate.Items()
		event.tracksRemoved = slices.Clone(delta.Removed)
	}

	var errs []error
	if spots := m.spotsToCompute(); len(spots) > 0 {
		errs = append(errs, m.computeSpotFeatures(ctx, spots))
	}
	if len(addedEdges)+len(modifiedEdges) > 0 {
		errs = append(errs, m.computeEdgeFeatures(ctx, addedEdges, modifiedEdges))
	}
	if recomputed {
		errs = append(errs, m.computeTrackFeatures(ctx, tracksToUpdate.Items()))
	}
	err = errors.Join(errs...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	if event != nil {
		m.dispatch(event)
	}
	if m.events.Len() > 0 {
		after := g.GraphHash()
		for kind := range m.events.All() {
			m.dispatch(newSimpleEvent(kind, after, now))
		}
	}
	return err
}

func (m *Model) clearDirty() {
	m.added.Clear()
	m.removed.Clear()
	m.moved.Clear()
	m.updated.Clear()
	m.events.Clear()
	m.graph.ClearChanges()
	m.recompute = false
}

// dispatch notifies a snapshot of the listeners, so listeners may unregister
// themselves while being notified.
func (m *Model) dispatch(e *ModelChangeEvent) {
	for _, entry := range slices.Clone(m.listeners) {
		entry.l.ModelChanged(e)
	}
}

func (m *Model) buildEvent(before, after GraphHash, ts time.Time, added, removed, modified []EdgeID) *ModelChangeEvent {
	e := &ModelChangeEvent{
		kind:        ModelModified,
		spotFlags:   make(map[*Spot]SpotFlag),
		edgeIndex:   make(map[EdgeID]int),
		graphBefore: before,
		graphAfter:  after,
		timestamp:   ts,
	}
	flagSpots := func(set *orderedSet[*Spot], f SpotFlag) {
		for s := range set.All() {
			if _, ok := e.spotFlags[s]; !ok {
				e.spots = append(e.spots, s)
			}
			e.spotFlags[s] |= f
		}
	}
	flagSpots(m.added, SpotAdded)
	flagSpots(m.removed, SpotRemoved)
	flagSpots(m.moved, SpotFrameChanged)
	flagSpots(m.updated, SpotModified)

	flagEdges := func(ids []EdgeID, f EdgeFlag) {
		for _, id := range ids {
			i, ok := e.edgeIndex[id]
			if !ok {
				i = len(e.edges)
				e.edgeIndex[id] = i
				e.edges = append(e.edges, m.describeEdge(id))
			}
			e.edges[i].Flags |= f
		}
	}
	flagEdges(added, EdgeAdded)
	flagEdges(removed, EdgeRemoved)
	flagEdges(modified, EdgeModified)
	return e
}

func (m *Model) describeEdge(id EdgeID) EdgeChange {
	c := EdgeChange{ID: id, Track: NoTrack}
	if l, ok := m.graph.Edge(id); ok {
		c.Source, c.Target, c.Weight = l.Source, l.Target, l.Weight
		if t, ok := m.graph.TrackIDOf(id); ok {
			c.Track = t
		}
	} else if l, t, ok := m.graph.RemovedEdge(id); ok {
		c.Source, c.Target, c.Weight, c.Track = l.Source, l.Target, l.Weight, t
	}
	return c
}

// spotsToCompute returns the added, moved and updated spots still in the model.
func (m *Model) spotsToCompute() []*Spot {
	union := newOrderedSet[*Spot]()
	for _, set := range []*orderedSet[*Spot]{m.added, m.moved, m.updated} {
		for s := range set.All() {
			if m.spots.Contains(s) {
				union.Add(s)
			}
		}
	}
	return union.Items()
}

func (m *Model) computeSpotFeatures(ctx context.Context, spots []*Spot) error {
	var jobs []analyzerJob
	for _, key := range m.analyzers.SpotAnalyzerKeys() {
		a, ok := m.analyzers.SpotAnalyzer(key)
		if !ok {
			continue
		}
		jobs = append(jobs, analyzerJob{kind: "spot", key: key, run: func(ctx context.Context) error {
			return a.ProcessSpots(ctx, m, slices.Clone(spots))
		}})
	}
	// spot analyzers write to the spots themselves, which are not safe for
	// concurrent mutation
	return m.runPhase(ctx, "spot", false, jobs)
}

// computeEdgeFeatures runs local edge analyzers on the live added and
// modified links, and global ones on every link of the tracks owning them.
func (m *Model) computeEdgeFeatures(ctx context.Context, added, modified []EdgeID) error {
	changed := newOrderedSet[EdgeID]()
	for _, ids := range [][]EdgeID{added, modified} {
		for _, id := range ids {
			if m.graph.HasEdge(id) {
				changed.Add(id)
			}
		}
	}
	if changed.Len() == 0 {
		return nil
	}

	var owned []EdgeID
	var jobs []analyzerJob
	for _, key := range m.analyzers.EdgeAnalyzerKeys() {
		a, scope, ok := m.analyzers.EdgeAnalyzer(key)
		if !ok {
			continue
		}
		var input []EdgeID
		switch scope {
		case Local:
			input = changed.Items()
		case Global:
			if owned == nil {
				owned = m.owningTrackEdges(changed)
			}
			input = slices.Clone(owned)
		default:
			panic(fmt.Sprintf("trackmodel: edge analyzer %q has unknown scope %v", key, scope))
		}
		jobs = append(jobs, analyzerJob{kind: "edge", key: key, run: func(ctx context.Context) error {
			return a.ProcessEdges(ctx, m, input)
		}})
	}
	return m.runPhase(ctx, "edge", m.parallel, jobs)
}

func (m *Model) owningTrackEdges(changed *orderedSet[EdgeID]) []EdgeID {
	tracks := newOrderedSet[TrackID]()
	for id := range changed.All() {
		if t, ok := m.graph.TrackIDOf(id); ok {
			tracks.Add(t)
		}
	}
	all := newOrderedSet[EdgeID]()
	for t := range tracks.All() {
		for _, id := range m.graph.TrackEdges(t) {
			all.Add(id)
		}
	}
	return all.Items()
}

// computeTrackFeatures runs local track analyzers on the updated tracks, and
// global ones on the tracks selected by the GlobalTrackInput policy.
func (m *Model) computeTrackFeatures(ctx context.Context, updated []TrackID) error {
	updated = slices.DeleteFunc(updated, func(id TrackID) bool { return !m.graph.HasTrack(id) })

	var jobs []analyzerJob
	for _, key := range m.analyzers.TrackAnalyzerKeys() {
		a, scope, ok := m.analyzers.TrackAnalyzer(key)
		if !ok {
			continue
		}
		var input []TrackID
		switch scope {
		case Local:
			input = slices.Clone(updated)
		case Global:
			if m.globalInput == UpdatedTracks {
				input = slices.Clone(updated)
			} else {
				input = m.graph.FilteredTrackIDs()
			}
		default:
			panic(fmt.Sprintf("trackmodel: track analyzer %q has unknown scope %v", key, scope))
		}
		if len(input) == 0 {
			continue
		}
		jobs = append(jobs, analyzerJob{kind: "track", key: key, run: func(ctx context.Context) error {
			return a.ProcessTracks(ctx, m, input)
		}})
	}
	return m.runPhase(ctx, "track", m.parallel, jobs)
}

type analyzerJob struct {
	kind string
	key  string
	run  func(ctx context.Context) error
}

// do runs the job, turning a panic into an error.
func (j analyzerJob) do(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &AnalyzerError{Kind: j.kind, Key: j.key, Err: err}
		}
	}()
	return j.run(ctx)
}

// runPhase runs every job of a phase to completion, even when some fail, and
// returns their joined errors.
func (m *Model) runPhase(ctx context.Context, phase string, parallel bool, jobs []analyzerJob) error {
	if len(jobs) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "Model.analyze", trace.WithAttributes(
		attribute.String(analyzerKind, phase),
		attribute.Int("analyzer.count", len(jobs)),
	))
	defer span.End()

	errs := make([]error, len(jobs))
	if parallel && len(jobs) > 1 {
		var g errgroup.Group
		for i, j := range jobs {
			g.Go(func() error {
				errs[i] = j.do(ctx)
				return nil
			})
		}
		_ = g.Wait() // jobs never return an error to the group
	} else {
		for i, j := range jobs {
			errs[i] = j.do(ctx)
		}
	}

	for i, err := range errs {
		if err == nil {
			continue
		}
		m.logger.ErrorContext(ctx, "Analyzer failed",
			slog.String(analyzerKind, phase),
			slog.String(analyzerKey, jobs[i].key),
			slog.Any("error", err),
		)
		countAnalyzerFailure(ctx, phase, jobs[i].key)
		span.RecordError(err)
	}
	err := errors.Join(errs...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
