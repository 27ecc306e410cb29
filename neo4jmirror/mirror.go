/*
Package neo4jmirror keeps a Neo4j graph in step with a track model by writing
every [publish.ChangeSet] it receives.

Each change set applies in its own write transaction, so the graph only ever
holds states the model had. The mirror records the GraphAfter hash of the last
applied change set; see [Mirror.Head].
*/
package neo4jmirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/pubsub"

	trackmodel "github.com/go-digitaltwin/go-trackmodel"
	"github.com/go-digitaltwin/go-trackmodel/publish"
)

// Mirror writes change sets of a track model to a Neo4j database prepared by
// BootstrapDatabase.
type Mirror struct {
	driver   neo4j.DriverWithContext // Connection to the neo4j server/cluster.
	database string                  // Target database name.
	txMutex  writeShareMutex
}

// NewMirror returns a ready-to-use Mirror writing to the given database.
func NewMirror(driver neo4j.DriverWithContext, database string) *Mirror {
	return &Mirror{driver: driver, database: database}
}

// Apply writes c in a single transaction: spots, then links, then tracks, and
// finally the head. Removed links are deleted before removed spots, and removed
// tracks before updated ones.
//
// If the transaction fails, the graph is left as it was and the error is
// returned. Apply panics if the graph has been corrupted, or if a Cypher query
// no longer matches the code reading its results.
func (m *Mirror) Apply(ctx context.Context, c publish.ChangeSet) (err error) {
	ctx, span := tracer.Start(ctx, "Mirror.Apply", trace.WithAttributes(
		attribute.String("neo4j.database", m.database),
		attribute.Int("spots", len(c.Spots)),
		attribute.Int("links", len(c.Edges)),
	))
	defer span.End()
	defer func(start time.Time) {
		measureApply(ctx, m.database, err == nil, time.Since(start))
	}(time.Now())
	logger := component.Logger(ctx).With("neo4j.database", m.database)

	s := m.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: m.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer func() {
		if err := s.Close(ctx); err != nil {
			logger.Error("Failed to close session", "error", err, "mode", "write")
		}
	}()

	m.txMutex.WLock()
	defer m.txMutex.WUnlock()

	_, err = s.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, write(ctx, changeWriter{tx: tx}, c)
	})
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	} else if errors.Is(err, errPropertyNotFound) || errors.As(err, &unexpectedPropertyTypeError{}) {
		logger.Error("A Cypher query was modified without care", "error", err)
		panic(fmt.Errorf("seek developer attention: neo4j cypher query: %w", err))
	} else if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("neo4j execute: %w", err)
	}
	logger.Debug("Applied change set", "graph-after-hash", c.GraphAfter)
	return nil
}

func write(ctx context.Context, w changeWriter, c publish.ChangeSet) error {
	for _, s := range c.Spots {
		if s.IsRemoved() {
			continue
		}
		if err := w.assertSpot(ctx, s); err != nil {
			return fmt.Errorf("spot %v: %w", s.ID, err)
		}
	}
	for _, e := range c.Edges {
		if e.IsRemoved() {
			if err := w.retractLink(ctx, e); err != nil {
				return fmt.Errorf("%v: %w", e.ID, err)
			}
			continue
		}
		if err := w.assertLink(ctx, e); err != nil {
			return fmt.Errorf("%v: %w", e.ID, err)
		}
	}
	for _, s := range c.Spots {
		if !s.IsRemoved() {
			continue
		}
		if err := w.retractSpot(ctx, s); err != nil {
			return fmt.Errorf("spot %v: %w", s.ID, err)
		}
	}
	for _, id := range c.Removed {
		if err := w.retractTrack(ctx, id); err != nil {
			return fmt.Errorf("%v: %w", id, err)
		}
	}
	for _, t := range c.Updated {
		if err := w.assertTrack(ctx, t); err != nil {
			return fmt.Errorf("%v: %w", t.ID, err)
		}
	}
	return w.moveHead(ctx, c.GraphAfter)
}

// Follow returns a component.Proc that applies every change set received from
// sub, in order. The procedure stops fatally when a change set fails to apply
// or does not follow its predecessor.
func (m *Mirror) Follow(sub *pubsub.Subscription) component.Proc {
	return publish.Stream(sub, m.Apply)
}

// Head returns the GraphAfter hash of the last change set applied to the
// database; the zero hash if none was.
func (m *Mirror) Head(ctx context.Context) (trackmodel.GraphHash, error) {
	var h trackmodel.GraphHash
	records, err := m.read(ctx, `MATCH (h:`+headLabel+`) RETURN h.graph AS graph`, nil)
	if err != nil || len(records) == 0 {
		return h, err
	}
	text, err := getRecordProperty[string](records[0], "graph")
	if err != nil {
		return h, fmt.Errorf("get graph: %w", err)
	}
	if err := h.UnmarshalText([]byte(text)); err != nil {
		return h, fmt.Errorf("unmarshal graph hash: %w", err)
	}
	return h, nil
}

// TrackSpots returns the ids of the spots of a track, ordered by frame.
func (m *Mirror) TrackSpots(ctx context.Context, id trackmodel.TrackID) ([]uuid.UUID, error) {
	records, err := m.read(ctx, `
		MATCH (s:`+spotLabel+`)-[:MEMBER_OF]->(:`+trackLabel+` {id: $id})
		RETURN s.id AS id
		ORDER BY s.frame, s.id
	`, map[string]any{"id": int64(id)})
	if err != nil {
		return nil, err
	}
	spots := make([]uuid.UUID, 0, len(records))
	for _, r := range records {
		text, err := getRecordProperty[string](r, "id")
		if err != nil {
			return nil, fmt.Errorf("get id: %w", err)
		}
		u, err := uuid.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse spot id: %w", err)
		}
		spots = append(spots, u)
	}
	return spots, nil
}

// CountLinks returns the number of links in the database.
func (m *Mirror) CountLinks(ctx context.Context) (int, error) {
	records, err := m.read(ctx, `MATCH ()-[e:LINK]->() RETURN count(e) AS links`, nil)
	if err != nil {
		return 0, err
	}
	n, err := getRecordProperty[int64](records[0], "links")
	if err != nil {
		return 0, fmt.Errorf("get links: %w", err)
	}
	return int(n), nil
}

// read runs a query exclusively of any Apply, so it never observes a change
// set applied halfway.
func (m *Mirror) read(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	s := m.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: m.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer func() {
		if err := s.Close(ctx); err != nil {
			component.Logger(ctx).Error("Failed to close session", "error", err, "mode", "read")
		}
	}()

	m.txMutex.Lock()
	defer m.txMutex.Unlock()

	result, err := s.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("run cypher: %w", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect records: %w", err)
	}
	return records, nil
}
