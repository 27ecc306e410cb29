package neo4jmirror

import (
	"context"
	"fmt"

	"github.com/danielorbach/go-component"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	trackmodel "github.com/go-digitaltwin/go-trackmodel"
	"github.com/go-digitaltwin/go-trackmodel/publish"
)

// A changeWriter writes the parts of a ChangeSet within a single neo4j
// transaction.
//
// Spots and tracks are nodes keyed by id. Links are LINK relationships keyed
// by their edge id, and spots belong to tracks through MEMBER_OF
// relationships. Features are stored as properties alongside the fields of
// each element.
type changeWriter struct {
	tx neo4j.ManagedTransaction
}

func (w changeWriter) assertSpot(ctx context.Context, s publish.SpotState) error {
	props := features(s.Features)
	props["id"] = s.ID.String()
	props["name"] = s.Name
	props["frame"] = int64(s.Frame)

	result, err := w.tx.Run(ctx, `
		MERGE (s:`+spotLabel+` {id: $id})
		SET s = $props
		RETURN count(s) AS nodes
	`, map[string]any{
		"id":    s.ID.String(),
		"props": props,
	})
	if err != nil {
		return fmt.Errorf("run cypher: %w", err)
	}
	return expectCount(ctx, result, "nodes", "assert-spot", 1)
}

func (w changeWriter) retractSpot(ctx context.Context, s publish.SpotState) error {
	result, err := w.tx.Run(ctx, `
		MATCH (s:`+spotLabel+` {id: $id})
		DETACH DELETE s
		RETURN count(s) AS nodes
	`, map[string]any{
		"id": s.ID.String(),
	})
	if err != nil {
		return fmt.Errorf("run cypher: %w", err)
	}
	return expectCount(ctx, result, "nodes", "retract-spot", 0, 1)
}

// assertLink merges the endpoints of the link, so a link may arrive before the
// spots it connects are written.
func (w changeWriter) assertLink(ctx context.Context, e publish.EdgeState) error {
	props := features(e.Features)
	props["edge"] = int64(e.ID)
	props["weight"] = e.Weight
	props["track"] = int64(e.Track)

	result, err := w.tx.Run(ctx, `
		MERGE (s:`+spotLabel+` {id: $source})
		MERGE (t:`+spotLabel+` {id: $target})
		MERGE (s)-[e:LINK {edge: $edge}]->(t)
		SET e = $props
		RETURN count(e) AS links
	`, map[string]any{
		"source": e.Source.String(),
		"target": e.Target.String(),
		"edge":   int64(e.ID),
		"props":  props,
	})
	if err != nil {
		return fmt.Errorf("run cypher: %w", err)
	}
	return expectCount(ctx, result, "links", "assert-link", 1)
}

func (w changeWriter) retractLink(ctx context.Context, e publish.EdgeState) error {
	result, err := w.tx.Run(ctx, `
		MATCH ()-[e:LINK {edge: $edge}]->()
		DELETE e
		RETURN count(e) AS links
	`, map[string]any{
		"edge": int64(e.ID),
	})
	if err != nil {
		return fmt.Errorf("run cypher: %w", err)
	}
	return expectCount(ctx, result, "links", "retract-link", 0, 1)
}

// assertTrack writes the track node and replaces its memberships.
func (w changeWriter) assertTrack(ctx context.Context, t publish.TrackState) error {
	hash, err := t.Hash.MarshalText()
	if err != nil {
		return fmt.Errorf("marshal track hash: %w", err)
	}
	props := features(t.Features)
	props["id"] = int64(t.ID)
	props["hash"] = string(hash)
	props["visible"] = t.Visible

	spots := make([]any, len(t.Spots))
	for i, id := range t.Spots {
		spots[i] = id.String()
	}

	result, err := w.tx.Run(ctx, `
		MERGE (t:`+trackLabel+` {id: $id})
		SET t = $props
		WITH t
		OPTIONAL MATCH (t)<-[m:MEMBER_OF]-()
		DELETE m
		WITH DISTINCT t
		UNWIND $spots AS sid
		MATCH (s:`+spotLabel+` {id: sid})
		MERGE (s)-[:MEMBER_OF]->(t)
		RETURN count(s) AS members
	`, map[string]any{
		"id":    int64(t.ID),
		"props": props,
		"spots": spots,
	})
	if err != nil {
		return fmt.Errorf("run cypher: %w", err)
	}
	return expectCount(ctx, result, "members", "assert-track", int64(len(t.Spots)))
}

func (w changeWriter) retractTrack(ctx context.Context, id trackmodel.TrackID) error {
	result, err := w.tx.Run(ctx, `
		MATCH (t:`+trackLabel+` {id: $id})
		DETACH DELETE t
		RETURN count(t) AS nodes
	`, map[string]any{
		"id": int64(id),
	})
	if err != nil {
		return fmt.Errorf("run cypher: %w", err)
	}
	return expectCount(ctx, result, "nodes", "retract-track", 0, 1)
}

// moveHead records the graph hash the mirror is up to date with.
func (w changeWriter) moveHead(ctx context.Context, h trackmodel.GraphHash) error {
	text, err := h.MarshalText()
	if err != nil {
		return fmt.Errorf("marshal graph hash: %w", err)
	}
	_, err = w.tx.Run(ctx, `
		MERGE (h:`+headLabel+`)
		SET h.graph = $graph, h._last_modified = datetime()
	`, map[string]any{
		"graph": string(text),
	})
	if err != nil {
		return fmt.Errorf("run cypher: %w", err)
	}
	return nil
}

// expectCount reads the single count column of a write query and checks it is
// one of the allowed values.
func expectCount(ctx context.Context, result neo4j.ResultWithContext, key, op string, allowed ...int64) error {
	record, err := result.Single(ctx)
	if err != nil {
		return fmt.Errorf("query single result: %w", err)
	}
	n, err := getRecordProperty[int64](record, key)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	for _, want := range allowed {
		if n == want {
			return nil
		}
	}
	panicWithCorruptedGraph(ctx, fmt.Sprintf("%s modified %v %s instead of %v", op, n, key, allowed))
	return nil
}

// When a write touches a different number of elements than a change set
// implies, the mirrored graph has lost its integrity and we may no longer
// write to it. We stop with a panic preceded by telemetry signals (traces,
// metrics, and logs) to bring the situation to our immediate attention.
func panicWithCorruptedGraph(ctx context.Context, reason string) {
	component.Logger(ctx).ErrorContext(ctx, "Encountered corrupted neo4j graph that violates track-model axioms", "error", reason)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, reason)
	corruptionCounter.Add(ctx, 1)
	panic(fmt.Errorf("neo4j graph violates track-model axioms: %v", reason))
}

func features(f map[string]float64) map[string]any {
	props := make(map[string]any, len(f)+4)
	for k, v := range f {
		props[k] = v
	}
	return props
}
