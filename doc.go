// Package trackmodel provides a transactional in-memory model of tracked
// objects; spots detected in successive frames are linked by a directed
// weighted graph, and the connected components of that graph are tracks.
//
// The Model keeps derived state consistent as spots and links are edited:
// track membership (TrackGraph), spot, link and track features (FeatureModel),
// and the visibility of spots and tracks. Edits are batched in nested
// transactions opened with Model.BeginUpdate and closed with Model.EndUpdate.
// When the outermost transaction closes, the model recomputes tracks if links
// changed, runs edge analyzers before track analyzers, and notifies every
// ModelChangeListener exactly once with a consolidated ModelChangeEvent.
//
// Each track is labeled by a TrackID that survives recomputation as long as
// its set of spots is unchanged, and hashed by a TrackHash that changes with
// its links. A GraphHash over all tracks lets observers of a stream of events
// detect missed events.
//
// The model performs no I/O. Exporters live in sub-packages: publish sends
// change sets over gocloud.dev/pubsub and neo4jmirror mirrors them into Neo4j.
// Package edit records manual edits for later replay.
package trackmodel
