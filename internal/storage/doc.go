// Package storage persists indexed entities in SQLite and serves vector
// and full-text search over them.
//
// # Build Modes
//
// Two SQLite drivers are supported via build tags:
//
//   - sqlite_vec (CGO): github.com/mattn/go-sqlite3 with the sqlite-vec
//     extension; vector distance is computed in SQL.
//   - purego (default): modernc.org/sqlite; cosine similarity is computed
//     in Go over the stored blobs.
//
// The DriverName, VectorExtensionAvailable, and BuildMode constants report
// the active configuration.
//
// # Data Model
//
// One table, entities, holds everything: the entity record, its call
// lists as JSON, and its embedding as a little-endian float32 blob. An
// FTS5 mirror over (name, code, summary) is maintained by triggers and
// backs BM25 keyword search. Schema changes go through semver-ordered
// migrations recorded in schema_version.
//
// # Usage
//
//	store, err := storage.Open(dbPath)
//	if err != nil { ... }
//	defer store.Close()
//
//	err = store.UpsertEntities(ctx, entities)
//	matches, err := store.Query(ctx, queryVector, 5)
//
// Entity IDs are content-addressed, so Clear followed by UpsertEntities
// of the same tree reproduces the same rows. Writes are serialized by a
// store-level mutex; ReplaceCalledBy runs as one transaction and can
// never interleave with an upsert.
package storage
