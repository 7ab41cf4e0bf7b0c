// Package types provides shared type definitions for the washedmcp server.
//
// This package defines domain types used across multiple components,
// including indexed entities, indexing progress snapshots, and call-graph
// context results.
//
// # Core Types
//
// Entity represents a code construct (function, method, or type declaration)
// extracted from source code via AST parsing, together with its embedding
// and call relationships:
//
//	ent := &types.Entity{
//	    Name:      "ParseFile",
//	    Kind:      types.KindFunction,
//	    FilePath:  "internal/parser/parser.go",
//	    LineStart: 42,
//	    LineEnd:   77,
//	    Calls:     []string{"ReadFile", "extract"},
//	}
//	ent.Normalize() // derives the stable ID
//
// Entity IDs are deterministic: EntityID hashes (file path, name, start
// line), so re-indexing the same tree produces the same IDs and full
// re-index runs are idempotent.
//
// # Progress Reporting
//
// IndexProgress is the snapshot the pipeline hands to progress callbacks.
// Progress is monotone within a run and reaches 1.0 exactly on success.
// IndexPhase and IndexStatus are the pipeline's state enums; both expose
// IsTerminal for the states that never transition again.
//
// # Call-Graph Context
//
// FunctionContext carries the resolved entity plus its callees, callers,
// and same-file neighbors as produced by the graph engine. An unknown name
// yields a context with a nil Function and empty slices, not an error.
package types
