// Package parser extracts indexable entities from Go source files.
//
// Each function, method, and type declaration becomes one entity with its
// exact source text, line range, and visibility. Function bodies are walked
// for call expressions; the bare target names (identifier or selector
// method name) are recorded in first-appearance order without duplicates
// and later inverted into caller edges by the graph engine.
//
// Parsing is per-file and failures are per-file: a file with syntax errors
// yields an error for that file only, which the pipeline logs and skips.
package parser
