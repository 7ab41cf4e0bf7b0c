// Package graph maintains the call graph derived from indexed entities.
//
// The graph is keyed by bare entity name: forward edges are the Calls
// lists the parser extracted, and reverse edges (CalledBy) are recomputed
// from scratch on every rebuild. Name keying means same-named entities in
// different files share one node; lookups resolve to the first match by
// (file path, start line). That conflation is accepted, not worked
// around.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/clarsbyte/washedmcp/internal/storage"
	"github.com/clarsbyte/washedmcp/pkg/types"
)

// Engine computes and queries call relationships over a store
type Engine struct {
	store *storage.Store
}

// NewEngine creates a call-graph engine bound to a store
func NewEngine(store *storage.Store) *Engine {
	return &Engine{store: store}
}

// Rebuild recomputes every entity's called_by list from the full set of
// forward edges and persists the result in one transaction. The pass is a
// full recompute, so repeated rebuilds over unchanged data converge to
// the same state, and entities that lost all callers are reset to an
// empty list.
func (e *Engine) Rebuild(ctx context.Context) error {
	edges, err := e.store.ListCallEdges(ctx)
	if err != nil {
		return fmt.Errorf("load call edges: %w", err)
	}

	// Invert name-keyed forward edges into caller lists, preserving
	// discovery order.
	callersByName := make(map[string][]string)
	for _, edge := range edges {
		for _, callee := range edge.Calls {
			callersByName[callee] = append(callersByName[callee], edge.Name)
		}
	}

	// Resolve names back to entity IDs. Edges pointing at names that are
	// not indexed (stdlib calls, external packages) simply drop out here.
	calledBy := make(map[string][]string)
	for _, edge := range edges {
		if callers, ok := callersByName[edge.Name]; ok {
			calledBy[edge.ID] = callers
		}
	}

	if err := e.store.ReplaceCalledBy(ctx, calledBy); err != nil {
		return fmt.Errorf("persist called_by: %w", err)
	}
	return nil
}

// GetContext resolves name and expands its neighborhood to the given
// depth. An unknown name yields a context with a nil Function and empty
// slices, not an error. depth <= 0 returns the resolved function with
// empty neighbor lists.
func (e *Engine) GetContext(ctx context.Context, name string, depth int) (*types.FunctionContext, error) {
	result := types.NewFunctionContext()

	root, err := e.store.GetByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	result.Function = root

	if depth <= 0 {
		return result, nil
	}

	result.Callees, err = e.expand(ctx, root.Calls, depth, func(ent *types.Entity) []string {
		return ent.Calls
	}, name)
	if err != nil {
		return nil, err
	}

	result.Callers, err = e.expand(ctx, root.CalledBy, depth, func(ent *types.Entity) []string {
		return ent.CalledBy
	}, name)
	if err != nil {
		return nil, err
	}

	sameFile, err := e.store.GetByFile(ctx, root.FilePath)
	if err != nil {
		return nil, err
	}
	for i := range sameFile {
		if sameFile[i].Name == name {
			continue
		}
		ent := sameFile[i]
		result.SameFile = append(result.SameFile, &ent)
	}

	return result, nil
}

// expand walks one direction of the graph breadth-first. The visited set
// is seeded with the root name so cycles through the root terminate, and
// dangling names (calls into code that is not indexed) are skipped
// silently.
func (e *Engine) expand(ctx context.Context, frontier []string, depth int, next func(*types.Entity) []string, rootName string) ([]*types.Entity, error) {
	visited := map[string]bool{rootName: true}
	found := []*types.Entity{}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var nextFrontier []string
		for _, name := range frontier {
			if visited[name] {
				continue
			}
			visited[name] = true

			ent, err := e.store.GetByName(ctx, name)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			found = append(found, ent)
			nextFrontier = append(nextFrontier, next(ent)...)
		}
		frontier = nextFrontier
	}
	return found, nil
}
