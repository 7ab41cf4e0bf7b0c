// indexcheck runs the full indexing pipeline end to end against a
// throwaway codebase using the local embedding provider. It exercises
// scan, parse, embed, store, call-graph rebuild, and search without any
// API key, so it doubles as a smoke test for the purego build.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/clarsbyte/washedmcp/internal/embedder"
	"github.com/clarsbyte/washedmcp/internal/graph"
	"github.com/clarsbyte/washedmcp/internal/pipeline"
	"github.com/clarsbyte/washedmcp/internal/searcher"
	"github.com/clarsbyte/washedmcp/internal/storage"
)

func main() {
	fmt.Println("Checking indexing pipeline...")

	tmpDir, err := os.MkdirTemp("", "washedmcp-check-*")
	if err != nil {
		log.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	testCode := `package main

// Add adds two numbers
func Add(a, b int) int {
	return a + b
}

func main() {
	result := Add(1, 2)
	println(result)
}
`
	if err := os.WriteFile(filepath.Join(tmpDir, "main.go"), []byte(testCode), 0644); err != nil {
		log.Fatalf("Failed to write test file: %v", err)
	}

	store, err := storage.Open(":memory:")
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	emb, err := embedder.New(embedder.Config{Provider: embedder.ProviderLocal})
	if err != nil {
		log.Fatalf("Failed to create embedder: %v", err)
	}
	defer emb.Close()

	p := pipeline.New(pipeline.Config{Embedder: emb})

	ctx := context.Background()
	result, err := p.Run(ctx, store, pipeline.Options{Path: tmpDir})
	if err != nil {
		log.Fatalf("Failed to index: %v", err)
	}

	fmt.Printf("\nIndexing Result:\n")
	fmt.Printf("  Status: %s\n", result.Status)
	fmt.Printf("  Files Processed: %d\n", result.FilesProcessed)
	fmt.Printf("  Functions Indexed: %d\n", result.FunctionsIndexed)
	fmt.Printf("  Duration: %v\n", result.Duration)

	stats, err := store.GetStats(ctx)
	if err != nil {
		log.Fatalf("Failed to read stats: %v", err)
	}
	fmt.Printf("\nStore:\n")
	fmt.Printf("  Entities: %d\n", stats.Entities)
	fmt.Printf("  Files: %d\n", stats.Files)
	fmt.Printf("  Dimension: %d\n", stats.Dimension)
	fmt.Printf("  Build Mode: %s\n", stats.BuildMode)

	// Search for the function we just indexed.
	s := searcher.New(store, emb)
	resp, err := s.Search(ctx, searcher.Request{Query: "add two numbers", TopK: 3})
	if err != nil {
		log.Fatalf("Failed to search: %v", err)
	}
	fmt.Printf("\nSearch:\n")
	for _, r := range resp.Results {
		fmt.Printf("  #%d %s (%s) score=%.4f\n", r.Rank, r.Entity.Name, r.Entity.FilePath, r.Score)
	}

	// And verify the call graph knows Add is called by main.
	fc, err := graph.NewEngine(store).GetContext(ctx, "Add", 1)
	if err != nil {
		log.Fatalf("Failed to get context: %v", err)
	}
	callers := make([]string, len(fc.Callers))
	for i, c := range fc.Callers {
		callers[i] = c.Name
	}
	fmt.Printf("\nCall Graph:\n")
	fmt.Printf("  Add called by: %v\n", callers)

	if stats.Entities > 0 && len(resp.Results) > 0 && len(callers) == 1 {
		fmt.Println("\nSUCCESS: pipeline, search, and call graph all check out")
	} else {
		fmt.Println("\nFAILURE: pipeline produced an incomplete index")
		os.Exit(1)
	}
}
