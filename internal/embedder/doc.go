// Package embedder generates vector embeddings for indexed entities and
// search queries.
//
// Three providers are supported: Jina AI and OpenAI over HTTP, and a
// deterministic local provider for offline use and tests. Every provider
// is asked for 384-dimensional vectors, so stored embeddings are directly
// comparable no matter which backend produced them.
//
// # Basic Usage
//
//	emb, err := embedder.NewFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	vectors, err := emb.EmbedBatch(ctx, texts)
//
// EmbedBatch makes one upstream call per invocation and preserves input
// order; an empty batch is an error. Remote providers retry transient
// failures with exponential backoff and serve repeated content from an
// LRU cache keyed by content hash.
package embedder
