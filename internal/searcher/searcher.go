// Package searcher coordinates semantic, keyword, and hybrid search over
// the entity store, with optional call-graph context attached to the best
// match.
package searcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/clarsbyte/washedmcp/internal/embedder"
	"github.com/clarsbyte/washedmcp/internal/graph"
	"github.com/clarsbyte/washedmcp/internal/security"
	"github.com/clarsbyte/washedmcp/internal/storage"
	"github.com/clarsbyte/washedmcp/pkg/types"
)

// SearchMode defines how search is performed
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"  // Vector + BM25 with RRF
	SearchModeVector  SearchMode = "vector"  // Vector similarity only
	SearchModeKeyword SearchMode = "keyword" // BM25 text search only
)

const (
	defaultTopK     = 10
	maxTopK         = 100
	defaultRRFK     = 60.0
	defaultCacheTTL = time.Hour
	cacheSize       = 1000
)

// Request contains parameters for a search operation
type Request struct {
	Query        string
	TopK         int
	Mode         SearchMode
	ContextDepth int // call-graph depth attached to the best match
	UseCache     bool
	CacheTTL     time.Duration
	RRFConstant  float64 // k value for Reciprocal Rank Fusion
}

// Result is one ranked match
type Result struct {
	Entity *types.Entity
	Score  float64
	Rank   int
}

// Response contains search results and metadata
type Response struct {
	Results      []Result
	TotalResults int
	Mode         SearchMode
	Duration     time.Duration
	CacheHit     bool
	// Context is the call-graph neighborhood of the top result, present
	// only when the request asked for a positive ContextDepth.
	Context *types.FunctionContext
}

// cacheEntry is a cached response with its expiration time
type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Searcher runs queries against a store using an embedder for semantic
// similarity and a graph engine for context expansion
type Searcher struct {
	store    *storage.Store
	embedder embedder.Embedder
	graph    *graph.Engine
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.RWMutex
}

// New creates a Searcher over the given store and embedder
func New(store *storage.Store, emb embedder.Embedder) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](cacheSize)
	if err != nil {
		// only possible with a non-positive size
		panic(fmt.Sprintf("create LRU cache: %v", err))
	}
	return &Searcher{
		store:    store,
		embedder: emb,
		graph:    graph.NewEngine(store),
		cache:    cache,
	}
}

// Search runs one query. The query is validated before anything else, so
// an over-long or empty query fails fast without touching the embedder.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	query, err := security.ValidateQuery(req.Query)
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	req.Query = query
	applyDefaults(&req)

	if req.UseCache {
		if cached := s.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(start)
			return cached, nil
		}
	}

	var resp *Response
	switch req.Mode {
	case SearchModeHybrid:
		resp, err = s.hybridSearch(ctx, req)
	case SearchModeVector:
		resp, err = s.vectorSearch(ctx, req)
	case SearchModeKeyword:
		resp, err = s.keywordSearch(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported search mode: %s", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	if req.ContextDepth > 0 && len(resp.Results) > 0 {
		fc, err := s.graph.GetContext(ctx, resp.Results[0].Entity.Name, req.ContextDepth)
		if err != nil {
			return nil, fmt.Errorf("expand context: %w", err)
		}
		resp.Context = fc
	}

	resp.Mode = req.Mode
	resp.Duration = time.Since(start)

	if req.UseCache && len(resp.Results) > 0 {
		s.storeInCache(req, resp)
	}
	return resp, nil
}

func applyDefaults(req *Request) {
	if req.TopK <= 0 {
		req.TopK = defaultTopK
	}
	if req.TopK > maxTopK {
		req.TopK = maxTopK
	}
	if req.Mode == "" {
		req.Mode = SearchModeHybrid
	}
	if req.RRFConstant == 0 {
		req.RRFConstant = defaultRRFK
	}
	if req.CacheTTL == 0 {
		req.CacheTTL = defaultCacheTTL
	}
}

// vectorSearch embeds the query and ranks entities by cosine similarity
func (s *Searcher) vectorSearch(ctx context.Context, req Request) (*Response, error) {
	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.store.Query(ctx, vector, req.TopK)
	if err != nil {
		return nil, err
	}
	return responseFromMatches(matches), nil
}

// keywordSearch runs BM25 full-text search only
func (s *Searcher) keywordSearch(ctx context.Context, req Request) (*Response, error) {
	matches, err := s.store.SearchText(ctx, req.Query, req.TopK)
	if err != nil {
		return nil, err
	}
	return responseFromMatches(matches), nil
}

// hybridSearch runs vector and text search concurrently and fuses the two
// rankings with Reciprocal Rank Fusion. One leg may fail as long as the
// other produces results.
func (s *Searcher) hybridSearch(ctx context.Context, req Request) (*Response, error) {
	var (
		vectorMatches, textMatches []storage.Match
		vectorErr, textErr         error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vector, err := s.embedder.EmbedQuery(gctx, req.Query)
		if err != nil {
			vectorErr = fmt.Errorf("embed query: %w", err)
			return nil
		}
		vectorMatches, vectorErr = s.store.Query(gctx, vector, req.TopK*2)
		return nil
	})
	g.Go(func() error {
		textMatches, textErr = s.store.SearchText(gctx, req.Query, req.TopK*2)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if vectorErr != nil && textErr != nil {
		return nil, fmt.Errorf("both searches failed: vector=%w, text=%v", vectorErr, textErr)
	}

	fused := applyRRF(vectorMatches, textMatches, req.RRFConstant)
	if len(fused) > req.TopK {
		fused = fused[:req.TopK]
	}
	for i := range fused {
		fused[i].Rank = i + 1
	}
	return &Response{Results: fused, TotalResults: len(fused)}, nil
}

// applyRRF fuses two rankings by entity ID.
// RRF(d) = sum over rankings of 1/(k + rank(d))
func applyRRF(vectorMatches, textMatches []storage.Match, k float64) []Result {
	scores := make(map[string]float64)
	entities := make(map[string]types.Entity)

	for rank := range vectorMatches {
		id := vectorMatches[rank].Entity.ID
		scores[id] += 1.0 / (k + float64(rank+1))
		entities[id] = vectorMatches[rank].Entity
	}
	for rank := range textMatches {
		id := textMatches[rank].Entity.ID
		scores[id] += 1.0 / (k + float64(rank+1))
		entities[id] = textMatches[rank].Entity
	}

	fused := make([]Result, 0, len(scores))
	for id, score := range scores {
		ent := entities[id]
		fused = append(fused, Result{Entity: &ent, Score: score})
	}
	sort.Slice(fused, func(a, b int) bool {
		if fused[a].Score != fused[b].Score {
			return fused[a].Score > fused[b].Score
		}
		return fused[a].Entity.ID < fused[b].Entity.ID
	})
	return fused
}

func responseFromMatches(matches []storage.Match) *Response {
	results := make([]Result, len(matches))
	for i := range matches {
		ent := matches[i].Entity
		results[i] = Result{
			Entity: &ent,
			Score:  matches[i].Score,
			Rank:   i + 1,
		}
	}
	return &Response{Results: results, TotalResults: len(results)}
}

// checkCache returns a copy of a fresh cached response, or nil on miss
func (s *Searcher) checkCache(req Request) *Response {
	key := cacheKey(req)

	s.cacheMu.RLock()
	entry, ok := s.cache.Get(key)
	if !ok {
		s.cacheMu.RUnlock()
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cacheMu.RUnlock()
		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}
	resp := copyResponse(entry.response)
	s.cacheMu.RUnlock()
	return resp
}

func (s *Searcher) storeInCache(req Request, resp *Response) {
	entry := &cacheEntry{
		response:  copyResponse(resp),
		expiresAt: time.Now().Add(req.CacheTTL),
	}
	s.cacheMu.Lock()
	s.cache.Add(cacheKey(req), entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached response. Called after an indexing
// run so stale results never survive a re-index.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// cacheKey hashes the request fields that affect results
func cacheKey(req Request) [32]byte {
	data := fmt.Sprintf("%s|%s|%d|%d", req.Query, req.Mode, req.TopK, req.ContextDepth)
	return sha256.Sum256([]byte(data))
}

// copyResponse deep-copies a response so cached entries are never aliased
// by callers
func copyResponse(src *Response) *Response {
	if src == nil {
		return nil
	}
	dst := &Response{
		Results:      make([]Result, len(src.Results)),
		TotalResults: src.TotalResults,
		Mode:         src.Mode,
		Duration:     src.Duration,
		CacheHit:     src.CacheHit,
	}
	for i, r := range src.Results {
		dst.Results[i] = Result{Score: r.Score, Rank: r.Rank}
		if r.Entity != nil {
			ent := copyEntity(r.Entity)
			dst.Results[i].Entity = ent
		}
	}
	if src.Context != nil {
		fc := types.NewFunctionContext()
		if src.Context.Function != nil {
			fc.Function = copyEntity(src.Context.Function)
		}
		fc.Callees = copyEntities(src.Context.Callees)
		fc.Callers = copyEntities(src.Context.Callers)
		fc.SameFile = copyEntities(src.Context.SameFile)
		dst.Context = fc
	}
	return dst
}

func copyEntity(src *types.Entity) *types.Entity {
	dst := *src
	dst.Calls = append([]string{}, src.Calls...)
	dst.CalledBy = append([]string{}, src.CalledBy...)
	dst.Vector = append([]float32{}, src.Vector...)
	return &dst
}

func copyEntities(src []*types.Entity) []*types.Entity {
	dst := make([]*types.Entity, len(src))
	for i := range src {
		dst[i] = copyEntity(src[i])
	}
	return dst
}
