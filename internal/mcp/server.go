// Package mcp exposes indexing and search over the Model Context
// Protocol. The server speaks stdio, so nothing in this package may write
// to stdout; all diagnostics go to the logger on stderr.
package mcp

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/clarsbyte/washedmcp/internal/embedder"
	"github.com/clarsbyte/washedmcp/internal/graph"
	"github.com/clarsbyte/washedmcp/internal/jobs"
	"github.com/clarsbyte/washedmcp/internal/pipeline"
	"github.com/clarsbyte/washedmcp/internal/searcher"
	"github.com/clarsbyte/washedmcp/internal/security"
	"github.com/clarsbyte/washedmcp/internal/storage"
	"github.com/clarsbyte/washedmcp/internal/toon"
)

const (
	// ServerName is the MCP server name
	ServerName = "washedmcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	store    *storage.Store
	embedder embedder.Embedder
	pipeline *pipeline.Pipeline
	jobs     *jobs.Manager
	searcher *searcher.Searcher
	graph    *graph.Engine
	stats    *toon.Tracker
	logger   *log.Logger
}

// NewServer creates a server backed by the database at dbPath. An empty
// dbPath defaults to ~/.washedmcp/index.db.
func NewServer(dbPath string, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[washedmcp] ", log.LstdFlags)
	}

	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".washedmcp", "index.db")
	}
	dbPath, err := security.ValidateStoreTarget(dbPath)
	if err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initialize embedder: %w", err)
	}

	s := newServer(store, emb, logger)
	if dbPath != ":memory:" {
		s.stats = toon.NewTracker(filepath.Join(filepath.Dir(dbPath), "stats.json"))
	}
	return s, nil
}

// newServer wires the components around an open store and embedder. The
// embedder is shared by the pipeline and the searcher so query vectors
// come from the same provider that produced the index.
func newServer(store *storage.Store, emb embedder.Embedder, logger *log.Logger) *Server {
	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		store:    store,
		embedder: emb,
		pipeline: pipeline.New(pipeline.Config{Embedder: emb, Logger: logger}),
		jobs:     jobs.NewManager(logger),
		searcher: searcher.New(store, emb),
		graph:    graph.NewEngine(store),
		stats:    toon.NewTracker(""),
		logger:   logger,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP server on stdio and blocks until the transport
// closes. Background jobs get a bounded grace period before the store is
// released.
func (s *Server) Serve(ctx context.Context) error {
	defer s.shutdown()
	return server.ServeStdio(s.mcp)
}

func (s *Server) shutdown() {
	s.jobs.Shutdown(jobs.DefaultShutdownGrace)
	if err := s.embedder.Close(); err != nil {
		s.logger.Printf("close embedder: %v", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Printf("close storage: %v", err)
	}
}

// ShutdownWithGrace is the signal-handler path: stop jobs, then close.
func (s *Server) ShutdownWithGrace(grace time.Duration) {
	s.jobs.Shutdown(grace)
	_ = s.embedder.Close()
	_ = s.store.Close()
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(getIndexStatusTool(), s.handleGetIndexStatus)
	s.mcp.AddTool(cancelJobTool(), s.handleCancelJob)
	s.mcp.AddTool(listJobsTool(), s.handleListJobs)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(getFunctionContextTool(), s.handleGetFunctionContext)
	s.mcp.AddTool(getStatsTool(), s.handleGetStats)
	s.mcp.AddTool(getTokenSavingsTool(), s.handleGetTokenSavings)
}
