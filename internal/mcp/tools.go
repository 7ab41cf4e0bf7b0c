package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/clarsbyte/washedmcp/internal/jobs"
	"github.com/clarsbyte/washedmcp/internal/pipeline"
	"github.com/clarsbyte/washedmcp/internal/searcher"
	"github.com/clarsbyte/washedmcp/internal/toon"
	"github.com/clarsbyte/washedmcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeJobNotFound        = -32001 // Unknown job ID
	ErrorCodeIndexingInProgress = -32002 // Another indexing run is already active
	ErrorCodeNotIndexed         = -32003 // No codebase has been indexed yet
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{Code: code, Message: message, Data: data}
}

// handleIndexCodebase handles the index_codebase tool invocation
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	background := getBoolDefault(args, "background", true)
	timeoutSeconds := getIntDefault(args, "timeout_seconds", 0)
	if timeoutSeconds < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "timeout_seconds must not be negative", map[string]interface{}{
			"param": "timeout_seconds",
			"value": timeoutSeconds,
		})
	}

	opts := pipeline.Options{
		Path:          path,
		SkipSummaries: getBoolDefault(args, "skip_summaries", false),
		Timeout:       time.Duration(timeoutSeconds) * time.Second,
	}

	if background {
		return s.submitIndexJob(path, opts)
	}
	return s.runIndexInline(ctx, opts)
}

func (s *Server) submitIndexJob(path string, opts pipeline.Options) (*mcp.CallToolResult, error) {
	// The worker serializes jobs, so a queued duplicate would run
	// back-to-back with the active one rather than trip the pipeline lock.
	// Reject it up front instead.
	if active, ok := s.jobs.ActiveIndexJob(); ok {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "an indexing run is already in progress", map[string]interface{}{
			"job_id": active.ID,
		})
	}

	id, err := s.jobs.Submit(jobs.KindIndex, path, func(ctx context.Context, progress types.ProgressFunc) error {
		opts.Progress = progress
		_, err := s.pipeline.Run(ctx, s.store, opts)
		if err == nil {
			s.searcher.InvalidateCache()
		}
		return err
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to queue indexing job", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"job_id": id,
		"status": string(types.StatusPending),
		"path":   path,
	})), nil
}

func (s *Server) runIndexInline(ctx context.Context, opts pipeline.Options) (*mcp.CallToolResult, error) {
	result, err := s.pipeline.Run(ctx, s.store, opts)
	if errors.Is(err, pipeline.ErrIndexInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "an indexing run is already in progress", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.searcher.InvalidateCache()

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"status":            string(result.Status),
		"files_processed":   result.FilesProcessed,
		"functions_indexed": result.FunctionsIndexed,
		"duration_ms":       result.Duration.Milliseconds(),
		"path":              result.Path,
	})), nil
}

// handleGetIndexStatus handles the get_index_status tool invocation
func (s *Server) handleGetIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	if id := getStringDefault(args, "job_id", ""); id != "" {
		job, err := s.jobs.Get(id)
		if errors.Is(err, jobs.ErrJobNotFound) {
			return nil, newMCPError(ErrorCodeJobNotFound, "unknown job ID", map[string]interface{}{
				"job_id": id,
			})
		}
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to look up job", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return mcp.NewToolResultText(formatJSON(jobResponse(job))), nil
	}

	if job, ok := s.jobs.ActiveIndexJob(); ok {
		return mcp.NewToolResultText(formatJSON(jobResponse(job))), nil
	}

	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read index statistics", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"indexed":  stats.Entities > 0,
		"entities": stats.Entities,
		"files":    stats.Files,
	})), nil
}

// handleCancelJob handles the cancel_job tool invocation
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id, ok := args["job_id"].(string)
	if !ok || id == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "job_id parameter is required", map[string]interface{}{
			"param":  "job_id",
			"reason": "missing or empty",
		})
	}

	switch err := s.jobs.Cancel(id); {
	case errors.Is(err, jobs.ErrJobNotFound):
		return nil, newMCPError(ErrorCodeJobNotFound, "unknown job ID", map[string]interface{}{
			"job_id": id,
		})
	case errors.Is(err, jobs.ErrJobDone):
		// cancelling a finished job is a no-op, not a protocol error
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"cancelled": false,
			"job_id":    id,
			"reason":    "job already finished",
		})), nil
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "failed to cancel job", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"cancelled": true,
		"job_id":    id,
	})), nil
}

// handleListJobs handles the list_jobs tool invocation
func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	status := getStringDefault(args, "status", "")
	switch types.IndexStatus(status) {
	case "", types.StatusPending, types.StatusInProgress, types.StatusComplete,
		types.StatusError, types.StatusCancelled:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid status filter", map[string]interface{}{
			"param": "status",
			"value": status,
		})
	}

	list := s.jobs.List(types.IndexStatus(status), getStringDefault(args, "kind", ""))
	out := make([]map[string]interface{}, len(list))
	for i, job := range list {
		out[i] = jobResponse(job)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"jobs":  out,
		"count": len(out),
	})), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", 10)
	if topK < 1 || topK > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be between 1 and 100", map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	depth := getIntDefault(args, "depth", 0)
	if depth < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "depth must not be negative", map[string]interface{}{
			"param": "depth",
			"value": depth,
		})
	}

	mode := getStringDefault(args, "mode", string(searcher.SearchModeHybrid))
	switch searcher.SearchMode(mode) {
	case searcher.SearchModeHybrid, searcher.SearchModeVector, searcher.SearchModeKeyword:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   mode,
			"allowed": []string{"hybrid", "vector", "keyword"},
		})
	}

	format := getStringDefault(args, "format", "json")
	if format != "json" && format != "table" {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid format", map[string]interface{}{
			"param":   "format",
			"value":   format,
			"allowed": []string{"json", "table"},
		})
	}

	if err := s.requireIndexed(ctx); err != nil {
		return nil, err
	}

	resp, err := s.searcher.Search(ctx, searcher.Request{
		Query:        query,
		TopK:         topK,
		Mode:         searcher.SearchMode(mode),
		ContextDepth: depth,
		UseCache:     true,
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	rows := make([]toon.Row, len(resp.Results))
	for i, r := range resp.Results {
		rows[i] = toon.Row{
			Name:       r.Entity.Name,
			FilePath:   r.Entity.FilePath,
			LineStart:  r.Entity.LineStart,
			Summary:    r.Entity.Summary,
			Similarity: r.Score,
		}
	}
	table := toon.FormatTable(rows)
	s.stats.Record(toon.FormatJSON(rows), table)

	if format == "table" {
		return mcp.NewToolResultText(table), nil
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = map[string]interface{}{
			"rank":   r.Rank,
			"score":  r.Score,
			"entity": entityResponse(r.Entity),
		}
	}
	response := map[string]interface{}{
		"results":       results,
		"total_results": resp.TotalResults,
		"mode":          string(resp.Mode),
		"duration_ms":   resp.Duration.Milliseconds(),
	}
	if resp.Context != nil {
		response["context"] = contextResponse(resp.Context)
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetFunctionContext handles the get_function_context tool invocation
func (s *Server) handleGetFunctionContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "name parameter is required", map[string]interface{}{
			"param":  "name",
			"reason": "missing or empty",
		})
	}

	depth := getIntDefault(args, "depth", 1)
	if depth < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "depth must not be negative", map[string]interface{}{
			"param": "depth",
			"value": depth,
		})
	}

	if err := s.requireIndexed(ctx); err != nil {
		return nil, err
	}

	fc, err := s.graph.GetContext(ctx, name, depth)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "context lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if fc.Function == nil {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"found": false,
			"name":  name,
		})), nil
	}

	response := contextResponse(fc)
	response["found"] = true
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStats handles the get_stats tool invocation
func (s *Server) handleGetStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read statistics", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"entities":   stats.Entities,
		"files":      stats.Files,
		"dimension":  stats.Dimension,
		"build_mode": stats.BuildMode,
		"provider":   s.embedder.Provider(),
	})), nil
}

// handleGetTokenSavings handles the get_token_savings tool invocation
func (s *Server) handleGetTokenSavings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	if getBoolDefault(args, "reset", false) {
		s.stats.Reset()
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"reset": true,
		})), nil
	}
	return mcp.NewToolResultText(formatJSON(s.stats.Snapshot())), nil
}

// requireIndexed rejects lookups against an empty store so callers get a
// clear "index first" signal instead of an empty result set.
func (s *Server) requireIndexed(ctx context.Context) error {
	n, err := s.store.Count(ctx)
	if err != nil {
		return newMCPError(ErrorCodeInternalError, "failed to read index", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if n == 0 {
		return newMCPError(ErrorCodeNotIndexed, "no codebase indexed yet; run index_codebase first", nil)
	}
	return nil
}

// Response shaping helpers

func jobResponse(job jobs.Job) map[string]interface{} {
	out := map[string]interface{}{
		"job_id":     job.ID,
		"kind":       job.Kind,
		"status":     string(job.Status),
		"created_at": job.CreatedAt.Format(time.RFC3339),
		"progress": map[string]interface{}{
			"phase":           string(job.Progress.Phase),
			"progress":        job.Progress.Progress,
			"files_processed": job.Progress.FilesProcessed,
			"total_files":     job.Progress.TotalFiles,
			"functions_found": job.Progress.FunctionsFound,
			"current_file":    job.Progress.CurrentFile,
		},
	}
	if job.Path != "" {
		out["path"] = job.Path
	}
	if job.Error != "" {
		out["error"] = job.Error
	}
	if !job.CompletedAt.IsZero() {
		out["completed_at"] = job.CompletedAt.Format(time.RFC3339)
	}
	return out
}

func entityResponse(e *types.Entity) map[string]interface{} {
	return map[string]interface{}{
		"name":       e.Name,
		"kind":       string(e.Kind),
		"file_path":  e.FilePath,
		"line_start": e.LineStart,
		"line_end":   e.LineEnd,
		"exported":   e.Exported,
		"summary":    e.Summary,
		"code":       e.Code,
		"calls":      e.Calls,
		"called_by":  e.CalledBy,
	}
}

func contextResponse(fc *types.FunctionContext) map[string]interface{} {
	out := map[string]interface{}{
		"callees":   entitiesResponse(fc.Callees),
		"callers":   entitiesResponse(fc.Callers),
		"same_file": entitiesResponse(fc.SameFile),
	}
	if fc.Function != nil {
		out["function"] = entityResponse(fc.Function)
	}
	return out
}

func entitiesResponse(ents []*types.Entity) []map[string]interface{} {
	out := make([]map[string]interface{}, len(ents))
	for i, e := range ents {
		out[i] = entityResponse(e)
	}
	return out
}

// Parameter helpers

// formatJSON formats a response payload as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
