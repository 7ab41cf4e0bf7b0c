package mcp

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarsbyte/washedmcp/internal/jobs"
	"github.com/clarsbyte/washedmcp/internal/storage"
	"github.com/clarsbyte/washedmcp/pkg/types"
)

// stubEmbedder avoids any network dependency in handler tests
type stubEmbedder struct{}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (stubEmbedder) Dimension() int   { return 3 }
func (stubEmbedder) Provider() string { return "stub" }
func (stubEmbedder) Close() error     { return nil }

func setupServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)

	logger := log.New(os.Stderr, "[test] ", 0)
	s := newServer(store, stubEmbedder{}, logger)
	t.Cleanup(func() {
		s.jobs.Shutdown(100 * time.Millisecond)
		_ = store.Close()
	})
	return s
}

func setupCodebase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	src := `package demo

func Authenticate(token string) error {
	return verify(token)
}

func verify(token string) error {
	return nil
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auth.go"), []byte(src), 0o644))
	return dir
}

func callArgs(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultJSON decodes the text payload of a tool result
func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireMCPCode(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code)
}

func indexInline(t *testing.T, s *Server, dir string) {
	t.Helper()
	res, err := s.handleIndexCodebase(context.Background(), callArgs(map[string]interface{}{
		"path":       dir,
		"background": false,
	}))
	require.NoError(t, err)
	body := resultJSON(t, res)
	require.Equal(t, "complete", body["status"])
}

func TestIndexCodebaseInline(t *testing.T) {
	s := setupServer(t)
	dir := setupCodebase(t)

	res, err := s.handleIndexCodebase(context.Background(), callArgs(map[string]interface{}{
		"path":       dir,
		"background": false,
	}))
	require.NoError(t, err)

	body := resultJSON(t, res)
	assert.Equal(t, "complete", body["status"])
	assert.Equal(t, float64(1), body["files_processed"])
	assert.Equal(t, float64(2), body["functions_indexed"])
}

func TestIndexCodebaseRequiresPath(t *testing.T) {
	s := setupServer(t)
	_, err := s.handleIndexCodebase(context.Background(), callArgs(map[string]interface{}{}))
	requireMCPCode(t, err, ErrorCodeInvalidParams)
}

func TestIndexCodebaseBackground(t *testing.T) {
	s := setupServer(t)
	dir := setupCodebase(t)

	res, err := s.handleIndexCodebase(context.Background(), callArgs(map[string]interface{}{
		"path": dir,
	}))
	require.NoError(t, err)

	body := resultJSON(t, res)
	jobID, ok := body["job_id"].(string)
	require.True(t, ok)
	require.Len(t, jobID, 8)
	assert.Equal(t, "pending", body["status"])

	require.Eventually(t, func() bool {
		job, err := s.jobs.Get(jobID)
		return err == nil && job.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	statusRes, err := s.handleGetIndexStatus(context.Background(), callArgs(map[string]interface{}{
		"job_id": jobID,
	}))
	require.NoError(t, err)
	statusBody := resultJSON(t, statusRes)
	assert.Equal(t, "complete", statusBody["status"])
	progress := statusBody["progress"].(map[string]interface{})
	assert.Equal(t, float64(1), progress["progress"])
}

func TestIndexCodebaseBackgroundRejectsDuplicate(t *testing.T) {
	s := setupServer(t)
	dir := setupCodebase(t)

	started := make(chan struct{})
	release := make(chan struct{})
	_, err := s.jobs.Submit(jobs.KindIndex, dir, func(ctx context.Context, progress types.ProgressFunc) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	require.NoError(t, err)
	<-started

	_, err = s.handleIndexCodebase(context.Background(), callArgs(map[string]interface{}{
		"path": dir,
	}))
	requireMCPCode(t, err, ErrorCodeIndexingInProgress)
	close(release)
}

func TestGetIndexStatusUnknownJob(t *testing.T) {
	s := setupServer(t)
	_, err := s.handleGetIndexStatus(context.Background(), callArgs(map[string]interface{}{
		"job_id": "deadbeef",
	}))
	requireMCPCode(t, err, ErrorCodeJobNotFound)
}

func TestGetIndexStatusWithoutJobReportsIndex(t *testing.T) {
	s := setupServer(t)

	res, err := s.handleGetIndexStatus(context.Background(), callArgs(nil))
	require.NoError(t, err)
	body := resultJSON(t, res)
	assert.Equal(t, false, body["indexed"])

	indexInline(t, s, setupCodebase(t))

	res, err = s.handleGetIndexStatus(context.Background(), callArgs(nil))
	require.NoError(t, err)
	body = resultJSON(t, res)
	assert.Equal(t, true, body["indexed"])
	assert.Equal(t, float64(2), body["entities"])
}

func TestCancelJobErrors(t *testing.T) {
	s := setupServer(t)

	_, err := s.handleCancelJob(context.Background(), callArgs(map[string]interface{}{}))
	requireMCPCode(t, err, ErrorCodeInvalidParams)

	_, err = s.handleCancelJob(context.Background(), callArgs(map[string]interface{}{
		"job_id": "deadbeef",
	}))
	requireMCPCode(t, err, ErrorCodeJobNotFound)
}

func TestCancelJobAlreadyFinished(t *testing.T) {
	s := setupServer(t)
	dir := setupCodebase(t)

	res, err := s.handleIndexCodebase(context.Background(), callArgs(map[string]interface{}{
		"path": dir,
	}))
	require.NoError(t, err)
	jobID := resultJSON(t, res)["job_id"].(string)

	require.Eventually(t, func() bool {
		job, err := s.jobs.Get(jobID)
		return err == nil && job.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	cancelRes, err := s.handleCancelJob(context.Background(), callArgs(map[string]interface{}{
		"job_id": jobID,
	}))
	require.NoError(t, err)
	body := resultJSON(t, cancelRes)
	assert.Equal(t, false, body["cancelled"])
}

func TestListJobs(t *testing.T) {
	s := setupServer(t)
	dir := setupCodebase(t)

	res, err := s.handleIndexCodebase(context.Background(), callArgs(map[string]interface{}{
		"path": dir,
	}))
	require.NoError(t, err)
	jobID := resultJSON(t, res)["job_id"].(string)

	require.Eventually(t, func() bool {
		job, err := s.jobs.Get(jobID)
		return err == nil && job.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	listRes, err := s.handleListJobs(context.Background(), callArgs(nil))
	require.NoError(t, err)
	body := resultJSON(t, listRes)
	assert.Equal(t, float64(1), body["count"])
	list := body["jobs"].([]interface{})
	first := list[0].(map[string]interface{})
	assert.Equal(t, jobID, first["job_id"])
	assert.Equal(t, jobs.KindIndex, first["kind"])
}

func TestSearchCodeBeforeIndexing(t *testing.T) {
	s := setupServer(t)
	_, err := s.handleSearchCode(context.Background(), callArgs(map[string]interface{}{
		"query": "authentication",
	}))
	requireMCPCode(t, err, ErrorCodeNotIndexed)
}

func TestSearchCodeValidation(t *testing.T) {
	s := setupServer(t)

	_, err := s.handleSearchCode(context.Background(), callArgs(map[string]interface{}{}))
	requireMCPCode(t, err, ErrorCodeEmptyQuery)

	_, err = s.handleSearchCode(context.Background(), callArgs(map[string]interface{}{
		"query": "x",
		"top_k": float64(500),
	}))
	requireMCPCode(t, err, ErrorCodeInvalidParams)

	_, err = s.handleSearchCode(context.Background(), callArgs(map[string]interface{}{
		"query": "x",
		"mode":  "regex",
	}))
	requireMCPCode(t, err, ErrorCodeInvalidParams)
}

func TestSearchCodeEndToEnd(t *testing.T) {
	s := setupServer(t)
	indexInline(t, s, setupCodebase(t))

	res, err := s.handleSearchCode(context.Background(), callArgs(map[string]interface{}{
		"query": "Authenticate",
		"mode":  "keyword",
		"top_k": float64(5),
	}))
	require.NoError(t, err)

	body := resultJSON(t, res)
	assert.Equal(t, "keyword", body["mode"])
	results := body["results"].([]interface{})
	require.NotEmpty(t, results)
	top := results[0].(map[string]interface{})["entity"].(map[string]interface{})
	assert.Equal(t, "Authenticate", top["name"])
}

func TestSearchCodeAttachesContext(t *testing.T) {
	s := setupServer(t)
	indexInline(t, s, setupCodebase(t))

	res, err := s.handleSearchCode(context.Background(), callArgs(map[string]interface{}{
		"query": "Authenticate",
		"mode":  "keyword",
		"depth": float64(1),
	}))
	require.NoError(t, err)

	body := resultJSON(t, res)
	ctxBody, ok := body["context"].(map[string]interface{})
	require.True(t, ok)
	fn := ctxBody["function"].(map[string]interface{})
	assert.Equal(t, "Authenticate", fn["name"])
	callees := ctxBody["callees"].([]interface{})
	require.Len(t, callees, 1)
	assert.Equal(t, "verify", callees[0].(map[string]interface{})["name"])
}

func TestGetFunctionContext(t *testing.T) {
	s := setupServer(t)
	indexInline(t, s, setupCodebase(t))

	res, err := s.handleGetFunctionContext(context.Background(), callArgs(map[string]interface{}{
		"name": "verify",
	}))
	require.NoError(t, err)

	body := resultJSON(t, res)
	assert.Equal(t, true, body["found"])
	callers := body["callers"].([]interface{})
	require.Len(t, callers, 1)
	assert.Equal(t, "Authenticate", callers[0].(map[string]interface{})["name"])
}

func TestGetFunctionContextUnknownName(t *testing.T) {
	s := setupServer(t)
	indexInline(t, s, setupCodebase(t))

	res, err := s.handleGetFunctionContext(context.Background(), callArgs(map[string]interface{}{
		"name": "ghost",
	}))
	require.NoError(t, err)

	body := resultJSON(t, res)
	assert.Equal(t, false, body["found"])
}

func TestSearchCodeTableFormat(t *testing.T) {
	s := setupServer(t)
	indexInline(t, s, setupCodebase(t))

	res, err := s.handleSearchCode(context.Background(), callArgs(map[string]interface{}{
		"query":  "Authenticate",
		"mode":   "keyword",
		"format": "table",
	}))
	require.NoError(t, err)

	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(text.Text, "results\n"))
	assert.Contains(t, text.Text, "Authenticate")
	assert.Contains(t, text.Text, "|")

	_, err = s.handleSearchCode(context.Background(), callArgs(map[string]interface{}{
		"query":  "Authenticate",
		"format": "yaml",
	}))
	requireMCPCode(t, err, ErrorCodeInvalidParams)
}

func TestGetTokenSavings(t *testing.T) {
	s := setupServer(t)
	indexInline(t, s, setupCodebase(t))

	res, err := s.handleGetTokenSavings(context.Background(), callArgs(nil))
	require.NoError(t, err)
	body := resultJSON(t, res)
	assert.Equal(t, float64(0), body["total_searches"])

	for i := 0; i < 2; i++ {
		_, err = s.handleSearchCode(context.Background(), callArgs(map[string]interface{}{
			"query": "Authenticate",
			"mode":  "keyword",
		}))
		require.NoError(t, err)
	}

	res, err = s.handleGetTokenSavings(context.Background(), callArgs(nil))
	require.NoError(t, err)
	body = resultJSON(t, res)
	assert.Equal(t, float64(2), body["total_searches"])
	assert.Greater(t, body["total_chars_saved"].(float64), float64(0))

	res, err = s.handleGetTokenSavings(context.Background(), callArgs(map[string]interface{}{
		"reset": true,
	}))
	require.NoError(t, err)
	assert.Equal(t, true, resultJSON(t, res)["reset"])

	res, err = s.handleGetTokenSavings(context.Background(), callArgs(nil))
	require.NoError(t, err)
	assert.Equal(t, float64(0), resultJSON(t, res)["total_searches"])
}

func TestGetStats(t *testing.T) {
	s := setupServer(t)
	indexInline(t, s, setupCodebase(t))

	res, err := s.handleGetStats(context.Background(), callArgs(nil))
	require.NoError(t, err)

	body := resultJSON(t, res)
	assert.Equal(t, float64(2), body["entities"])
	assert.Equal(t, float64(1), body["files"])
	assert.Equal(t, "stub", body["provider"])
}
