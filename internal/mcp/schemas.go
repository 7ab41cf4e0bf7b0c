package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexCodebaseTool returns the tool definition for index_codebase
func indexCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_codebase",
		Description: "Index a Go codebase to make it searchable. Runs in the background by default and returns a job ID.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the codebase root",
				},
				"background": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, queue the run and return a job ID immediately; if false, block until indexing finishes",
					"default":     true,
				},
				"timeout_seconds": map[string]interface{}{
					"type":        "integer",
					"description": "Abort the run after this many seconds (0 means no limit)",
					"default":     0,
					"minimum":     0,
				},
				"skip_summaries": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, skip generating one-line entity summaries",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// getIndexStatusTool returns the tool definition for get_index_status
func getIndexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_index_status",
		Description: "Report progress of an indexing job. Without a job_id, reports the active indexing job or current index statistics.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"job_id": map[string]interface{}{
					"type":        "string",
					"description": "Job ID returned by index_codebase",
				},
			},
		},
	}
}

// cancelJobTool returns the tool definition for cancel_job
func cancelJobTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cancel_job",
		Description: "Cancel a pending or running background job",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"job_id": map[string]interface{}{
					"type":        "string",
					"description": "Job ID to cancel",
				},
			},
			Required: []string{"job_id"},
		},
	}
}

// listJobsTool returns the tool definition for list_jobs
func listJobsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_jobs",
		Description: "List background jobs, newest first, including recently finished ones",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Only return jobs with this status",
					"enum":        []string{"pending", "in_progress", "complete", "error", "cancelled"},
				},
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Only return jobs of this kind (e.g. index)",
				},
			},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search the indexed codebase with natural language or keyword queries",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"depth": map[string]interface{}{
					"type":        "integer",
					"description": "Call-graph depth to attach around the best match (0 disables context)",
					"default":     0,
					"minimum":     0,
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: hybrid (vector + keyword), vector (semantic only), or keyword (BM25 only)",
					"enum":        []string{"hybrid", "vector", "keyword"},
					"default":     "hybrid",
				},
				"format": map[string]interface{}{
					"type":        "string",
					"description": "Result encoding: json (full structured results) or table (compact token-efficient layout)",
					"enum":        []string{"json", "table"},
					"default":     "json",
				},
			},
			Required: []string{"query"},
		},
	}
}

// getFunctionContextTool returns the tool definition for get_function_context
func getFunctionContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_function_context",
		Description: "Fetch a function with its callers, callees, and same-file neighbors from the call graph",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Function or method name to look up",
				},
				"depth": map[string]interface{}{
					"type":        "integer",
					"description": "How many call-graph hops to expand in each direction",
					"default":     1,
					"minimum":     0,
				},
			},
			Required: []string{"name"},
		},
	}
}

// getTokenSavingsTool returns the tool definition for get_token_savings
func getTokenSavingsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_token_savings",
		Description: "Show cumulative token savings from the compact table format versus JSON across all searches",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"reset": map[string]interface{}{
					"type":        "boolean",
					"description": "Reset all statistics",
					"default":     false,
				},
			},
		},
	}
}

// getStatsTool returns the tool definition for get_stats
func getStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_stats",
		Description: "Report index statistics: entity count, file count, vector dimension, and build mode",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
