// Package toon renders search results in a compact tabular layout that
// costs far fewer tokens than indented JSON, and tracks the cumulative
// savings across searches.
package toon

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Row is one search result in the shape both formatters render.
type Row struct {
	Name       string  `json:"function_name"`
	FilePath   string  `json:"file_path"`
	LineStart  int     `json:"line_start"`
	Summary    string  `json:"summary"`
	Similarity float64 `json:"similarity"`
}

// column widths before truncation
const (
	nameWidth       = 20
	fileWidth       = 30
	lineWidth       = 6
	summaryWidth    = 40
	similarityWidth = 10
)

// FormatTable renders rows as an aligned table under a "results" header.
// Cell values longer than their column budget are truncated with "...".
func FormatTable(rows []Row) string {
	if len(rows) == 0 {
		return "results\n  (empty)"
	}

	headers := []string{"function_name", "file_path", "line", "summary", "similarity"}
	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = []string{
			truncate(row.Name, nameWidth),
			truncate(row.FilePath, fileWidth),
			truncate(fmt.Sprintf("%d", row.LineStart), lineWidth),
			truncate(row.Summary, summaryWidth),
			truncate(fmt.Sprintf("%d%%", int(row.Similarity*100)), similarityWidth),
		}
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
		for _, row := range cells {
			if len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}

	var b strings.Builder
	b.WriteString("results")
	writeRow := func(row []string) {
		b.WriteString("\n  ")
		for i, cell := range row {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[i]-len(cell)))
		}
	}
	writeRow(headers)
	for _, row := range cells {
		writeRow(row)
	}
	return b.String()
}

// FormatJSON renders rows as indented JSON, the baseline the savings are
// measured against.
func FormatJSON(rows []Row) string {
	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(out)
}

// truncate shortens s to max characters, marking the cut with "..."
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
