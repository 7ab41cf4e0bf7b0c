package toon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows() []Row {
	return []Row{
		{
			Name:       "AuthenticateUser",
			FilePath:   "internal/auth/auth.go",
			LineStart:  42,
			Summary:    "function AuthenticateUser defined in internal/auth/auth.go",
			Similarity: 0.92,
		},
		{
			Name:       "checkToken",
			FilePath:   "internal/auth/token.go",
			LineStart:  7,
			Summary:    "function checkToken defined in internal/auth/token.go",
			Similarity: 0.87,
		},
	}
}

func TestFormatTableEmpty(t *testing.T) {
	assert.Equal(t, "results\n  (empty)", FormatTable(nil))
}

func TestFormatTableLayout(t *testing.T) {
	out := FormatTable(sampleRows())
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4) // header line, column row, two data rows

	assert.Equal(t, "results", lines[0])
	assert.Contains(t, lines[1], "function_name")
	assert.Contains(t, lines[1], "similarity")
	assert.Contains(t, lines[2], "AuthenticateUser")
	assert.Contains(t, lines[2], "92%")
	assert.Contains(t, lines[3], "checkToken")

	// columns align: every separator sits at the same offset
	first := strings.Index(lines[1], "|")
	assert.Equal(t, first, strings.Index(lines[2], "|"))
	assert.Equal(t, first, strings.Index(lines[3], "|"))
}

func TestFormatTableTruncatesLongValues(t *testing.T) {
	rows := []Row{{
		Name:       "aVeryLongFunctionNameThatKeepsGoing",
		FilePath:   "x.go",
		LineStart:  1,
		Summary:    strings.Repeat("s", 100),
		Similarity: 0.5,
	}}
	out := FormatTable(rows)
	assert.NotContains(t, out, "aVeryLongFunctionNameThatKeepsGoing")
	assert.Contains(t, out, "...")
}

func TestFormatTableIsSmallerThanJSON(t *testing.T) {
	rows := sampleRows()
	assert.Less(t, len(FormatTable(rows)), len(FormatJSON(rows)))
}

func TestFormatJSONRoundTrips(t *testing.T) {
	out := FormatJSON(sampleRows())
	var decoded []Row
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, sampleRows(), decoded)
}

func TestTrackerAccumulates(t *testing.T) {
	tr := NewTracker("")
	tr.Record(strings.Repeat("j", 400), strings.Repeat("t", 100))
	tr.Record(strings.Repeat("j", 200), strings.Repeat("t", 100))

	s := tr.Snapshot()
	assert.Equal(t, 2, s.TotalSearches)
	assert.Equal(t, 600, s.TotalJSONChars)
	assert.Equal(t, 200, s.TotalTableChars)
	assert.Equal(t, 400, s.TotalCharsSaved)
	assert.Equal(t, 100, s.TotalTokensSavedEst)
	assert.InDelta(t, 66.66, s.AvgSavingsPercent, 0.1)
	assert.Equal(t, 2, s.SessionSearches)
	assert.NotEmpty(t, s.FirstSearchAt)
	assert.NotEmpty(t, s.LastSearchAt)
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker("")
	tr.Record("jjjj", "t")
	tr.Reset()
	assert.Equal(t, Stats{}, tr.Snapshot())
}

func TestTrackerPersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats", "stats.json")

	tr := NewTracker(path)
	tr.Record(strings.Repeat("j", 400), strings.Repeat("t", 100))

	reloaded := NewTracker(path)
	s := reloaded.Snapshot()
	assert.Equal(t, 1, s.TotalSearches)
	assert.Equal(t, 300, s.TotalCharsSaved)
	// session counters never survive a reload
	assert.Equal(t, 0, s.SessionSearches)
	assert.Equal(t, 0, s.SessionCharsSaved)
}

func TestTrackerIgnoresCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	tr := NewTracker(path)
	assert.Equal(t, Stats{}, tr.Snapshot())
}
