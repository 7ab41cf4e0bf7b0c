package toon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// tokensPerChar is the rough 4-characters-per-token approximation used
// for the estimated figures.
const tokensPerChar = 4

// Stats is the cumulative savings record. Lifetime totals persist across
// restarts; the session fields reset every time a tracker loads.
type Stats struct {
	TotalSearches       int     `json:"total_searches"`
	TotalJSONChars      int     `json:"total_json_chars"`
	TotalTableChars     int     `json:"total_table_chars"`
	TotalCharsSaved     int     `json:"total_chars_saved"`
	TotalJSONTokensEst  int     `json:"total_json_tokens_est"`
	TotalTableTokensEst int     `json:"total_table_tokens_est"`
	TotalTokensSavedEst int     `json:"total_tokens_saved_est"`
	AvgSavingsPercent   float64 `json:"avg_savings_percent"`

	FirstSearchAt string `json:"first_search_at,omitempty"`
	LastSearchAt  string `json:"last_search_at,omitempty"`

	SessionSearches       int `json:"session_searches"`
	SessionCharsSaved     int `json:"session_chars_saved"`
	SessionTokensSavedEst int `json:"session_tokens_saved_est"`
}

// Tracker accumulates savings and persists them to a JSON file. An empty
// path keeps the tracker purely in memory.
type Tracker struct {
	mu    sync.Mutex
	path  string
	stats Stats
}

// NewTracker loads existing stats from path if it exists. Session
// counters always start at zero. A corrupt or unreadable file starts the
// tracker fresh rather than failing.
func NewTracker(path string) *Tracker {
	t := &Tracker{path: path}
	if path == "" {
		return t
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return t
	}
	var loaded Stats
	if err := json.Unmarshal(data, &loaded); err != nil {
		return t
	}
	loaded.SessionSearches = 0
	loaded.SessionCharsSaved = 0
	loaded.SessionTokensSavedEst = 0
	t.stats = loaded
	return t
}

// Record accounts one search given both renderings of its results and
// persists the updated totals.
func (t *Tracker) Record(jsonOut, tableOut string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	jsonChars := len(jsonOut)
	tableChars := len(tableOut)
	charsSaved := jsonChars - tableChars
	tokensSaved := jsonChars/tokensPerChar - tableChars/tokensPerChar

	s := &t.stats
	s.TotalSearches++
	s.TotalJSONChars += jsonChars
	s.TotalTableChars += tableChars
	s.TotalCharsSaved += charsSaved
	s.TotalJSONTokensEst += jsonChars / tokensPerChar
	s.TotalTableTokensEst += tableChars / tokensPerChar
	s.TotalTokensSavedEst += tokensSaved
	if s.TotalJSONChars > 0 {
		s.AvgSavingsPercent = float64(s.TotalCharsSaved) / float64(s.TotalJSONChars) * 100
	}

	now := time.Now().Format(time.RFC3339)
	if s.FirstSearchAt == "" {
		s.FirstSearchAt = now
	}
	s.LastSearchAt = now

	s.SessionSearches++
	s.SessionCharsSaved += charsSaved
	s.SessionTokensSavedEst += tokensSaved

	t.saveLocked()
}

// Snapshot returns a copy of the current statistics.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Reset zeroes every counter and persists the empty record.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = Stats{}
	t.saveLocked()
}

// saveLocked persists best-effort; stats are advisory and a write failure
// must never break a search.
func (t *Tracker) saveLocked() {
	if t.path == "" {
		return
	}
	data, err := json.MarshalIndent(t.stats, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(t.path, data, 0o644)
}
