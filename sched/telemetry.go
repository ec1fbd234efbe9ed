package sched

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"relay"
)

// leaderboardTail bounds how many trailing records a summary reads.
const leaderboardTail = 400

// TelemetryEntry is one append-only per-call record.
type TelemetryEntry struct {
	At               int64            `json:"at"`
	Provider         relay.ProviderID `json:"provider"`
	ModelID          string           `json:"modelId"`
	PromptTokens     int              `json:"promptTokens"`
	CompletionTokens int              `json:"completionTokens"`
	TotalTokens      int              `json:"totalTokens"`
	EstUSDCost       float64          `json:"estUsdCost"`
	LatencyMs        int64            `json:"latencyMs"`
	Success          bool             `json:"success"`
}

// ModelStats is one leaderboard row: rolling statistics for provider:model.
type ModelStats struct {
	Provider    relay.ProviderID
	ModelID     string
	Runs        int
	SuccessRate float64
	AvgCost     float64
	AvgLatency  float64
}

// Key returns the "provider:model" grouping key.
func (s ModelStats) Key() string { return string(s.Provider) + ":" + s.ModelID }

// Telemetry appends newline-delimited records to a file and computes rolling
// summaries over the tail.
type Telemetry struct {
	path string
	mu   sync.Mutex
}

// NewTelemetry creates a recorder writing to path. The file and its parent
// directories are created lazily on first record.
func NewTelemetry(path string) *Telemetry {
	return &Telemetry{path: path}
}

// Record appends one entry. Timestamp is filled when zero.
func (t *Telemetry) Record(e TelemetryEntry) error {
	if e.At == 0 {
		e.At = relay.NowUnixMilli()
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("telemetry: marshal entry: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("telemetry: create dir: %w", err)
	}
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("telemetry: open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("telemetry: append: %w", err)
	}
	return nil
}

// Leaderboard tails the record file, groups by provider:model, and returns
// the top limit rows ordered by success rate descending, then average cost
// ascending.
func (t *Telemetry) Leaderboard(limit int) ([]ModelStats, error) {
	entries, err := t.tail(leaderboardTail)
	if err != nil {
		return nil, err
	}

	type accum struct {
		stats     ModelStats
		successes int
		totalCost float64
		totalLat  int64
	}
	groups := map[string]*accum{}
	var order []string

	for _, e := range entries {
		key := string(e.Provider) + ":" + e.ModelID
		a, ok := groups[key]
		if !ok {
			a = &accum{stats: ModelStats{Provider: e.Provider, ModelID: e.ModelID}}
			groups[key] = a
			order = append(order, key)
		}
		a.stats.Runs++
		if e.Success {
			a.successes++
		}
		a.totalCost += e.EstUSDCost
		a.totalLat += e.LatencyMs
	}

	rows := make([]ModelStats, 0, len(groups))
	for _, key := range order {
		a := groups[key]
		a.stats.SuccessRate = float64(a.successes) / float64(a.stats.Runs)
		a.stats.AvgCost = a.totalCost / float64(a.stats.Runs)
		a.stats.AvgLatency = float64(a.totalLat) / float64(a.stats.Runs)
		rows = append(rows, a.stats)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].SuccessRate != rows[j].SuccessRate {
			return rows[i].SuccessRate > rows[j].SuccessRate
		}
		return rows[i].AvgCost < rows[j].AvgCost
	})

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// tail reads up to n trailing entries, skipping unparseable lines.
func (t *Telemetry) tail(n int) ([]TelemetryEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("telemetry: open: %w", err)
	}
	defer f.Close()

	var entries []TelemetryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e TelemetryEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
		if len(entries) > n {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("telemetry: read: %w", err)
	}
	return entries, nil
}

// EstimateCost prices a call at the provider's blended per-1k rate, rounded
// to 6 decimals.
func EstimateCost(provider relay.ProviderID, usage relay.TokenUsage) float64 {
	raw := float64(usage.TotalTokens) / 1000 * provider.CostPer1K()
	return math.Round(raw*1e6) / 1e6
}
