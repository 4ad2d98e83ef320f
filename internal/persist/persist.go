// Package persist writes session state to disk: portfolio snapshots,
// the memory operation journal and communication logs.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/trading"
)

const snapshotPrefix = "portfolio_"

// Store writes session artifacts under one base directory
type Store struct {
	dir string
	log zerolog.Logger
}

// NewStore creates the store, creating the directory tree as needed
func NewStore(baseDir, configName string) (*Store, error) {
	dir := filepath.Join(baseDir, configName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	return &Store{dir: dir, log: config.NewLogger("persist")}, nil
}

// Dir returns the resolved state directory
func (s *Store) Dir() string { return s.dir }

// PortfolioSnapshot is one dated portfolio capture
type PortfolioSnapshot struct {
	Date      string             `json:"date"`
	SessionID string             `json:"session_id"`
	Portfolio *trading.Portfolio `json:"portfolio"`
	Value     float64            `json:"portfolio_value"`
	SavedAt   time.Time          `json:"saved_at"`
}

// WritePortfolioSnapshot saves the end-of-day portfolio as
// portfolio_<date>.json. Writes go through a temp file and rename so a
// crash never leaves a truncated snapshot.
func (s *Store) WritePortfolioSnapshot(date, sessionID string, pf *trading.Portfolio, prices map[string]float64) error {
	snap := PortfolioSnapshot{
		Date:      date,
		SessionID: sessionID,
		Portfolio: pf,
		Value:     pf.TotalValue(prices),
		SavedAt:   time.Now(),
	}
	path := filepath.Join(s.dir, snapshotPrefix+date+".json")
	if err := writeJSON(path, snap); err != nil {
		return err
	}
	s.log.Info().Str("date", date).Str("path", path).Msg("Portfolio snapshot written")
	return nil
}

// LatestPortfolioSnapshot loads the most recent snapshot, nil when no
// snapshot exists yet. Dates sort lexicographically, so the newest
// file is the last one.
func (s *Store) LatestPortfolioSnapshot() (*PortfolioSnapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, snapshotPrefix) && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Strings(names)

	raw, err := os.ReadFile(filepath.Join(s.dir, names[len(names)-1]))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap PortfolioSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("corrupt snapshot %s: %w", names[len(names)-1], err)
	}
	return &snap, nil
}

// MemoryOp is one journaled memory operation
type MemoryOp struct {
	Timestamp     time.Time      `json:"timestamp"`
	AgentID       string         `json:"agent_id"`
	OperationType string         `json:"operation_type"` // add, update, delete, search
	ToolName      string         `json:"tool_name,omitempty"`
	Args          map[string]any `json:"args,omitempty"`
	Result        string         `json:"result,omitempty"`
	Context       string         `json:"context,omitempty"`
}

// AppendMemoryOp appends one operation to the day's JSONL journal
// (memory_ops_<YYYYMMDD>.jsonl)
func (s *Store) AppendMemoryOp(op MemoryOp) error {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	raw, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode memory op: %w", err)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("memory_ops_%s.jsonl", op.Timestamp.Format("20060102")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open memory op journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("failed to append memory op: %w", err)
	}
	return nil
}

// ReadMemoryOps loads the journal for one day (YYYYMMDD), empty when
// the journal does not exist
func (s *Store) ReadMemoryOps(day string) ([]MemoryOp, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, fmt.Sprintf("memory_ops_%s.jsonl", day)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read memory op journal: %w", err)
	}

	var ops []MemoryOp
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var op MemoryOp
		if err := json.Unmarshal([]byte(line), &op); err != nil {
			return nil, fmt.Errorf("corrupt memory op line: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// CommunicationLog is the on-disk shape of one day's communications
type CommunicationLog struct {
	SessionID   string           `json:"session_id"`
	TradingDate string           `json:"trading_date"`
	Logs        trading.CommLogs `json:"logs"`
	SavedAt     time.Time        `json:"saved_at"`
}

// WriteCommunicationLog saves a day's communication activity as
// communications_analysis_<YYYYMMDD_HHMMSS>.json
func (s *Store) WriteCommunicationLog(sessionID, tradingDate string, logs trading.CommLogs) (string, error) {
	entry := CommunicationLog{
		SessionID:   sessionID,
		TradingDate: tradingDate,
		Logs:        logs,
		SavedAt:     time.Now(),
	}
	path := filepath.Join(s.dir, fmt.Sprintf("communications_analysis_%s.json", entry.SavedAt.Format("20060102_150405")))
	if err := writeJSON(path, entry); err != nil {
		return "", err
	}
	return path, nil
}

// WriteSessionSummary saves the multi-day run summary
func (s *Store) WriteSessionSummary(sessionID string, summary any) error {
	path := filepath.Join(s.dir, fmt.Sprintf("session_summary_%s.json", sessionID))
	return writeJSON(path, summary)
}

// LatestSessionSummary returns the raw JSON of the most recently
// written session summary, nil when none exists. Summary names carry a
// session UUID, so recency comes from file modification time.
func (s *Store) LatestSessionSummary() (json.RawMessage, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "session_summary_*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list session summaries: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	var newest string
	var newestMod time.Time
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = path
			newestMod = info.ModTime()
		}
	}

	raw, err := os.ReadFile(newest)
	if err != nil {
		return nil, fmt.Errorf("failed to read session summary: %w", err)
	}
	return raw, nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", filepath.Base(path), err)
	}
	return nil
}
