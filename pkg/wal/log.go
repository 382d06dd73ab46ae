// Package wal is the client-side write-ahead log: every mutating tool call
// is appended to a local journal before it is sent, so a crash or network
// failure between "the agent decided" and "the server acknowledged" can be
// replayed later. The server's idempotency table makes replay at-most-once.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	// DirName is the journal directory, created under the working directory.
	DirName  = ".memory-wal"
	fileName = "operations.jsonl"

	RecordKindOp        = "op"
	RecordKindTombstone = "tombstone"
)

// Record is one journal line. A tombstone carries only the op_id it settles.
type Record struct {
	OpID       string         `json:"op_id"`
	Kind       string         `json:"kind"`
	ToolName   string         `json:"tool_name,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Attempts   int            `json:"attempts,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Log is the append-only journal. Appends are fsynced before they return;
// an acknowledged append survives a process crash.
type Log struct {
	mu   sync.Mutex
	dir  string
	path string
	file *os.File
}

// Open creates the journal directory under baseDir if needed and opens the
// journal for appending.
func Open(baseDir string) (*Log, error) {
	dir := filepath.Join(baseDir, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}
	path := filepath.Join(dir, fileName)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL: %w", err)
	}
	return &Log{dir: dir, path: path, file: file}, nil
}

// Close closes the journal file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Append writes one record and fsyncs.
func (l *Log) Append(rec *Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode WAL record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("failed to append WAL record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

// Tombstone settles an operation: a later LoadPending will not return it.
func (l *Log) Tombstone(opID string) error {
	return l.Append(&Record{OpID: opID, Kind: RecordKindTombstone, EnqueuedAt: time.Now().UTC()})
}

// LoadPending replays the journal and returns the unsettled operations in
// ascending op_id order (ULIDs sort lexicographically by creation time).
// A partial trailing line from an interrupted append is tolerated and
// ignored; it was never acknowledged to the caller.
func (l *Log) LoadPending() ([]*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadPendingLocked()
}

func (l *Log) loadPendingLocked() ([]*Record, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read WAL: %w", err)
	}
	defer f.Close()

	pending := make(map[string]*Record)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// Interrupted append. Anything after it was written later and
			// is still well-formed, so only this line is dropped.
			slog.Warn("Skipping malformed WAL line", "error", err)
			continue
		}
		switch rec.Kind {
		case RecordKindOp:
			r := rec
			pending[rec.OpID] = &r
		case RecordKindTombstone:
			delete(pending, rec.OpID)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan WAL: %w", err)
	}

	out := make([]*Record, 0, len(pending))
	for _, rec := range pending {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpID < out[j].OpID })
	return out, nil
}

// Compact rewrites the journal keeping only unsettled operations. The
// rewrite goes through a temp file and an atomic rename.
func (l *Log) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pending, err := l.loadPendingLocked()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(l.dir, fileName+".compact-*")
	if err != nil {
		return fmt.Errorf("failed to create compaction file: %w", err)
	}
	tmpPath := tmp.Name()
	for _, rec := range pending {
		line, err := json.Marshal(rec)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to encode WAL record: %w", err)
		}
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to write compaction file: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync compaction file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compaction file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace WAL: %w", err)
	}

	// Reopen so subsequent appends land in the compacted file.
	l.file.Close()
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to reopen WAL: %w", err)
	}
	l.file = file
	return nil
}
