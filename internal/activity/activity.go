// Package activity keeps the daily user-activity journal and a small
// ring of recent errors for the /status report.
package activity

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// MaxEntries caps the journal regardless of age.
	MaxEntries = 500
	// MaxErrors caps the recent-error ring.
	MaxErrors = 10

	saveEvery = 10
)

// Entry is a single user action in the journal.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
}

// ErrorEntry is one classified failure kept for diagnostics.
type ErrorEntry struct {
	Time   time.Time `json:"time"`
	Type   string    `json:"type"`
	Msg    string    `json:"msg"`
	UserID int64     `json:"user,omitempty"`
}

// Log is the in-memory journal backed by a JSON file. Entries older than
// local midnight are pruned on every append, as is everything beyond
// MaxEntries, whichever bound is tighter.
type Log struct {
	path string
	loc  *time.Location

	mu          sync.Mutex
	entries     []Entry
	errors      []ErrorEntry
	sinceSave   int
	errorsTotal int
}

// NewLog creates a journal persisted at path. Entries from before today
// (in loc) are dropped on load.
func NewLog(path string, loc *time.Location) *Log {
	if loc == nil {
		loc = time.Local
	}
	l := &Log{path: path, loc: loc}
	l.load()
	return l
}

func (l *Log) dayStart(now time.Time) time.Time {
	y, m, d := now.In(l.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, l.loc)
}

// Record appends an entry, prunes, and periodically persists.
func (l *Log) Record(userID int64, username, action, details string) {
	if username == "" {
		username = "Unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Entry{
		Timestamp: time.Now(),
		UserID:    userID,
		Username:  username,
		Action:    action,
		Details:   details,
	})
	l.pruneLocked(time.Now())

	l.sinceSave++
	if l.sinceSave >= saveEvery {
		l.sinceSave = 0
		if err := l.saveLocked(); err != nil {
			slog.Warn("activity log save failed", "error", err)
		}
	}
}

// RecordError pushes onto the error ring, evicting the oldest entry
// once MaxErrors is reached.
func (l *Log) RecordError(errType, msg string, userID int64) {
	if r := []rune(msg); len(r) > 100 {
		msg = string(r[:100])
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.errorsTotal++
	l.errors = append(l.errors, ErrorEntry{
		Time:   time.Now(),
		Type:   errType,
		Msg:    msg,
		UserID: userID,
	})
	if len(l.errors) > MaxErrors {
		l.errors = l.errors[len(l.errors)-MaxErrors:]
	}
	slog.Error("collaborator error", "type", errType, "user_id", userID, "msg", msg)
}

// Today returns a copy of the journal entries for the current day.
func (l *Log) Today() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(time.Now())
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Errors returns a copy of the recent-error ring and the total count.
func (l *Log) Errors() ([]ErrorEntry, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ErrorEntry, len(l.errors))
	copy(out, l.errors)
	return out, l.errorsTotal
}

// Rollover prunes yesterday's entries and persists. Called by the
// maintenance scheduler at local midnight.
func (l *Log) Rollover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(time.Now())
	if err := l.saveLocked(); err != nil {
		slog.Warn("activity log rollover save failed", "error", err)
	}
}

// Flush persists the journal immediately.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked()
}

func (l *Log) pruneLocked(now time.Time) {
	start := l.dayStart(now)
	kept := l.entries[:0]
	for _, e := range l.entries {
		if !e.Timestamp.Before(start) {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	if len(l.entries) > MaxEntries {
		l.entries = append([]Entry(nil), l.entries[len(l.entries)-MaxEntries:]...)
	}
}

func (l *Log) load() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("activity log load failed", "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, &l.entries); err != nil {
		slog.Warn("activity log unmarshal failed", "error", err)
		l.entries = nil
		return
	}
	l.pruneLocked(time.Now())
}

// saveLocked writes atomically: temp file then rename.
func (l *Log) saveLocked() error {
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal activity log: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create activity dir: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp activity log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename activity log: %w", err)
	}
	return nil
}
