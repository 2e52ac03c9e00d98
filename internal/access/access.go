// Package access holds the allow-list of Telegram user ids.
package access

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// List is a JSON-file-backed set of allowed user ids. The admin id is
// always allowed.
type List struct {
	path    string
	adminID int64

	mu    sync.RWMutex
	users map[int64]struct{}
}

// NewList loads the allow-list from path and merges in any ids from the
// comma-separated seed string (typically an env variable).
func NewList(path string, adminID int64, seed string) *List {
	l := &List{
		path:    path,
		adminID: adminID,
		users:   make(map[int64]struct{}),
	}
	for _, part := range strings.Split(seed, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			slog.Warn("ignoring malformed allowed user id", "value", part)
			continue
		}
		l.users[id] = struct{}{}
	}
	l.load()
	return l
}

// Allowed reports whether the user may talk to the bot.
func (l *List) Allowed(userID int64) bool {
	if userID == l.adminID && l.adminID != 0 {
		return true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.users[userID]
	return ok
}

// IsAdmin reports whether the user is the configured admin.
func (l *List) IsAdmin(userID int64) bool {
	return l.adminID != 0 && userID == l.adminID
}

// AdminID returns the configured admin id (0 when unset).
func (l *List) AdminID() int64 { return l.adminID }

// Add grants access to a user and persists the list.
func (l *List) Add(userID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users[userID] = struct{}{}
	return l.saveLocked()
}

// Remove revokes access and persists the list.
func (l *List) Remove(userID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.users, userID)
	return l.saveLocked()
}

// IDs returns the allowed ids in ascending order.
func (l *List) IDs() []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]int64, 0, len(l.users))
	for id := range l.users {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (l *List) load() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("allow-list load failed", "error", err)
		}
		return
	}
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		slog.Warn("allow-list unmarshal failed", "error", err)
		return
	}
	for _, id := range ids {
		l.users[id] = struct{}{}
	}
}

func (l *List) saveLocked() error {
	ids := make([]int64, 0, len(l.users))
	for id := range l.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal allow-list: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create allow-list dir: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp allow-list: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename allow-list: %w", err)
	}
	return nil
}
