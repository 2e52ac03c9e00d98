package activity

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestRecordAndToday(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "activity.json"), time.UTC)

	log.Record(1, "alice", "text", "Model: pro")
	log.Record(2, "", "voice", "")

	entries := log.Today()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Username != "Unknown" {
		t.Errorf("empty username not defaulted: %q", entries[1].Username)
	}
}

func TestPruneOldEntries(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "activity.json"), time.UTC)

	log.Record(1, "alice", "text", "")
	// Backdate the entry to yesterday.
	log.mu.Lock()
	log.entries[0].Timestamp = time.Now().Add(-48 * time.Hour)
	log.mu.Unlock()

	if entries := log.Today(); len(entries) != 0 {
		t.Errorf("yesterday's entry survived pruning: %v", entries)
	}
}

func TestMaxEntriesCap(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "activity.json"), time.UTC)
	for i := 0; i < MaxEntries+50; i++ {
		log.Record(int64(i), "u", "text", "")
	}
	if n := len(log.Today()); n != MaxEntries {
		t.Errorf("expected cap at %d, got %d", MaxEntries, n)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.json")

	log := NewLog(path, time.UTC)
	log.Record(7, "bob", "img_gen", "sunset")
	if err := log.Flush(); err != nil {
		t.Fatal(err)
	}

	reloaded := NewLog(path, time.UTC)
	entries := reloaded.Today()
	if len(entries) != 1 || entries[0].Action != "img_gen" {
		t.Errorf("reload mismatch: %v", entries)
	}
}

func TestErrorRing(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "activity.json"), time.UTC)
	for i := 0; i < MaxErrors+5; i++ {
		log.RecordError("API", fmt.Sprintf("boom %d", i), 1)
	}
	errs, total := log.Errors()
	if len(errs) != MaxErrors {
		t.Errorf("ring size %d, want %d", len(errs), MaxErrors)
	}
	if total != MaxErrors+5 {
		t.Errorf("total %d, want %d", total, MaxErrors+5)
	}
	if errs[0].Msg != "boom 5" {
		t.Errorf("oldest entries not evicted: %q", errs[0].Msg)
	}
}

func TestErrorMessageTruncated(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "activity.json"), time.UTC)
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	log.RecordError("API", string(long), 0)
	errs, _ := log.Errors()
	if len(errs[0].Msg) != 100 {
		t.Errorf("message not truncated: %d", len(errs[0].Msg))
	}

	// Cyrillic text must be cut on rune boundaries, not bytes.
	log.RecordError("API", strings.Repeat("ы", 150), 0)
	errs, _ = log.Errors()
	got := errs[len(errs)-1].Msg
	if !utf8.ValidString(got) {
		t.Error("truncated message is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(got); n != 100 {
		t.Errorf("expected 100 runes, got %d", n)
	}
}
