package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/eniggman/geminigram/internal/activity"
	"github.com/eniggman/geminigram/internal/session"
)

func testLog(t *testing.T) *activity.Log {
	t.Helper()
	return activity.NewLog(filepath.Join(t.TempDir(), "activity.json"), time.UTC)
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(testLog(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	log := testLog(t)
	log.Record(1, "alice", "text", "")
	log.Record(1, "alice", "img_gen", "")
	log.Record(2, "bob", "text", "")
	log.RecordError("API", "rate limited", 1)

	store := session.NewStore(func(session.Tier) (session.Chat, error) { return nil, nil })
	store.Get(1)
	store.Get(2)

	srv := NewServer(log, store)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var snap Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.ActionsToday != 3 {
		t.Errorf("expected 3 actions, got %d", snap.ActionsToday)
	}
	if snap.ByAction["text"] != 2 || snap.ByAction["img_gen"] != 1 {
		t.Errorf("wrong action breakdown: %v", snap.ByAction)
	}
	if snap.ActiveUsers != 2 {
		t.Errorf("expected 2 active users, got %d", snap.ActiveUsers)
	}
	if snap.ErrorsTotal != 1 || len(snap.LastErrors) != 1 {
		t.Errorf("wrong error report: total=%d last=%v", snap.ErrorsTotal, snap.LastErrors)
	}
	if snap.LastErrors[0].Type != "API" {
		t.Errorf("wrong error type: %s", snap.LastErrors[0].Type)
	}
}

func TestStatusEndpoint_NilCollaborators(t *testing.T) {
	srv := NewServer(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var snap Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.ActionsToday != 0 || snap.ActiveUsers != 0 {
		t.Errorf("empty snapshot expected, got %+v", snap)
	}
}

func TestStatusMethodNotAllowed(t *testing.T) {
	srv := NewServer(testLog(t), nil)
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
