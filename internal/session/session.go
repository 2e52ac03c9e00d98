// Package session tracks per-user conversational state: the Gemini chat
// handle, the active interaction mode, and short-lived photo context.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Expiry clocks. The three are independent: an idle conversation is
// recreated lazily, a stale photo task and a stale active image are
// simply dropped when next touched.
const (
	ConversationTimeout = 5 * time.Minute
	PhotoTaskTimeout    = 3 * time.Minute
	ActiveImageTimeout  = 5 * time.Minute
)

// Tier selects between the deep and the fast model variant.
type Tier string

const (
	TierPro   Tier = "pro"
	TierFlash Tier = "flash"
)

// Mode is the single active special-interaction state of a session.
type Mode string

const (
	ModeNone               Mode = ""
	ModeTranslate          Mode = "translate"
	ModeYouTube            Mode = "youtube"
	ModeImageGen           Mode = "image_gen"
	ModeAwaitingEditPhoto  Mode = "awaiting_edit_photo"
	ModeAwaitingEditPrompt Mode = "awaiting_edit_prompt"
)

// Chat is the opaque conversation handle owned by a Session. It is
// recreated, never mutated in place.
type Chat interface {
	Send(ctx context.Context, text string) (string, error)
}

// Dialer creates a fresh conversation handle for the given model tier.
type Dialer func(tier Tier) (Chat, error)

// PhotoTask holds photos waiting for an edit prompt or button choice.
type PhotoTask struct {
	Photos    [][]byte
	MessageID int
	CreatedAt time.Time
}

// Expired reports whether the photo buttons have timed out.
func (t *PhotoTask) Expired(now time.Time) bool {
	return now.Sub(t.CreatedAt) > PhotoTaskTimeout
}

// ActiveImage is a reference image implicitly attached to plain-text
// turns for a short while after an analysis.
type ActiveImage struct {
	Data      []byte
	CreatedAt time.Time
}

// Session is the per-user mutable record. A session is only ever touched
// by the one handler currently processing that user, so its fields need
// no locking of their own.
type Session struct {
	UserID         int64
	ModelTier      Tier
	ImageModelTier Tier
	Mode           Mode
	PhotoTask      *PhotoTask
	Active         *ActiveImage

	chat         Chat
	lastActivity time.Time
}

// ClearMode resets the mode and returns what was active. A pending photo
// task cannot outlive its mode, so it is dropped with it.
func (s *Session) ClearMode() Mode {
	prev := s.Mode
	s.Mode = ModeNone
	s.PhotoTask = nil
	return prev
}

// SetPhotoTask stores photos and enters the awaiting-prompt state. The
// active image is dropped: a pending edit and an implicit reference
// image are mutually exclusive.
func (s *Session) SetPhotoTask(photos [][]byte, messageID int) {
	s.PhotoTask = &PhotoTask{
		Photos:    photos,
		MessageID: messageID,
		CreatedAt: time.Now(),
	}
	s.Mode = ModeAwaitingEditPrompt
	s.Active = nil
}

// TakePhotoTask consumes the pending task together with the mode.
func (s *Session) TakePhotoTask() *PhotoTask {
	task := s.PhotoTask
	s.PhotoTask = nil
	s.Mode = ModeNone
	return task
}

// SetActiveImage promotes an image to the short-lived reference context.
func (s *Session) SetActiveImage(data []byte) {
	s.Active = &ActiveImage{Data: data, CreatedAt: time.Now()}
	s.PhotoTask = nil
}

// ActiveImageData returns the reference image if one exists and has not
// expired; an expired image is dropped as a side effect.
func (s *Session) ActiveImageData(now time.Time) []byte {
	if s.Active == nil {
		return nil
	}
	if now.Sub(s.Active.CreatedAt) > ActiveImageTimeout {
		s.Active = nil
		return nil
	}
	return s.Active.Data
}

// Store is the keyed session map. Map access is guarded; the contained
// sessions are handed to exactly one handler at a time by the per-user
// queue upstream.
type Store struct {
	dial Dialer

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewStore creates a Store that uses dial to open conversation handles.
func NewStore(dial Dialer) *Store {
	return &Store{
		dial:     dial,
		sessions: make(map[int64]*Session),
	}
}

// Get returns the user's session, creating the default one on first
// access: flash text tier, pro image tier, no mode.
func (s *Store) Get(userID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &Session{
			UserID:         userID,
			ModelTier:      TierFlash,
			ImageModelTier: TierPro,
		}
		s.sessions[userID] = sess
	}
	return sess
}

// Conversation returns the session's chat handle, transparently
// recreating it when absent or idle beyond ConversationTimeout. Callers
// never check the timeout themselves.
func (s *Store) Conversation(sess *Session) (Chat, error) {
	now := time.Now()
	if sess.chat == nil || now.Sub(sess.lastActivity) > ConversationTimeout {
		chat, err := s.dial(sess.ModelTier)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		sess.chat = chat
	}
	sess.lastActivity = now
	return sess.chat, nil
}

// Reset replaces the conversation handle and clears mode, photo task and
// active image. Model-tier preferences survive. Returns the mode that
// was cancelled, if any.
func (s *Store) Reset(sess *Session) (Mode, error) {
	cancelled := sess.ClearMode()
	sess.Active = nil
	chat, err := s.dial(sess.ModelTier)
	if err != nil {
		return cancelled, fmt.Errorf("create conversation: %w", err)
	}
	sess.chat = chat
	sess.lastActivity = time.Now()
	return cancelled, nil
}

// Touch updates the last-activity clock without touching the handle.
func (s *Store) Touch(sess *Session) {
	sess.lastActivity = time.Now()
}

// SweepIdle drops sessions idle beyond the conversation timeout that
// carry no pending state. Used by the maintenance job to bound memory.
func (s *Store) SweepIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.Mode == ModeNone && sess.PhotoTask == nil && sess.Active == nil &&
			now.Sub(sess.lastActivity) > ConversationTimeout {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
