// Package album buffers the burst of individual photo messages Telegram
// delivers for one media group and flushes them as a single unit after a
// quiet period.
package album

import (
	"sync"
	"time"
)

const (
	// QuietPeriod is how long after the FIRST fragment the flush fires.
	// Later fragments do not extend it.
	QuietPeriod = 1500 * time.Millisecond
	// MaxPhotos caps how many fragments of one group are kept.
	MaxPhotos = 10
)

// Fragment is one photo message belonging to a media group.
type Fragment struct {
	Photo     []byte
	Caption   string
	UserID    int64
	Username  string
	ChatID    int64
	MessageID int
}

// Album is the coalesced unit handed to the flush callback.
type Album struct {
	GroupID   string
	Photos    [][]byte
	Caption   string
	UserID    int64
	Username  string
	ChatID    int64
	MessageID int
	CreatedAt time.Time
}

// FlushFunc receives the completed album. It runs on the flush timer's
// goroutine.
type FlushFunc func(a *Album)

// Coalescer collects fragments per group id. Appends are atomic with
// respect to the flush check: fragments arriving after the buffer was
// consumed are dropped.
type Coalescer struct {
	flush FlushFunc
	quiet time.Duration

	mu      sync.Mutex
	pending map[string]*Album
}

// New creates a Coalescer with the standard quiet period.
func New(flush FlushFunc) *Coalescer {
	return NewWithQuiet(flush, QuietPeriod)
}

// NewWithQuiet exists for tests that cannot wait the full quiet period.
func NewWithQuiet(flush FlushFunc, quiet time.Duration) *Coalescer {
	return &Coalescer{
		flush:   flush,
		quiet:   quiet,
		pending: make(map[string]*Album),
	}
}

// OnFragment records one fragment. The first fragment of a group creates
// the buffer and schedules its one and only flush; later fragments
// append (up to MaxPhotos) and backfill an empty caption.
func (c *Coalescer) OnFragment(groupID string, f Fragment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a, ok := c.pending[groupID]; ok {
		if len(a.Photos) < MaxPhotos {
			a.Photos = append(a.Photos, f.Photo)
		}
		if a.Caption == "" && f.Caption != "" {
			a.Caption = f.Caption
		}
		return
	}

	c.pending[groupID] = &Album{
		GroupID:   groupID,
		Photos:    [][]byte{f.Photo},
		Caption:   f.Caption,
		UserID:    f.UserID,
		Username:  f.Username,
		ChatID:    f.ChatID,
		MessageID: f.MessageID,
		CreatedAt: time.Now(),
	}
	time.AfterFunc(c.quiet, func() { c.Flush(groupID) })
}

// Flush consumes the group's buffer and hands it to the callback. A
// missing or already-consumed group is a no-op.
func (c *Coalescer) Flush(groupID string) {
	c.mu.Lock()
	a, ok := c.pending[groupID]
	if ok {
		delete(c.pending, groupID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	c.flush(a)
}

// Pending returns the number of groups currently buffered.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
