package album

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestThreeFragmentsOneFlush(t *testing.T) {
	var mu sync.Mutex
	var flushed []*Album
	c := NewWithQuiet(func(a *Album) {
		mu.Lock()
		flushed = append(flushed, a)
		mu.Unlock()
	}, 50*time.Millisecond)

	for i := byte(1); i <= 3; i++ {
		c.OnFragment("g1", Fragment{Photo: []byte{i}, UserID: 7, Username: "alice", ChatID: 8, MessageID: 100})
	}

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 1 {
		t.Fatalf("expected exactly one flush, got %d", len(flushed))
	}
	a := flushed[0]
	if len(a.Photos) != 3 {
		t.Fatalf("expected 3 photos, got %d", len(a.Photos))
	}
	for i, want := range [][]byte{{1}, {2}, {3}} {
		if !bytes.Equal(a.Photos[i], want) {
			t.Errorf("photo %d out of arrival order: %v", i, a.Photos[i])
		}
	}
	if a.UserID != 7 || a.Username != "alice" {
		t.Errorf("sender identity lost: id=%d username=%q", a.UserID, a.Username)
	}
}

func TestLateFragmentDropped(t *testing.T) {
	flushes := make(chan *Album, 2)
	c := NewWithQuiet(func(a *Album) { flushes <- a }, 30*time.Millisecond)

	c.OnFragment("g1", Fragment{Photo: []byte{1}})
	<-flushes

	// The buffer was consumed; a straggler must not error or re-flush.
	c.OnFragment("g1", Fragment{Photo: []byte{2}})
	c.Flush("g1") // explicit flush of the straggler's fresh buffer
	a := <-flushes
	if len(a.Photos) != 1 || a.Photos[0][0] != 2 {
		t.Errorf("straggler started a fresh buffer incorrectly: %+v", a)
	}
}

func TestFlushIdempotent(t *testing.T) {
	count := 0
	c := NewWithQuiet(func(a *Album) { count++ }, time.Hour)

	c.OnFragment("g1", Fragment{Photo: []byte{1}})
	c.Flush("g1")
	c.Flush("g1")
	c.Flush("missing")

	if count != 1 {
		t.Errorf("flush ran %d times", count)
	}
	if c.Pending() != 0 {
		t.Errorf("pending = %d", c.Pending())
	}
}

func TestCaptionBackfill(t *testing.T) {
	var got *Album
	c := NewWithQuiet(func(a *Album) { got = a }, time.Hour)

	c.OnFragment("g1", Fragment{Photo: []byte{1}, Caption: ""})
	c.OnFragment("g1", Fragment{Photo: []byte{2}, Caption: "edit this"})
	c.OnFragment("g1", Fragment{Photo: []byte{3}, Caption: "ignored"})
	c.Flush("g1")

	if got.Caption != "edit this" {
		t.Errorf("caption = %q", got.Caption)
	}
}

func TestPhotoCap(t *testing.T) {
	var got *Album
	c := NewWithQuiet(func(a *Album) { got = a }, time.Hour)

	for i := 0; i < MaxPhotos+5; i++ {
		c.OnFragment("g1", Fragment{Photo: []byte{byte(i)}})
	}
	c.Flush("g1")

	if len(got.Photos) != MaxPhotos {
		t.Errorf("cap not enforced: %d", len(got.Photos))
	}
}

func TestConcurrentFragmentsSerialized(t *testing.T) {
	var got *Album
	c := NewWithQuiet(func(a *Album) { got = a }, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < MaxPhotos; i++ {
		wg.Add(1)
		go func(i byte) {
			defer wg.Done()
			c.OnFragment("g1", Fragment{Photo: []byte{i}})
		}(byte(i))
	}
	wg.Wait()
	c.Flush("g1")

	if len(got.Photos) != MaxPhotos {
		t.Errorf("lost fragments under concurrency: %d", len(got.Photos))
	}
}
