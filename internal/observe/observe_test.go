package observe

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/coherentd/lockd/internal/audit"
)

func TestPublishFansOutToAllViewers(t *testing.T) {
	h := NewHub(zerolog.Nop())

	ch1 := make(chan audit.Event, viewerBuffer)
	ch2 := make(chan audit.Event, viewerBuffer)
	h.mu.Lock()
	h.viewers[ch1] = struct{}{}
	h.viewers[ch2] = struct{}{}
	h.mu.Unlock()

	evt := audit.Event{Kind: audit.EventRevoke, LockID: 7}
	h.Publish(evt)

	for _, ch := range []chan audit.Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.LockID != 7 {
				t.Fatalf("expected lock id 7, got %d", got.LockID)
			}
		case <-time.After(time.Second):
			t.Fatalf("viewer did not receive the published event")
		}
	}
}

func TestPublishDropsSlowViewer(t *testing.T) {
	h := NewHub(zerolog.Nop())

	ch := make(chan audit.Event, 1)
	h.mu.Lock()
	h.viewers[ch] = struct{}{}
	h.mu.Unlock()

	// Fill the viewer's buffer, then publish once more: the hub must drop
	// and close it rather than block.
	h.Publish(audit.Event{Kind: audit.EventRevoke, LockID: 1})
	h.Publish(audit.Event{Kind: audit.EventRevoke, LockID: 2})

	h.mu.Lock()
	_, stillRegistered := h.viewers[ch]
	h.mu.Unlock()
	if stillRegistered {
		t.Fatalf("expected the slow viewer to have been dropped")
	}

	// The channel must have been closed, not merely abandoned.
	select {
	case _, ok := <-ch:
		if ok {
			// Drains the one buffered event; the next receive must show closed.
			if _, ok2 := <-ch; ok2 {
				t.Fatalf("expected the dropped viewer's channel to be closed")
			}
		}
	case <-time.After(time.Second):
		t.Fatalf("expected to observe the dropped viewer's channel closing")
	}
}
