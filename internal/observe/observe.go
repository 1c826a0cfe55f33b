// Package observe exposes a read-only websocket stream of coordinator state
// transitions for operational tooling, grounded in the teacher's
// internal/shared websocket handling (ws.UpgradeHTTP on the accept side,
// wsutil.WriteServerMessage for frames) but stripped of everything that
// made sense only for a fan-out broadcast server: no admission control, no
// subscription filtering, no write pump — this is one best-effort feed
// every viewer gets in full, and a slow viewer is dropped rather than
// allowed to apply backpressure to the publisher.
package observe

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/coherentd/lockd/internal/audit"
)

// viewerBuffer bounds how many pending frames a viewer may lag before
// it is disconnected.
const viewerBuffer = 64

// Hub fans audit.Event records out to connected websocket viewers. It
// implements http.Handler for /debug/locks.
type Hub struct {
	logger zerolog.Logger

	mu      sync.Mutex
	viewers map[chan audit.Event]struct{}
}

// NewHub constructs an empty Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "observe").Logger(),
		viewers: make(map[chan audit.Event]struct{}),
	}
}

// Publish fans evt out to every connected viewer. A viewer whose buffer is
// full is dropped rather than blocking the coordinator.
func (h *Hub) Publish(evt audit.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.viewers {
		select {
		case ch <- evt:
		default:
			h.logger.Debug().Msg("dropping slow observe viewer")
			delete(h.viewers, ch)
			close(ch)
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams events to it
// until the connection closes or the viewer falls behind.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Debug().Err(err).Msg("observe websocket upgrade failed")
		return
	}

	ch := make(chan audit.Event, viewerBuffer)
	h.mu.Lock()
	h.viewers[ch] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if _, ok := h.viewers[ch]; ok {
			delete(h.viewers, ch)
			close(ch)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	for evt := range ch {
		payload, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		if err := wsutil.WriteServerMessage(conn, ws.OpText, payload); err != nil {
			return
		}
	}
}
