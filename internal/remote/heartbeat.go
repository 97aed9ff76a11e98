package remote

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/flowkeeper-org/fk-engine/internal/strategy"

	"github.com/google/uuid"
)

// heartbeat sends Pings at a fixed cadence and tracks which ones came
// back. A Ping outstanding beyond the round-trip threshold flips the
// logical connection state offline before the socket notices anything;
// the next Pong flips it back. One heartbeat lives per session.
type heartbeat struct {
	ws   *WebsocketSource
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[string]time.Time
}

func newHeartbeat(ws *WebsocketSource, conn *websocket.Conn) *heartbeat {
	return &heartbeat{ws: ws, conn: conn, pending: make(map[string]time.Time)}
}

func (h *heartbeat) run(ctx context.Context) {
	ticker := time.NewTicker(h.ws.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.check(now)
			h.send(ctx, now)
		}
	}
}

// check flips offline when any Ping is overdue.
func (h *heartbeat) check(now time.Time) {
	h.mu.Lock()
	stale := false
	for _, at := range h.pending {
		if now.Sub(at) > h.ws.opts.HeartbeatTimeout {
			stale = true
			break
		}
	}
	h.mu.Unlock()
	if stale {
		h.ws.engine.WentOffline()
	}
}

func (h *heartbeat) send(ctx context.Context, now time.Time) {
	uid := uuid.NewString()
	h.mu.Lock()
	h.pending[uid] = now
	h.mu.Unlock()
	ping := strategy.NewPing(now.UTC(), h.ws.engine.Identity(), uid)
	if err := h.ws.write(ctx, h.conn, ping); err != nil {
		h.ws.log.Debug("heartbeat send failed", "error", err)
	}
}

// pong settles a round trip. Earlier unanswered Pings are forgiven:
// the link just proved itself alive.
func (h *heartbeat) pong(uid string) {
	h.mu.Lock()
	_, known := h.pending[uid]
	h.pending = make(map[string]time.Time)
	h.mu.Unlock()
	if known {
		h.ws.engine.WentOnline()
	}
}
