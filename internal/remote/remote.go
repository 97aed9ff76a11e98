// Package remote syncs an engine with a server over a websocket. The
// session opens with an Authenticate/ReplayRequest handshake, catches
// up on a muted strategy stream until ReplayCompleted, then goes live.
// Dropped sockets reconnect with bounded exponential backoff; a
// server-reported protocol error is terminal.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/flowkeeper-org/fk-engine/internal/events"
	"github.com/flowkeeper-org/fk-engine/internal/source"
	"github.com/flowkeeper-org/fk-engine/internal/strategy"
)

// ErrServerRejected marks a server-reported protocol error. The client
// surfaces it and stops reconnecting.
var ErrServerRejected = errors.New("server rejected the session")

// ErrNotConnected is returned for outbound sends while the connection
// is down or logically offline. The cache layer parks such commands.
var ErrNotConnected = errors.New("not connected to the server")

var errClosed = errors.New("source closed")

// Options configures a WebsocketSource.
type Options struct {
	URL   string
	Token string
	// HeartbeatInterval is the Ping cadence once the session is live.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is the round-trip threshold; a Ping without a
	// matching Pong within it flips the logical state offline.
	HeartbeatTimeout time.Duration
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	Logger           *slog.Logger
}

// WebsocketSource drives an engine from a remote strategy stream.
type WebsocketSource struct {
	engine *source.Engine
	opts   Options
	log    *slog.Logger
	done   chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	lastErr error
}

// New wires a websocket source to an engine. The engine's persistence
// hook is pointed at the socket.
func New(engine *source.Engine, opts Options) *WebsocketSource {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 2 * time.Second
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ws := &WebsocketSource{
		engine: engine,
		opts:   opts,
		log:    opts.Logger,
		done:   make(chan struct{}),
	}
	engine.OnAppend(ws.Append)
	return ws
}

// Engine returns the engine this source drives.
func (ws *WebsocketSource) Engine() *source.Engine { return ws.engine }

// Err returns the terminal error, if the connection loop gave up.
func (ws *WebsocketSource) Err() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.lastErr
}

// Start launches the connection loop and returns immediately; progress
// is reported through WentOnline/WentOffline and ReplayCompleted.
func (ws *WebsocketSource) Start(loud bool) error {
	go ws.maintain(loud)
	return nil
}

// Close tears the connection down and stops reconnecting.
func (ws *WebsocketSource) Close() error {
	select {
	case <-ws.done:
	default:
		close(ws.done)
	}
	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}

func (ws *WebsocketSource) maintain(loud bool) {
	attempt := 0
	for {
		err := ws.session(loud)
		ws.engine.WentOffline()
		switch {
		case errors.Is(err, errClosed):
			return
		case errors.Is(err, ErrServerRejected):
			ws.mu.Lock()
			ws.lastErr = err
			ws.mu.Unlock()
			ws.log.Error("giving up on the server", "error", err)
			return
		}

		attempt++
		delay := ws.backoff(attempt)
		ws.log.Warn("connection lost, reconnecting",
			"error", err, "attempt", attempt, "delay", delay)
		select {
		case <-ws.done:
			return
		case <-time.After(delay):
		}
	}
}

func (ws *WebsocketSource) backoff(attempt int) time.Duration {
	d := time.Duration(float64(ws.opts.BaseBackoff) * math.Pow(1.5, float64(attempt-1)))
	return min(max(d, ws.opts.BaseBackoff), ws.opts.MaxBackoff)
}

// session runs one connection from dial to failure.
func (ws *WebsocketSource) session(loud bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-ws.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, _, err := websocket.Dial(ctx, ws.opts.URL, nil)
	if err != nil {
		return ws.orClosed(err)
	}
	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	defer func() {
		ws.mu.Lock()
		ws.conn = nil
		ws.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	now := time.Now().UTC()
	identity := ws.engine.Identity()
	if err := ws.write(ctx, conn, strategy.NewAuthenticate(now, identity, ws.opts.Token)); err != nil {
		return ws.orClosed(err)
	}
	if err := ws.write(ctx, conn, strategy.NewReplayRequest(now, identity, ws.engine.LastSeq())); err != nil {
		return ws.orClosed(err)
	}

	em := ws.engine.Emitter()
	em.Emit(events.SourceMessagesRequested, nil)
	catchingUp := true
	if !loud {
		em.Mute()
		defer func() {
			if catchingUp {
				em.Unmute()
			}
		}()
	}

	hb := newHeartbeat(ws, conn)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return ws.orClosed(err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			s, err := strategy.Parse(line, ws.engine.Registry())
			if err != nil {
				if strategy.IsSkippable(err) {
					continue
				}
				return fmt.Errorf("bad line from the server: %w", err)
			}

			switch v := s.(type) {
			case *strategy.ReplayCompleted:
				if !catchingUp {
					continue
				}
				catchingUp = false
				if err := ws.engine.AutoSeal(time.Now().UTC()); err != nil {
					return err
				}
				if !loud {
					em.Unmute()
				}
				em.EmitForce(events.ReplayCompleted,
					events.Payload{"last_seq": ws.engine.LastSeq()})
				em.Emit(events.SourceMessagesProcessed, events.Payload{"source": ws})
				ws.engine.WentOnline()
				go hb.run(ctx)

			case *strategy.Pong:
				hb.pong(v.UID())
				em.EmitForce(events.PongReceived, events.Payload{"uid": v.UID()})

			case *strategy.Ping:
				reply, err := ws.engine.Registry().Create(strategy.NamePong, 0,
					time.Now().UTC(), identity, []string{v.UID()})
				if err == nil {
					ws.write(ctx, conn, reply)
				}

			case *strategy.Error:
				return fmt.Errorf("%w: %s %s", ErrServerRejected, v.Code(), v.Message())

			default:
				if err := ws.engine.ApplyIncoming(s); err != nil {
					return err
				}
			}
		}
	}
}

func (ws *WebsocketSource) orClosed(err error) error {
	select {
	case <-ws.done:
		return errClosed
	default:
		return err
	}
}

// Append sends strategies to the server. While the socket is down or
// the logical state is offline the send is refused, not queued; the
// cache layer owns queuing.
func (ws *WebsocketSource) Append(strategies []strategy.Strategy) error {
	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()
	if conn == nil || !ws.engine.IsOnline() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range strategies {
		if err := ws.write(ctx, conn, s); err != nil {
			return err
		}
	}
	return nil
}

func (ws *WebsocketSource) write(ctx context.Context, conn *websocket.Conn, s strategy.Strategy) error {
	return conn.Write(ctx, websocket.MessageText, []byte(strategy.Serialize(s)))
}
