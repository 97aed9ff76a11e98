package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/flowkeeper-org/fk-engine/internal/cache"
	"github.com/flowkeeper-org/fk-engine/internal/events"
	"github.com/flowkeeper-org/fk-engine/internal/source"
	"github.com/flowkeeper-org/fk-engine/internal/strategy"
)

const alice = "alice@example.com"

var t0 = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *source.Engine {
	t.Helper()
	e := source.NewEngine(source.Config{Identity: alice},
		events.NewEmitter(), strategy.NewRegistry())
	boot, err := e.InitStrategy(t0, "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ApplyIncoming(boot); err != nil {
		t.Fatal(err)
	}
	return e
}

// serve runs a scripted websocket server and returns its ws:// URL.
func serve(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		handler(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readLine(ctx context.Context, conn *websocket.Conn) (string, error) {
	_, data, err := conn.Read(ctx)
	return string(data), err
}

func writeLine(ctx context.Context, conn *websocket.Conn, line string) error {
	return conn.Write(ctx, websocket.MessageText, []byte(line))
}

// handshake consumes Authenticate and ReplayRequest and returns them.
func handshake(ctx context.Context, conn *websocket.Conn) (auth, replay string, err error) {
	if auth, err = readLine(ctx, conn); err != nil {
		return
	}
	replay, err = readLine(ctx, conn)
	return
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestHandshakeAndCatchUp verifies the client authenticates, requests a
// replay from its last sequence, applies the stream muted, and goes
// live on ReplayCompleted.
func TestHandshakeAndCatchUp(t *testing.T) {
	url := serve(t, func(ctx context.Context, conn *websocket.Conn) {
		auth, replay, err := handshake(ctx, conn)
		if err != nil {
			return
		}
		if !strings.HasPrefix(auth, `Authenticate("alice@example.com", "secret")`) {
			t.Errorf("bad auth line: %q", auth)
		}
		if !strings.HasPrefix(replay, `ReplayRequest("1")`) {
			t.Errorf("bad replay request: %q", replay)
		}
		writeLine(ctx, conn, `CreateBacklog("b1", "Plan") @ 2024-01-15T09:00:00Z by alice@example.com # 2`)
		writeLine(ctx, conn, `ReplayCompleted() @ 2024-01-15T09:00:00Z by admin@local.host # 0`)
		readLine(ctx, conn)
	})

	e := newTestEngine(t)
	var muted atomic.Int32
	e.Emitter().On(events.AfterBacklogCreate, func(string, events.Payload) {
		muted.Add(1)
	}, false)

	ws := New(e, Options{URL: url, Token: "secret", HeartbeatInterval: time.Hour})
	t.Cleanup(func() { ws.Close() })
	if err := ws.Start(false); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "the client to go online", e.IsOnline)
	if e.FindBacklog("b1") == nil {
		t.Error("streamed backlog not applied")
	}
	if e.LastSeq() != 2 {
		t.Errorf("last_seq = %d, want 2", e.LastSeq())
	}
	if muted.Load() != 0 {
		t.Error("catch-up events leaked through the mute")
	}
}

// TestAppendSendsOverTheSocket verifies locally executed commands are
// written to the live connection line by line.
func TestAppendSendsOverTheSocket(t *testing.T) {
	got := make(chan string, 8)
	url := serve(t, func(ctx context.Context, conn *websocket.Conn) {
		if _, _, err := handshake(ctx, conn); err != nil {
			return
		}
		writeLine(ctx, conn, `ReplayCompleted() @ 2024-01-15T09:00:00Z by admin@local.host # 0`)
		for {
			line, err := readLine(ctx, conn)
			if err != nil {
				return
			}
			got <- line
		}
	})

	e := newTestEngine(t)
	ws := New(e, Options{URL: url, HeartbeatInterval: time.Hour})
	t.Cleanup(func() { ws.Close() })
	if err := ws.Start(false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "the client to go online", e.IsOnline)

	if err := e.ExecuteAt(strategy.NameCreateBacklog, []string{"b1", "Plan"}, t0, true, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case line := <-got:
		want := `CreateBacklog("b1", "Plan") @ 2024-01-15T09:00:00Z by alice@example.com # 2`
		if line != want {
			t.Errorf("sent %q, want %q", line, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command never reached the server")
	}
}

// TestParkedCommandsFlushToTheServer verifies the full offline path: a
// command accepted before the socket is up is parked by the cache layer
// and delivered to the server once catch-up completes.
func TestParkedCommandsFlushToTheServer(t *testing.T) {
	got := make(chan string, 8)
	url := serve(t, func(ctx context.Context, conn *websocket.Conn) {
		if _, _, err := handshake(ctx, conn); err != nil {
			return
		}
		writeLine(ctx, conn, `ReplayCompleted() @ 2024-01-15T09:00:00Z by admin@local.host # 0`)
		for {
			line, err := readLine(ctx, conn)
			if err != nil {
				return
			}
			got <- line
		}
	})

	e := newTestEngine(t)
	ws := New(e, Options{URL: url, HeartbeatInterval: time.Hour})
	c := cache.New(ws, cache.Options{Dir: t.TempDir()})
	t.Cleanup(func() { c.Close() })

	// No connection yet: the command is accepted locally and parked.
	if err := e.ExecuteAt(strategy.NameCreateBacklog, []string{"b1", "Plan"}, t0, true, nil); err != nil {
		t.Fatal(err)
	}

	if err := c.Start(false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "the client to go online", e.IsOnline)

	select {
	case line := <-got:
		want := `CreateBacklog("b1", "Plan") @ 2024-01-15T09:00:00Z by alice@example.com # 2`
		if line != want {
			t.Errorf("flushed %q, want %q", line, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("the parked command never reached the server")
	}
}

// TestAppendRefusedWhileOffline verifies outbound sends fail fast when
// there is no live connection, so the cache layer can park them.
func TestAppendRefusedWhileOffline(t *testing.T) {
	e := newTestEngine(t)
	ws := New(e, Options{URL: "ws://127.0.0.1:1", HeartbeatInterval: time.Hour})
	t.Cleanup(func() { ws.Close() })

	err := e.ExecuteAt(strategy.NameCreateBacklog, []string{"b1", "Plan"}, t0, true, nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

// TestServerErrorIsTerminal verifies a server Error strategy stops the
// reconnect loop for good.
func TestServerErrorIsTerminal(t *testing.T) {
	var sessions atomic.Int32
	url := serve(t, func(ctx context.Context, conn *websocket.Conn) {
		sessions.Add(1)
		if _, _, err := handshake(ctx, conn); err != nil {
			return
		}
		writeLine(ctx, conn, `Error("401", "bad token") @ 2024-01-15T09:00:00Z by admin@local.host # 0`)
	})

	e := newTestEngine(t)
	ws := New(e, Options{URL: url, BaseBackoff: 10 * time.Millisecond, HeartbeatInterval: time.Hour})
	t.Cleanup(func() { ws.Close() })
	if err := ws.Start(false); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "the terminal error", func() bool { return ws.Err() != nil })
	if !errors.Is(ws.Err(), ErrServerRejected) {
		t.Fatalf("got %v, want ErrServerRejected", ws.Err())
	}
	time.Sleep(100 * time.Millisecond)
	if n := sessions.Load(); n != 1 {
		t.Errorf("client reconnected %d times after a terminal error", n-1)
	}
}

// TestReconnectAfterDrop verifies a dropped socket comes back through
// backoff and completes a fresh handshake.
func TestReconnectAfterDrop(t *testing.T) {
	var sessions atomic.Int32
	url := serve(t, func(ctx context.Context, conn *websocket.Conn) {
		n := sessions.Add(1)
		if _, _, err := handshake(ctx, conn); err != nil {
			return
		}
		writeLine(ctx, conn, `ReplayCompleted() @ 2024-01-15T09:00:00Z by admin@local.host # 0`)
		if n == 1 {
			return // drop the first session right after catch-up
		}
		readLine(ctx, conn)
	})

	e := newTestEngine(t)
	var wentOffline atomic.Int32
	e.Emitter().On(events.WentOffline, func(string, events.Payload) {
		wentOffline.Add(1)
	}, false)

	ws := New(e, Options{URL: url, BaseBackoff: 10 * time.Millisecond, HeartbeatInterval: time.Hour})
	t.Cleanup(func() { ws.Close() })
	if err := ws.Start(false); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "a reconnected session", func() bool {
		return sessions.Load() >= 2 && e.IsOnline()
	})
	if wentOffline.Load() == 0 {
		t.Error("the drop never flipped the state offline")
	}
}

// TestHeartbeatFlipsState verifies missing Pongs flip the logical state
// offline before the socket drops, and a Pong flips it back.
func TestHeartbeatFlipsState(t *testing.T) {
	var answer atomic.Bool
	var mu sync.Mutex
	reg := strategy.NewRegistry()
	url := serve(t, func(ctx context.Context, conn *websocket.Conn) {
		if _, _, err := handshake(ctx, conn); err != nil {
			return
		}
		writeLine(ctx, conn, `ReplayCompleted() @ 2024-01-15T09:00:00Z by admin@local.host # 0`)
		for {
			line, err := readLine(ctx, conn)
			if err != nil {
				return
			}
			s, err := strategy.Parse(line, reg)
			if err != nil {
				continue
			}
			ping, ok := s.(*strategy.Ping)
			if !ok || !answer.Load() {
				continue
			}
			mu.Lock()
			writeLine(ctx, conn, `Pong("`+ping.UID()+`") @ 2024-01-15T09:00:00Z by admin@local.host # 0`)
			mu.Unlock()
		}
	})

	e := newTestEngine(t)
	ws := New(e, Options{
		URL:               url,
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  10 * time.Millisecond,
		BaseBackoff:       time.Hour, // the socket stays up; only logical state moves
	})
	t.Cleanup(func() { ws.Close() })
	if err := ws.Start(false); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "the client to go online", e.IsOnline)
	waitFor(t, "unanswered pings to flip offline", func() bool { return !e.IsOnline() })

	answer.Store(true)
	waitFor(t, "a pong to flip back online", e.IsOnline)
}
