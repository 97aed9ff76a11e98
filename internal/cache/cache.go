// Package cache decorates an event source with local durability: a gob
// snapshot of the tree for fast startup, and a redo log that queues
// commands issued while the downstream source is unreachable. A process
// restart never loses a locally accepted command.
package cache

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flowkeeper-org/fk-engine/internal/codec"
	"github.com/flowkeeper-org/fk-engine/internal/events"
	"github.com/flowkeeper-org/fk-engine/internal/model"
	"github.com/flowkeeper-org/fk-engine/internal/source"
	"github.com/flowkeeper-org/fk-engine/internal/strategy"
)

// Source is the downstream event source being decorated. Both the file
// and the websocket sources satisfy it.
type Source interface {
	Engine() *source.Engine
	Start(loud bool) error
	Append(strategies []strategy.Strategy) error
	Close() error
}

// snapshot is the on-disk cache schema: the serialized tree plus the
// sequence it corresponds to. It must round-trip exactly.
type snapshot struct {
	Tree    model.Snapshot
	LastSeq int64
}

// Options configures a CachingSource.
type Options struct {
	// Dir holds the snapshot and redo log files.
	Dir string
	// Codec encrypts redo log lines, matching the main log.
	Codec  codec.Codec
	Logger *slog.Logger
}

// CachingSource wraps a Source, intercepting the engine's persistence
// hook. While the downstream is reachable, strategies pass straight
// through; while it is not, they are parked in the redo log and flushed
// in order on the next WentOnline.
type CachingSource struct {
	inner Source
	opts  Options
	cdc   codec.Codec
	log   *slog.Logger

	mu       sync.Mutex
	offline  bool
	savedSeq int64
}

// New wires the decorator in. It must be constructed after the inner
// source so its persistence hook wins.
func New(inner Source, opts Options) *CachingSource {
	if opts.Codec == nil {
		opts.Codec = codec.Plain{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &CachingSource{
		inner: inner,
		opts:  opts,
		cdc:   opts.Codec,
		log:   opts.Logger,
	}
	e := inner.Engine()
	e.OnAppend(c.Append)
	e.Emitter().On(events.ReplayCompleted, c.onReplayCompleted, false)
	e.Emitter().On(events.WentOnline, c.onOnline, false)
	e.Emitter().On(events.WentOffline, c.onOffline, false)
	return c
}

// Engine returns the shared engine.
func (c *CachingSource) Engine() *source.Engine { return c.inner.Engine() }

func (c *CachingSource) snapshotPath() string { return filepath.Join(c.opts.Dir, "snapshot.gob") }
func (c *CachingSource) redoPath() string     { return filepath.Join(c.opts.Dir, "redo.txt") }

// Start restores the cached tree if one exists, re-applies any redo log
// left over from the previous run, then starts the inner source. A
// corrupt or unreadable snapshot degrades to an empty cache rather than
// failing startup.
func (c *CachingSource) Start(loud bool) error {
	e := c.Engine()
	if snap, ok := c.loadSnapshot(); ok {
		e.Restore(model.FromSnapshot(snap.Tree, time.Now().UTC()), snap.LastSeq)
		c.savedSeq = snap.LastSeq
		if err := e.AutoSeal(time.Now().UTC()); err != nil {
			return err
		}
		c.log.Debug("restored the cached tree", "last_seq", snap.LastSeq)
	}
	if err := c.replayRedo(); err != nil {
		return err
	}
	return c.inner.Start(loud)
}

// Append is the engine's persistence hook. A strategy that cannot reach
// the downstream right now is parked in the redo log and the call still
// succeeds: the command was accepted locally.
func (c *CachingSource) Append(strategies []strategy.Strategy) error {
	c.mu.Lock()
	offline := c.offline
	c.mu.Unlock()
	if !offline {
		err := c.inner.Append(strategies)
		if err == nil {
			return nil
		}
		c.log.Warn("downstream append failed, parking in the redo log", "error", err)
	}
	return c.park(strategies)
}

// Close snapshots the tree if it advanced past the saved snapshot,
// then closes the inner source.
func (c *CachingSource) Close() error {
	c.mu.Lock()
	changed := c.Engine().LastSeq() != c.savedSeq
	c.mu.Unlock()
	if changed {
		if err := c.saveSnapshot(); err != nil {
			c.log.Warn("could not save the shutdown snapshot", "error", err)
		}
	}
	return c.inner.Close()
}

func (c *CachingSource) onReplayCompleted(event string, payload events.Payload) {
	c.mu.Lock()
	changed := c.Engine().LastSeq() != c.savedSeq
	c.mu.Unlock()
	if !changed {
		return
	}
	if err := c.saveSnapshot(); err != nil {
		c.log.Warn("could not save the snapshot", "error", err)
	}
}

func (c *CachingSource) onOnline(event string, payload events.Payload) {
	if err := c.flush(); err != nil {
		c.log.Error("redo log flush failed", "error", err)
		return
	}
	c.mu.Lock()
	c.offline = false
	c.mu.Unlock()
}

func (c *CachingSource) onOffline(event string, payload events.Payload) {
	c.mu.Lock()
	c.offline = true
	c.mu.Unlock()
}

// saveSnapshot writes the tree atomically via a temp file rename.
func (c *CachingSource) saveSnapshot() error {
	e := c.Engine()
	snap := snapshot{Tree: e.Tenant().ToSnapshot(), LastSeq: e.LastSeq()}

	tmp := c.snapshotPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, c.snapshotPath()); err != nil {
		return err
	}
	c.mu.Lock()
	c.savedSeq = snap.LastSeq
	c.mu.Unlock()
	c.log.Debug("saved a snapshot", "last_seq", snap.LastSeq)
	return nil
}

func (c *CachingSource) loadSnapshot() (snapshot, bool) {
	var snap snapshot
	f, err := os.Open(c.snapshotPath())
	if err != nil {
		return snap, false
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		c.log.Warn("discarding a corrupt snapshot", "error", err)
		os.Remove(c.snapshotPath())
		return snapshot{}, false
	}
	return snap, true
}

// park appends strategies to the redo log, fsyncing before reporting
// success.
func (c *CachingSource) park(strategies []strategy.Strategy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := os.OpenFile(c.redoPath(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, s := range strategies {
		line, err := c.encodeLine(s)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(f, line); err != nil {
			return err
		}
	}
	return f.Sync()
}

// pending reads the redo log back as strategies.
func (c *CachingSource) pending() ([]strategy.Strategy, error) {
	f, err := os.Open(c.redoPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []strategy.Strategy
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		s, err := c.decodeLine(scanner.Text())
		if err != nil {
			if strategy.IsSkippable(err) {
				continue
			}
			return nil, err
		}
		out = append(out, s)
	}
	return out, scanner.Err()
}

// flush delivers every parked strategy downstream in order, then resets
// the redo log to empty. Each command is sent exactly once.
func (c *CachingSource) flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	parked, err := c.pending()
	if err != nil {
		return err
	}
	if len(parked) > 0 {
		if err := c.inner.Append(parked); err != nil {
			return err
		}
		c.log.Info("flushed the redo log", "strategies", len(parked))
	}
	if err := os.Remove(c.redoPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	f, err := os.Create(c.redoPath())
	if err != nil {
		return err
	}
	return f.Close()
}

// replayRedo applies commands that were accepted before the previous
// shutdown but are still pending delivery. They stay in the redo log
// until a flush succeeds.
func (c *CachingSource) replayRedo() error {
	parked, err := c.pending()
	if err != nil {
		c.log.Warn("discarding an unreadable redo log", "error", err)
		os.Remove(c.redoPath())
		return nil
	}
	e := c.Engine()
	for _, s := range parked {
		if s.Seq() <= e.LastSeq() {
			continue
		}
		if err := e.ApplyIncoming(s); err != nil {
			return fmt.Errorf("redo log replay: %w", err)
		}
	}
	return nil
}

func (c *CachingSource) encodeLine(s strategy.Strategy) (string, error) {
	line := strategy.Serialize(s)
	if !c.cdc.Enabled() {
		return line, nil
	}
	enc, err := c.cdc.Encode(line)
	if err != nil {
		return "", err
	}
	return "+" + enc, nil
}

func (c *CachingSource) decodeLine(line string) (strategy.Strategy, error) {
	if len(line) > 0 && line[0] == '+' {
		plain, err := c.cdc.Decode(line[1:])
		if err != nil {
			return nil, err
		}
		line = plain
	}
	return strategy.Parse(line, c.Engine().Registry())
}
