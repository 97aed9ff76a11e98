// Package filelog is the file-backed event source: a durable append-only
// strategy log with replay-on-start, filesystem-watch incremental
// replay, offline repair and compaction.
package filelog

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flowkeeper-org/fk-engine/internal/codec"
	"github.com/flowkeeper-org/fk-engine/internal/events"
	"github.com/flowkeeper-org/fk-engine/internal/source"
	"github.com/flowkeeper-org/fk-engine/internal/strategy"
)

// Options configures a FileSource.
type Options struct {
	// Path is the strategy log file.
	Path string
	// FullName is the display name used for the bootstrap CreateUser
	// line when the file does not exist yet.
	FullName string
	// Watch enables incremental replay of external file changes.
	Watch bool
	// IgnoreErrors skips unparseable or failing lines during replay
	// instead of aborting the whole pass.
	IgnoreErrors bool
	Codec        codec.Codec
	Logger       *slog.Logger
}

// FileSource drives an engine from a line-per-strategy log file.
type FileSource struct {
	engine *source.Engine
	opts   Options
	cdc    codec.Codec
	log    *slog.Logger

	mu       sync.Mutex
	appendMu sync.Mutex
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// New wires a file source to an engine. The engine's persistence hook
// is pointed at the file.
func New(engine *source.Engine, opts Options) *FileSource {
	if opts.Codec == nil {
		opts.Codec = codec.Plain{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	fs := &FileSource{
		engine: engine,
		opts:   opts,
		cdc:    opts.Codec,
		log:    opts.Logger,
		done:   make(chan struct{}),
	}
	engine.OnAppend(fs.Append)
	return fs
}

// Engine returns the engine this source drives.
func (fs *FileSource) Engine() *source.Engine { return fs.engine }

// Start replays the log front to back, auto-seals once and emits
// ReplayCompleted. A missing file is created seeded with a bootstrap
// CreateUser line. Events are muted during replay unless loud is set.
func (fs *FileSource) Start(loud bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := os.Stat(fs.opts.Path); os.IsNotExist(err) {
		if err := fs.bootstrap(); err != nil {
			return err
		}
	}

	em := fs.engine.Emitter()
	em.Emit(events.SourceMessagesRequested, nil)
	if !loud {
		em.Mute()
		defer em.Unmute()
	}
	if err := fs.replay(); err != nil {
		return err
	}
	if err := fs.engine.AutoSeal(time.Now().UTC()); err != nil {
		return err
	}
	em.EmitForce(events.ReplayCompleted, events.Payload{"last_seq": fs.engine.LastSeq()})
	em.Emit(events.SourceMessagesProcessed, events.Payload{"source": fs})

	if fs.opts.Watch {
		return fs.startWatcher()
	}
	return nil
}

func (fs *FileSource) bootstrap() error {
	boot, err := fs.engine.InitStrategy(time.Now().UTC(), fs.opts.FullName)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(fs.opts.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line, err := fs.encodeLine(boot)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		return err
	}
	fs.log.Info("created empty data file", "path", fs.opts.Path)
	return nil
}

// replay reads the file and applies every strategy with a sequence
// beyond the engine's current one. Logs may start at any sequence; the
// first strategy anchors the counter.
func (fs *FileSource) replay() error {
	f, err := os.Open(fs.opts.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	first := fs.engine.LastSeq() == 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		s, err := fs.decodeLine(scanner.Text())
		if err != nil {
			if strategy.IsSkippable(err) {
				continue
			}
			if fs.opts.IgnoreErrors {
				fs.log.Warn("skipped a bad log line", "error", err)
				continue
			}
			return err
		}
		if s.Seq() <= fs.engine.LastSeq() {
			continue
		}
		if first {
			fs.engine.Restore(fs.engine.Tenant(), s.Seq()-1)
			first = false
		}
		if err := fs.engine.ApplyIncoming(s); err != nil {
			if fs.opts.IgnoreErrors {
				fs.log.Warn("skipped a failing strategy",
					"strategy", strategy.Serialize(s), "error", err)
				continue
			}
			return err
		}
	}
	return scanner.Err()
}

// Append serializes strategies to the end of the log. The engine calls
// it after each successful execution; I/O is synchronous and blocking
// by design, a stalled write is preferred over a partial one.
func (fs *FileSource) Append(strategies []strategy.Strategy) error {
	fs.appendMu.Lock()
	defer fs.appendMu.Unlock()
	f, err := os.OpenFile(fs.opts.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, s := range strategies {
		line, err := fs.encodeLine(s)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(f, line); err != nil {
			return err
		}
	}
	return f.Sync()
}

func (fs *FileSource) encodeLine(s strategy.Strategy) (string, error) {
	line := strategy.Serialize(s)
	if !fs.cdc.Enabled() {
		return line, nil
	}
	enc, err := fs.cdc.Encode(line)
	if err != nil {
		return "", err
	}
	return "+" + enc, nil
}

func (fs *FileSource) decodeLine(line string) (strategy.Strategy, error) {
	if len(line) > 0 && line[0] == '+' {
		plain, err := fs.cdc.Decode(line[1:])
		if err != nil {
			return nil, err
		}
		line = plain
	}
	return strategy.Parse(line, fs.engine.Registry())
}

// startWatcher begins incremental replay of external writes. The parent
// directory is watched rather than the file itself so editors that
// replace the file atomically are still seen.
func (fs *FileSource) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(fs.opts.Path)); err != nil {
		w.Close()
		return err
	}
	fs.watcher = w
	go fs.watchLoop()
	return nil
}

func (fs *FileSource) watchLoop() {
	target := filepath.Clean(fs.opts.Path)
	for {
		select {
		case <-fs.done:
			return
		case ev, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := fs.onFileChange(); err != nil {
				fs.log.Error("incremental replay failed", "error", err)
			}
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.log.Error("file watcher error", "error", err)
		}
	}
}

// onFileChange replays strategies another process appended. Events stay
// unmuted so subscribers see the changes as they apply, and a trailing
// auto-seal covers pomodoros that expired in between.
func (fs *FileSource) onFileChange() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.replay(); err != nil {
		return err
	}
	return fs.engine.AutoSeal(time.Now().UTC())
}

// Close stops the watcher. The log file itself is opened per operation.
func (fs *FileSource) Close() error {
	select {
	case <-fs.done:
	default:
		close(fs.done)
	}
	if fs.watcher != nil {
		return fs.watcher.Close()
	}
	return nil
}

// backupAndRewrite renames the current file to a timestamped backup and
// writes the given strategies as the new content.
func (fs *FileSource) backupAndRewrite(strategies []strategy.Strategy) (string, error) {
	backup := fmt.Sprintf("%s-backup-%d", fs.opts.Path, time.Now().UnixMilli())
	if err := os.Rename(fs.opts.Path, backup); err != nil {
		return "", err
	}
	f, err := os.Create(fs.opts.Path)
	if err != nil {
		return backup, err
	}
	defer f.Close()
	for _, s := range strategies {
		line, err := fs.encodeLine(s)
		if err != nil {
			return backup, err
		}
		if _, err := fmt.Fprintln(f, line); err != nil {
			return backup, err
		}
	}
	return backup, f.Sync()
}
