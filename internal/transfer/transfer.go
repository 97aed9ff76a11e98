// Package transfer moves strategy history in and out of an engine:
// export to a file another Flowkeeper instance can read, classic
// import replaying a file as-is, and smart import merging a diverged
// tree without losing anything.
package transfer

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/flowkeeper-org/fk-engine/internal/codec"
	"github.com/flowkeeper-org/fk-engine/internal/events"
	"github.com/flowkeeper-org/fk-engine/internal/merge"
	"github.com/flowkeeper-org/fk-engine/internal/source"
	"github.com/flowkeeper-org/fk-engine/internal/strategy"
)

// ExportOptions controls what an export contains.
type ExportOptions struct {
	// Compress exports the minimal strategy list recreating the tree
	// instead of the full history.
	Compress bool
	// Codec encrypts exported lines when enabled.
	Codec codec.Codec
	// InputCodec decrypts the history being re-exported; defaults to
	// Codec.
	InputCodec codec.Codec
	Logger     *slog.Logger
}

// ImportOptions controls how a file is applied.
type ImportOptions struct {
	// Merge reconciles the file into the tree non-destructively;
	// without it the file replays as-is onto the local user.
	Merge bool
	// IgnoreErrors skips failing lines instead of aborting.
	IgnoreErrors bool
	// Codec decrypts '+'-prefixed input lines.
	Codec  codec.Codec
	Logger *slog.Logger
}

// Export writes the engine's history to w. A compressed export comes
// from the current tree; a full export re-encodes the raw log lines
// read from history. Returns the number of lines written.
func Export(e *source.Engine, history io.Reader, w io.Writer, opts ExportOptions) (int, error) {
	if opts.Codec == nil {
		opts.Codec = codec.Plain{}
	}
	if opts.Compress {
		strategies, err := e.Compressed()
		if err != nil {
			return 0, err
		}
		return writeAll(w, strategies, opts.Codec)
	}

	var out []strategy.Strategy
	in := opts.InputCodec
	if in == nil {
		in = opts.Codec
	}
	scanner := newScanner(history)
	for scanner.Scan() {
		s, err := decodeLine(scanner.Text(), in, e.Registry())
		if err != nil {
			if strategy.IsSkippable(err) {
				continue
			}
			return 0, err
		}
		out = append(out, s)
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return writeAll(w, out, opts.Codec)
}

// Import applies a file to the engine. The emitter stays muted for the
// bulk of the work; one ReplayCompleted fires at the end so subscribers
// refresh exactly once. Returns the number of strategies applied.
func Import(e *source.Engine, r io.Reader, opts ImportOptions) (int, error) {
	if opts.Codec == nil {
		opts.Codec = codec.Plain{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	em := e.Emitter()
	em.Mute()
	applied, err := func() (int, error) {
		if opts.Merge {
			return importMerge(e, r, opts)
		}
		return importClassic(e, r, opts)
	}()
	em.Unmute()
	if err != nil {
		return applied, err
	}
	if err := e.AutoSeal(time.Now().UTC()); err != nil {
		return applied, err
	}
	em.EmitForce(events.ReplayCompleted, events.Payload{"last_seq": e.LastSeq()})
	return applied, nil
}

// importClassic replays the file line by line onto the local user.
// CreateUser lines are dropped, every other strategy is re-stamped with
// the local identity and the next sequence.
func importClassic(e *source.Engine, r io.Reader, opts ImportOptions) (int, error) {
	applied := 0
	scanner := newScanner(r)
	for scanner.Scan() {
		s, err := decodeLine(scanner.Text(), opts.Codec, e.Registry())
		if err != nil {
			if strategy.IsSkippable(err) {
				continue
			}
			if opts.IgnoreErrors {
				opts.Logger.Warn("skipped a bad import line", "error", err)
				continue
			}
			return applied, err
		}
		if s.Name() == strategy.NameCreateUser || !s.Persistent() {
			continue
		}
		local, err := e.Registry().Create(s.Name(), e.LastSeq()+1, s.When(), e.Identity(), s.Params())
		if err != nil {
			return applied, err
		}
		if err := e.ExecutePrepared(local, true); err != nil {
			if opts.IgnoreErrors {
				opts.Logger.Warn("skipped a failing import strategy",
					"strategy", strategy.Serialize(local), "error", err)
				continue
			}
			return applied, err
		}
		applied++
	}
	return applied, scanner.Err()
}

// importMerge loads the file into a scratch engine and merges the
// resulting tree into the live one.
func importMerge(e *source.Engine, r io.Reader, opts ImportOptions) (int, error) {
	scratchEmitter := events.NewEmitter()
	scratchEmitter.Mute()
	scratch := source.NewEngine(source.Config{
		Identity: e.Identity(),
		Lenient:  opts.IgnoreErrors,
		Logger:   opts.Logger,
	}, scratchEmitter, e.Registry())

	first := true
	scanner := newScanner(r)
	for scanner.Scan() {
		s, err := decodeLine(scanner.Text(), opts.Codec, e.Registry())
		if err != nil {
			if strategy.IsSkippable(err) {
				continue
			}
			if opts.IgnoreErrors {
				opts.Logger.Warn("skipped a bad import line", "error", err)
				continue
			}
			return 0, err
		}
		if first {
			scratch.Restore(scratch.Tenant(), s.Seq()-1)
			first = false
		}
		if err := scratch.ApplyIncoming(s); err != nil {
			if opts.IgnoreErrors {
				opts.Logger.Warn("skipped a failing import strategy",
					"strategy", strategy.Serialize(s), "error", err)
				continue
			}
			return 0, err
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return merge.Apply(e, scratch.Tenant())
}

func writeAll(w io.Writer, strategies []strategy.Strategy, cdc codec.Codec) (int, error) {
	n := 0
	for _, s := range strategies {
		line := strategy.Serialize(s)
		if cdc.Enabled() {
			enc, err := cdc.Encode(line)
			if err != nil {
				return n, err
			}
			line = "+" + enc
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func decodeLine(line string, cdc codec.Codec, reg *strategy.Registry) (strategy.Strategy, error) {
	if len(line) > 0 && line[0] == '+' {
		plain, err := cdc.Decode(line[1:])
		if err != nil {
			return nil, err
		}
		line = plain
	}
	return strategy.Parse(line, reg)
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return scanner
}
