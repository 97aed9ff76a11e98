package filelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flowkeeper-org/fk-engine/internal/codec"
	"github.com/flowkeeper-org/fk-engine/internal/events"
	"github.com/flowkeeper-org/fk-engine/internal/source"
	"github.com/flowkeeper-org/fk-engine/internal/strategy"
)

const alice = "alice@example.com"

var t0 = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func newTestSource(t *testing.T, path string, opts Options) *FileSource {
	t.Helper()
	opts.Path = path
	if opts.FullName == "" {
		opts.FullName = "Alice"
	}
	e := source.NewEngine(source.Config{Identity: alice},
		events.NewEmitter(), strategy.NewRegistry())
	fs := New(e, opts)
	t.Cleanup(func() { fs.Close() })
	return fs
}

func exec(t *testing.T, fs *FileSource, when time.Time, name string, params ...string) {
	t.Helper()
	if err := fs.Engine().ExecuteAt(name, params, when, true, nil); err != nil {
		t.Fatalf("%s: %v", name, err)
	}
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func backups(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*-backup-*"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

// TestBootstrapCreatesFile verifies starting against a missing file
// creates it seeded with a CreateUser line for the local identity.
func TestBootstrapCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowkeeper.txt")
	fs := newTestSource(t, path, Options{})
	if err := fs.Start(false); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := strings.TrimSpace(string(data))
	if !strings.HasPrefix(line, `CreateUser("alice@example.com", "Alice")`) {
		t.Errorf("bootstrap line = %q", line)
	}
	if fs.Engine().LastSeq() != 1 {
		t.Errorf("last_seq = %d, want 1", fs.Engine().LastSeq())
	}
	if u := fs.Engine().Tenant().User(alice); u == nil {
		t.Error("bootstrap user missing from the tree")
	}
}

// TestReplayRoundTrip verifies commands appended by one source are
// replayed by a fresh one into the same tree.
func TestReplayRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowkeeper.txt")
	producer := newTestSource(t, path, Options{})
	if err := producer.Start(false); err != nil {
		t.Fatal(err)
	}
	exec(t, producer, t0, strategy.NameCreateBacklog, "b1", "Plan")
	exec(t, producer, t0, strategy.NameCreateWorkitem, "w1", "b1", "Write report #urgent")
	exec(t, producer, t0, strategy.NameAddPomodoro, "w1", "2")

	consumer := newTestSource(t, path, Options{})
	if err := consumer.Start(false); err != nil {
		t.Fatal(err)
	}
	e := consumer.Engine()
	if e.LastSeq() != 4 {
		t.Errorf("last_seq = %d, want 4", e.LastSeq())
	}
	w := e.FindWorkitem("w1")
	if w == nil {
		t.Fatal("w1 not replayed")
	}
	if w.Name() != "Write report #urgent" {
		t.Errorf("name = %q", w.Name())
	}
	if w.PomodoroCount() != 2 {
		t.Errorf("pomodoros = %d, want 2", w.PomodoroCount())
	}
}

// TestReplayResumesAfterRestart verifies a second Start on the same
// source does not double-apply already-seen strategies.
func TestReplayResumesAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowkeeper.txt")
	fs := newTestSource(t, path, Options{})
	if err := fs.Start(false); err != nil {
		t.Fatal(err)
	}
	exec(t, fs, t0, strategy.NameCreateBacklog, "b1", "Plan")

	if err := fs.Start(false); err != nil {
		t.Fatal(err)
	}
	if n := len(fs.Engine().Backlogs()); n != 1 {
		t.Errorf("backlogs after restart = %d, want 1", n)
	}
}

// TestWatchReplaysExternalAppend verifies an append made behind the
// source's back is picked up through the filesystem watcher.
func TestWatchReplaysExternalAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowkeeper.txt")
	fs := newTestSource(t, path, Options{Watch: true})
	if err := fs.Start(false); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`CreateBacklog("b1", "Plan") @ 2024-01-15T09:00:00Z by alice@example.com # 2` + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	deadline := time.Now().Add(5 * time.Second)
	for fs.Engine().FindBacklog("b1") == nil {
		if time.Now().After(deadline) {
			t.Fatal("external append never replayed")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if fs.Engine().LastSeq() != 2 {
		t.Errorf("last_seq = %d, want 2", fs.Engine().LastSeq())
	}
}

// TestReplayAnchorsAtFirstSequence verifies a log that starts beyond
// sequence 1, e.g. a server-side slice, replays without SequenceError.
func TestReplayAnchorsAtFirstSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowkeeper.txt")
	writeLines(t, path,
		`CreateUser("alice@example.com", "Alice") @ 2024-01-15T09:00:00Z by admin@local.host # 17`,
		`CreateBacklog("b1", "Plan") @ 2024-01-15T09:00:00Z by alice@example.com # 18`,
	)
	fs := newTestSource(t, path, Options{})
	if err := fs.Start(false); err != nil {
		t.Fatal(err)
	}
	if fs.Engine().LastSeq() != 18 {
		t.Errorf("last_seq = %d, want 18", fs.Engine().LastSeq())
	}
}

// TestRepairSynthesizesOrphanWorkitem verifies a reference to a
// never-created workitem gets a repaired backlog and a creation line
// inserted before it, after which the log replays cleanly.
func TestRepairSynthesizesOrphanWorkitem(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowkeeper.txt")
	writeLines(t, path,
		`CreateUser("alice@example.com", "Alice") @ 2024-01-15T09:00:00Z by admin@local.host # 1`,
		`CompleteWorkitem("w9", "finished") @ 2024-01-15T09:05:00Z by alice@example.com # 2`,
	)
	fs := newTestSource(t, path, Options{})
	if _, err := fs.Repair(); err != nil {
		t.Fatal(err)
	}
	if len(backups(t, dir)) != 1 {
		t.Error("repair did not back up the original file")
	}

	restored := newTestSource(t, path, Options{})
	if err := restored.Start(false); err != nil {
		t.Fatalf("repaired log does not replay: %v", err)
	}
	e := restored.Engine()
	w := e.FindWorkitem("w9")
	if w == nil {
		t.Fatal("w9 not synthesized")
	}
	if !w.IsSealed() {
		t.Error("w9 is not sealed")
	}
	if got := w.Backlog().Name(); got != "[Repaired] Orphan workitems" {
		t.Errorf("w9 lives in %q", got)
	}
}

// TestRepairDropsDuplicatesAndGarbage verifies duplicate creations,
// unparseable lines and deletes of unknown entities are removed while
// everything valid survives.
func TestRepairDropsDuplicatesAndGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowkeeper.txt")
	writeLines(t, path,
		`CreateUser("alice@example.com", "Alice") @ 2024-01-15T09:00:00Z by admin@local.host # 1`,
		`CreateBacklog("b1", "Plan") @ 2024-01-15T09:00:00Z by alice@example.com # 2`,
		`CreateBacklog("b1", "Plan again") @ 2024-01-15T09:01:00Z by alice@example.com # 3`,
		`this is not a strategy`,
		`DeleteWorkitem("ghost") @ 2024-01-15T09:02:00Z by alice@example.com # 4`,
		`CreateWorkitem("w1", "b1", "Task") @ 2024-01-15T09:03:00Z by alice@example.com # 5`,
	)
	fs := newTestSource(t, path, Options{})
	if _, err := fs.Repair(); err != nil {
		t.Fatal(err)
	}

	restored := newTestSource(t, path, Options{})
	if err := restored.Start(false); err != nil {
		t.Fatal(err)
	}
	e := restored.Engine()
	if e.LastSeq() != 3 {
		t.Errorf("last_seq = %d, want 3", e.LastSeq())
	}
	if e.FindWorkitem("w1") == nil {
		t.Error("valid workitem dropped by repair")
	}
	if b := e.FindBacklog("b1"); b == nil || b.Name() != "Plan" {
		t.Error("first creation did not win")
	}
}

// TestRepairIsIdempotent verifies repairing an already-repaired log
// makes no changes and leaves the file alone.
func TestRepairIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowkeeper.txt")
	writeLines(t, path,
		`CreateUser("alice@example.com", "Alice") @ 2024-01-15T09:00:00Z by admin@local.host # 1`,
		`RenameWorkitem("w9", "Renamed") @ 2024-01-15T09:05:00Z by alice@example.com # 2`,
	)
	fs := newTestSource(t, path, Options{})
	if _, err := fs.Repair(); err != nil {
		t.Fatal(err)
	}
	repaired, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	again := newTestSource(t, path, Options{})
	if _, err := again.Repair(); err != nil {
		t.Fatal(err)
	}
	if len(backups(t, dir)) != 1 {
		t.Error("second repair rewrote a clean file")
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(repaired) {
		t.Error("second repair changed the file")
	}
}

// TestCompressShrinksLog verifies compaction rewrites the log as the
// minimal creation list and that the result replays into the same tree.
func TestCompressShrinksLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowkeeper.txt")
	fs := newTestSource(t, path, Options{})
	if err := fs.Start(false); err != nil {
		t.Fatal(err)
	}
	// Compaction orders by timestamp, so stay after the bootstrap line.
	now := time.Now().UTC()
	exec(t, fs, now, strategy.NameCreateBacklog, "b1", "Plan")
	exec(t, fs, now, strategy.NameCreateWorkitem, "w1", "b1", "Task")
	exec(t, fs, now, strategy.NameCreateWorkitem, "w2", "b1", "Gone")
	exec(t, fs, now, strategy.NameAddPomodoro, "w1", "1")
	exec(t, fs, now, strategy.NameDeleteWorkitem, "w2")
	exec(t, fs, now.Add(time.Minute), strategy.NameCompleteWorkitem, "w1", "finished")

	backup, err := fs.Compress()
	if err != nil {
		t.Fatal(err)
	}
	if backup == "" {
		t.Fatal("compressible log was not rewritten")
	}

	restored := newTestSource(t, path, Options{})
	if err := restored.Start(false); err != nil {
		t.Fatalf("compressed log does not replay: %v", err)
	}
	e := restored.Engine()
	if e.FindWorkitem("w2") != nil {
		t.Error("deleted workitem resurrected")
	}
	w := e.FindWorkitem("w1")
	if w == nil {
		t.Fatal("w1 missing after compression")
	}
	if !w.IsSealed() {
		t.Error("w1 lost its sealed state")
	}
	if w.PomodoroCount() != 1 {
		t.Errorf("pomodoros = %d, want 1", w.PomodoroCount())
	}

	// A second pass has nothing left to squeeze out.
	if backup, err := restored.Compress(); err != nil || backup != "" {
		t.Errorf("recompression = (%q, %v), want no-op", backup, err)
	}
}

// TestEncryptedLog verifies lines written through an AES codec carry
// the '+' prefix, leak no plaintext, and replay with the same key.
func TestEncryptedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowkeeper.txt")
	aes, err := codec.NewAES("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	fs := newTestSource(t, path, Options{Codec: aes})
	if err := fs.Start(false); err != nil {
		t.Fatal(err)
	}
	exec(t, fs, t0, strategy.NameCreateBacklog, "b1", "Top secret plan")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if !strings.HasPrefix(line, "+") {
			t.Errorf("unencrypted line on disk: %q", line)
		}
	}
	if strings.Contains(string(data), "secret") {
		t.Error("plaintext leaked to disk")
	}

	restored := newTestSource(t, path, Options{Codec: aes})
	if err := restored.Start(false); err != nil {
		t.Fatal(err)
	}
	if b := restored.Engine().FindBacklog("b1"); b == nil || b.Name() != "Top secret plan" {
		t.Error("encrypted log did not replay")
	}
}

// TestIgnoreErrorsSkipsBadLines verifies lenient replay walks over
// garbage instead of aborting.
func TestIgnoreErrorsSkipsBadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowkeeper.txt")
	writeLines(t, path,
		`CreateUser("alice@example.com", "Alice") @ 2024-01-15T09:00:00Z by admin@local.host # 1`,
		`garbage in the middle`,
		`CreateBacklog("b1", "Plan") @ 2024-01-15T09:00:00Z by alice@example.com # 2`,
	)

	strict := newTestSource(t, path, Options{})
	if err := strict.Start(false); err == nil {
		t.Error("strict replay accepted a garbage line")
	}

	lenient := newTestSource(t, path, Options{IgnoreErrors: true})
	if err := lenient.Start(false); err != nil {
		t.Fatal(err)
	}
	if lenient.Engine().FindBacklog("b1") == nil {
		t.Error("lenient replay lost the valid tail")
	}
}
