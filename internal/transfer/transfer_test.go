package transfer

import (
	"bytes"
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

func newTestEngine(t *testing.T, identity string) *source.Engine {
	t.Helper()
	e := source.NewEngine(source.Config{Identity: identity},
		events.NewEmitter(), strategy.NewRegistry())
	boot, err := e.InitStrategy(t0, "Someone")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ApplyIncoming(boot); err != nil {
		t.Fatal(err)
	}
	return e
}

func exec(t *testing.T, e *source.Engine, when time.Time, name string, params ...string) {
	t.Helper()
	if err := e.ExecuteAt(name, params, when, true, nil); err != nil {
		t.Fatalf("%s: %v", name, err)
	}
}

// TestCompressedExportRoundTrip verifies a compressed export replays
// into an equivalent tree.
func TestCompressedExportRoundTrip(t *testing.T) {
	e := newTestEngine(t, alice)
	exec(t, e, t0, strategy.NameCreateBacklog, "b1", "Plan")
	exec(t, e, t0, strategy.NameCreateWorkitem, "w1", "b1", "Task")
	exec(t, e, t0, strategy.NameAddPomodoro, "w1", "2")
	exec(t, e, t0.Add(time.Minute), strategy.NameCompleteWorkitem, "w1", "finished")

	var buf bytes.Buffer
	n, err := Export(e, nil, &buf, ExportOptions{Compress: true})
	if err != nil {
		t.Fatal(err)
	}
	// CreateUser, CreateBacklog, CreateWorkitem, 2x AddPomodoro, CompleteWorkitem.
	if n != 6 {
		t.Errorf("exported %d lines, want 6", n)
	}

	restored := newTestEngine(t, alice)
	if _, err := Import(restored, &buf, ImportOptions{}); err != nil {
		t.Fatal(err)
	}
	w := restored.FindWorkitem("w1")
	if w == nil {
		t.Fatal("w1 lost in the round trip")
	}
	if !w.IsSealed() || w.PomodoroCount() != 2 {
		t.Errorf("w1 state %q with %d pomodoros", w.State(), w.PomodoroCount())
	}
}

// TestFullExportEncrypts verifies a full export can transcode a plain
// history into an encrypted file that imports back with the same key.
func TestFullExportEncrypts(t *testing.T) {
	e := newTestEngine(t, alice)
	history := strings.Join([]string{
		`CreateUser("alice@example.com", "Alice") @ 2024-01-15T09:00:00Z by admin@local.host # 1`,
		`CreateBacklog("b1", "Top secret plan") @ 2024-01-15T09:00:00Z by alice@example.com # 2`,
	}, "\n")

	aes, err := codec.NewAES("passphrase")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	n, err := Export(e, strings.NewReader(history), &buf,
		ExportOptions{Codec: aes, InputCodec: codec.Plain{}})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("exported %d lines, want 2", n)
	}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.HasPrefix(line, "+") {
			t.Errorf("unencrypted export line: %q", line)
		}
	}
	if strings.Contains(buf.String(), "secret") {
		t.Error("plaintext leaked into the export")
	}

	restored := newTestEngine(t, alice)
	if _, err := Import(restored, &buf, ImportOptions{Codec: aes}); err != nil {
		t.Fatal(err)
	}
	if b := restored.FindBacklog("b1"); b == nil || b.Name() != "Top secret plan" {
		t.Error("encrypted export did not import")
	}
}

// TestClassicImportRewritesIdentity verifies an import from another
// user's file lands under the local user, dropping CreateUser lines.
func TestClassicImportRewritesIdentity(t *testing.T) {
	file := strings.Join([]string{
		`CreateUser("bob@example.com", "Bob") @ 2024-01-15T09:00:00Z by admin@local.host # 1`,
		`CreateBacklog("b1", "From Bob") @ 2024-01-15T09:00:00Z by bob@example.com # 2`,
		`CreateWorkitem("w1", "b1", "Bob's task") @ 2024-01-15T09:00:00Z by bob@example.com # 3`,
	}, "\n")

	e := newTestEngine(t, alice)
	applied, err := Import(e, strings.NewReader(file), ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}
	if e.Tenant().User("bob@example.com") != nil {
		t.Error("import created the foreign user")
	}
	b := e.FindBacklog("b1")
	if b == nil {
		t.Fatal("backlog not imported")
	}
	if got := b.Owner().Identity(); got != alice {
		t.Errorf("backlog owned by %q, want the local user", got)
	}
}

// TestMergeImportUnions verifies a merge import combines two diverged
// histories without deleting either side's entities.
func TestMergeImportUnions(t *testing.T) {
	e := newTestEngine(t, alice)
	exec(t, e, t0, strategy.NameCreateBacklog, "b1", "Shared")
	exec(t, e, t0, strategy.NameCreateWorkitem, "w1", "b1", "Mine")

	file := strings.Join([]string{
		`CreateUser("alice@example.com", "Alice") @ 2024-01-15T09:00:00Z by admin@local.host # 1`,
		`CreateBacklog("b1", "Shared") @ 2024-01-15T09:00:00Z by alice@example.com # 2`,
		`CreateWorkitem("w2", "b1", "Theirs") @ 2024-01-15T09:00:00Z by alice@example.com # 3`,
	}, "\n")

	if _, err := Import(e, strings.NewReader(file), ImportOptions{Merge: true}); err != nil {
		t.Fatal(err)
	}
	if e.FindWorkitem("w1") == nil {
		t.Error("merge import deleted a local workitem")
	}
	if e.FindWorkitem("w2") == nil {
		t.Error("merge import missed an incoming workitem")
	}
}

// TestImportIgnoreErrors verifies strict imports abort on garbage while
// lenient ones keep the valid remainder.
func TestImportIgnoreErrors(t *testing.T) {
	file := strings.Join([]string{
		`CreateBacklog("b1", "Plan") @ 2024-01-15T09:00:00Z by alice@example.com # 2`,
		`garbage`,
		`CreateWorkitem("w1", "b1", "Task") @ 2024-01-15T09:00:00Z by alice@example.com # 3`,
	}, "\n")

	strict := newTestEngine(t, alice)
	if _, err := Import(strict, strings.NewReader(file), ImportOptions{}); err == nil {
		t.Error("strict import accepted garbage")
	}

	lenient := newTestEngine(t, alice)
	applied, err := Import(lenient, strings.NewReader(file), ImportOptions{IgnoreErrors: true})
	if err != nil {
		t.Fatal(err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}
	if lenient.FindWorkitem("w1") == nil {
		t.Error("lenient import lost the valid tail")
	}
}
