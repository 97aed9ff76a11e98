package merge

import (
	"testing"
	"time"

	"github.com/flowkeeper-org/fk-engine/internal/events"
	"github.com/flowkeeper-org/fk-engine/internal/model"
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

func exec(t *testing.T, e *source.Engine, when time.Time, name string, params ...string) {
	t.Helper()
	if err := e.ExecuteAt(name, params, when, true, nil); err != nil {
		t.Fatalf("%s: %v", name, err)
	}
}

// TestMergeCreatesMissing verifies entities present only on the
// incoming side are created, locally unknown ones survive, and nothing
// is deleted.
func TestMergeCreatesMissing(t *testing.T) {
	local := newTestEngine(t)
	exec(t, local, t0, strategy.NameCreateBacklog, "b1", "Shared")
	exec(t, local, t0, strategy.NameCreateWorkitem, "w1", "b1", "Mine only")

	incoming := newTestEngine(t)
	exec(t, incoming, t0, strategy.NameCreateBacklog, "b1", "Shared")
	exec(t, incoming, t0, strategy.NameCreateBacklog, "b2", "Theirs")
	exec(t, incoming, t0, strategy.NameCreateWorkitem, "w2", "b2", "Theirs only")
	exec(t, incoming, t0, strategy.NameAddPomodoro, "w2", "2", "tracker")

	applied, err := Apply(local, incoming.Tenant())
	if err != nil {
		t.Fatal(err)
	}
	if applied != 4 {
		t.Errorf("applied = %d, want 4", applied)
	}
	if local.FindWorkitem("w1") == nil {
		t.Error("merge deleted a local-only workitem")
	}
	w2 := local.FindWorkitem("w2")
	if w2 == nil {
		t.Fatal("incoming workitem not created")
	}
	if w2.PomodoroCount() != 2 {
		t.Errorf("w2 pomodoros = %d, want 2", w2.PomodoroCount())
	}
	if got := w2.Pomodoros()[0].Type(); got != model.PomodoroTracker {
		t.Errorf("pomodoro type = %q, want tracker", got)
	}
}

// TestMergeRenameLaterWins verifies renames follow the strictly later
// last-modified date and ties keep the local name.
func TestMergeRenameLaterWins(t *testing.T) {
	build := func(renamedAt time.Time, name string) *source.Engine {
		e := newTestEngine(t)
		exec(t, e, t0, strategy.NameCreateBacklog, "b1", "Plan")
		exec(t, e, t0, strategy.NameCreateWorkitem, "w1", "b1", "Original")
		exec(t, e, renamedAt, strategy.NameRenameWorkitem, "w1", name)
		return e
	}

	local := build(t0.Add(10*time.Second), "Local name")
	newer := build(t0.Add(20*time.Second), "Incoming name")
	if _, err := Apply(local, newer.Tenant()); err != nil {
		t.Fatal(err)
	}
	if got := local.FindWorkitem("w1").Name(); got != "Incoming name" {
		t.Errorf("newer incoming rename lost: %q", got)
	}

	local = build(t0.Add(10*time.Second), "Local name")
	older := build(t0.Add(5*time.Second), "Stale name")
	if _, err := Apply(local, older.Tenant()); err != nil {
		t.Fatal(err)
	}
	if got := local.FindWorkitem("w1").Name(); got != "Local name" {
		t.Errorf("older incoming rename won: %q", got)
	}
}

// TestMergePomodoroCountSettlesOnMax verifies the deficit is appended
// and a local surplus is never trimmed.
func TestMergePomodoroCountSettlesOnMax(t *testing.T) {
	build := func(count string) *source.Engine {
		e := newTestEngine(t)
		exec(t, e, t0, strategy.NameCreateBacklog, "b1", "Plan")
		exec(t, e, t0, strategy.NameCreateWorkitem, "w1", "b1", "Task")
		exec(t, e, t0, strategy.NameAddPomodoro, "w1", count)
		return e
	}

	local := build("1")
	incoming := build("3")
	if _, err := Apply(local, incoming.Tenant()); err != nil {
		t.Fatal(err)
	}
	if got := local.FindWorkitem("w1").PomodoroCount(); got != 3 {
		t.Errorf("pomodoros = %d, want 3", got)
	}

	local = build("3")
	incoming = build("1")
	if _, err := Apply(local, incoming.Tenant()); err != nil {
		t.Fatal(err)
	}
	if got := local.FindWorkitem("w1").PomodoroCount(); got != 3 {
		t.Errorf("pomodoros = %d, want 3 (surplus trimmed)", got)
	}
}

// TestMergeCompletesSealed verifies a workitem sealed on the incoming
// side gets sealed locally, voiding a still-running pomodoro first.
func TestMergeCompletesSealed(t *testing.T) {
	local := newTestEngine(t)
	exec(t, local, t0, strategy.NameCreateBacklog, "b1", "Plan")
	exec(t, local, t0, strategy.NameCreateWorkitem, "w1", "b1", "Task")
	exec(t, local, t0, strategy.NameAddPomodoro, "w1", "1")
	exec(t, local, t0, strategy.NameStartWork, "w1", "1500", "300")

	incoming := newTestEngine(t)
	exec(t, incoming, t0, strategy.NameCreateBacklog, "b1", "Plan")
	exec(t, incoming, t0, strategy.NameCreateWorkitem, "w1", "b1", "Task")
	exec(t, incoming, t0, strategy.NameAddPomodoro, "w1", "1")
	exec(t, incoming, t0.Add(100*time.Second), strategy.NameCompleteWorkitem, "w1", "finished")

	if _, err := Apply(local, incoming.Tenant()); err != nil {
		t.Fatal(err)
	}
	w := local.FindWorkitem("w1")
	if w.State() != model.WorkitemFinished {
		t.Errorf("state = %q, want finished", w.State())
	}
	if p := w.Pomodoros()[0]; p.State() != model.PomodoroCanceled {
		t.Errorf("running pomodoro ended as %q, want canceled", p.State())
	}
}

// TestMergeSequencesContinue verifies synthesized strategies advance
// last_seq by exactly the applied count.
func TestMergeSequencesContinue(t *testing.T) {
	local := newTestEngine(t)
	before := local.LastSeq()

	incoming := newTestEngine(t)
	exec(t, incoming, t0, strategy.NameCreateBacklog, "b1", "Plan")
	exec(t, incoming, t0, strategy.NameCreateWorkitem, "w1", "b1", "Task")

	applied, err := Apply(local, incoming.Tenant())
	if err != nil {
		t.Fatal(err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}
	if local.LastSeq() != before+int64(applied) {
		t.Errorf("last_seq = %d, want %d", local.LastSeq(), before+int64(applied))
	}
}

// TestMergeIdempotent verifies merging the same tree twice applies
// nothing the second time.
func TestMergeIdempotent(t *testing.T) {
	local := newTestEngine(t)
	incoming := newTestEngine(t)
	exec(t, incoming, t0, strategy.NameCreateBacklog, "b1", "Plan")
	exec(t, incoming, t0, strategy.NameCreateWorkitem, "w1", "b1", "Task")
	exec(t, incoming, t0, strategy.NameAddPomodoro, "w1", "2")
	exec(t, incoming, t0.Add(time.Minute), strategy.NameCompleteWorkitem, "w1", "finished")

	if _, err := Apply(local, incoming.Tenant()); err != nil {
		t.Fatal(err)
	}
	applied, err := Apply(local, incoming.Tenant())
	if err != nil {
		t.Fatal(err)
	}
	if applied != 0 {
		t.Errorf("second merge applied %d strategies, want 0", applied)
	}
}
