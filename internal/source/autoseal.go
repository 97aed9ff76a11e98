package source

import (
	"time"

	"github.com/flowkeeper-org/fk-engine/internal/model"
	"github.com/flowkeeper-org/fk-engine/internal/strategy"
)

// Auto-seal reconciles pomodoros whose timer expired while no client
// was around to record the transition. The synthesized strategies run
// as of the planned expiry timestamps, never the wall clock, so every
// replica derives the identical transitions on replay. They are not
// persisted: a replayed StartWork re-triggers the same sealing.

// AutoSeal seals every expired pomodoro in the tree as of the given
// time. Calling it again with no elapsed time is a no-op.
func (e *Engine) AutoSeal(when time.Time) error {
	for _, w := range e.Workitems() {
		if err := e.sealWorkitem(w, when); err != nil {
			return err
		}
	}
	return nil
}

// sealUser seals expired pomodoros belonging to one user.
func (e *Engine) sealUser(identity string, when time.Time) error {
	u := e.tenant.User(identity)
	if u == nil {
		return nil
	}
	for _, b := range u.Backlogs() {
		for _, w := range b.Workitems() {
			if err := e.sealWorkitem(w, when); err != nil {
				return err
			}
		}
	}
	return nil
}

// sealWorkitem finishes the workitem's running pomodoro if its whole
// interval has passed, or starts its overdue rest if only the work part
// has. The workitem's last-modified date is then bumped to the
// reconciliation time itself.
func (e *Engine) sealWorkitem(w *model.Workitem, when time.Time) error {
	p := w.RunningPomodoro()
	if p == nil {
		return nil
	}
	if p.Type() != model.PomodoroNormal {
		// Trackers run until stopped manually.
		return nil
	}
	owner := w.Backlog().Owner().Identity()
	switch {
	case !when.Before(p.PlannedEndOfRest()):
		finish := strategy.NewFinishPomodoroInternal(p.PlannedEndOfRest(), owner, w.UID())
		if err := e.ExecutePrepared(finish, false); err != nil {
			return err
		}
		e.log.Debug("auto-sealed an expired pomodoro",
			"workitem", w.UID(), "expired", p.PlannedEndOfRest())
	case p.State() == model.PomodoroWork && !when.Before(p.PlannedEndOfWork()):
		rest := strategy.NewStartRestInternal(p.PlannedEndOfWork(), owner, w.UID(), p.RestDuration())
		if err := e.ExecutePrepared(rest, false); err != nil {
			return err
		}
		e.log.Debug("auto-started an overdue rest",
			"workitem", w.UID(), "expired", p.PlannedEndOfWork())
	default:
		return nil
	}
	w.Touch(when)
	return nil
}
