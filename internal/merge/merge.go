// Package merge reconciles an incoming tree into a live engine without
// ever deleting anything: entities present only on the incoming side
// are created, renames follow the strictly later last-modified date,
// and pomodoro counts settle on max(local, incoming). Imports use it to
// combine two logs that diverged.
package merge

import (
	"sort"
	"time"

	"github.com/flowkeeper-org/fk-engine/internal/model"
	"github.com/flowkeeper-org/fk-engine/internal/source"
	"github.com/flowkeeper-org/fk-engine/internal/strategy"
)

// deferred is a strategy that must be time-ordered against the other
// deferred ones before it executes: a timer transition on one workitem
// can fall between transitions on another.
type deferred struct {
	name   string
	when   time.Time
	user   string
	params []string
}

// Apply executes the merge against the engine, persisting each
// synthesized strategy with a sequence continuing from last_seq.
// Returns the number of strategies applied.
func Apply(e *source.Engine, incoming *model.Tenant) (int, error) {
	applied := 0
	exec := func(name string, when time.Time, user string, params ...string) error {
		s, err := e.Registry().Create(name, e.LastSeq()+1, when, user, params)
		if err != nil {
			return err
		}
		if err := e.ExecutePrepared(s, true); err != nil {
			return err
		}
		applied++
		return nil
	}

	var tail []deferred
	for _, u := range incoming.Users() {
		if u.IsSystem() {
			continue
		}
		local := e.Tenant().User(u.Identity())
		if local == nil {
			if err := exec(strategy.NameCreateUser, u.CreateDate(), model.AdminIdentity,
				u.Identity(), u.Name()); err != nil {
				return applied, err
			}
		} else if u.Name() != local.Name() && u.LastModified().After(local.LastModified()) {
			if err := exec(strategy.NameRenameUser, u.LastModified(), model.AdminIdentity,
				u.Identity(), u.Name()); err != nil {
				return applied, err
			}
		}

		for _, b := range u.Backlogs() {
			localBacklog := e.FindBacklog(b.UID())
			if localBacklog == nil {
				if err := exec(strategy.NameCreateBacklog, b.CreateDate(), u.Identity(),
					b.UID(), b.Name()); err != nil {
					return applied, err
				}
			} else if b.Name() != localBacklog.Name() && b.LastModified().After(localBacklog.LastModified()) {
				if err := exec(strategy.NameRenameBacklog, b.LastModified(), u.Identity(),
					b.UID(), b.Name()); err != nil {
					return applied, err
				}
			}

			for _, w := range b.Workitems() {
				more, err := mergeWorkitem(e, exec, u.Identity(), b.UID(), w)
				if err != nil {
					return applied, err
				}
				tail = append(tail, more...)
			}
		}
	}

	sort.SliceStable(tail, func(i, j int) bool {
		return tail[i].when.Before(tail[j].when)
	})
	for _, d := range tail {
		if err := exec(d.name, d.when, d.user, d.params...); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// mergeWorkitem reconciles one incoming workitem. Immediate structural
// strategies execute through exec; state transitions come back as
// deferred ones.
func mergeWorkitem(e *source.Engine, exec func(string, time.Time, string, ...string) error,
	identity, backlogUID string, w *model.Workitem) ([]deferred, error) {

	local := e.FindWorkitem(w.UID())
	if local == nil {
		if err := exec(strategy.NameCreateWorkitem, w.CreateDate(), identity,
			w.UID(), backlogUID, w.Name()); err != nil {
			return nil, err
		}
		local = e.FindWorkitem(w.UID())
	} else if w.Name() != local.Name() && w.LastModified().After(local.LastModified()) && !local.IsSealed() {
		if err := exec(strategy.NameRenameWorkitem, w.LastModified(), identity,
			w.UID(), w.Name()); err != nil {
			return nil, err
		}
	}

	// Settle on max(local, incoming) pomodoros by appending the
	// incoming tail. A sealed local workitem stays untouched.
	if deficit := w.PomodoroCount() - local.PomodoroCount(); deficit > 0 && !local.IsSealed() {
		pomodoros := w.Pomodoros()
		for _, p := range pomodoros[len(pomodoros)-deficit:] {
			if err := exec(strategy.NameAddPomodoro, p.CreateDate(), identity,
				w.UID(), "1", string(p.Type())); err != nil {
				return nil, err
			}
		}
	}

	var tail []deferred
	if local.RunningPomodoro() != nil && w.RunningPomodoro() == nil {
		// The other side already stopped this one; void before any
		// further reconciliation touches it.
		tail = append(tail, deferred{
			name:   strategy.NameVoidPomodoro,
			when:   w.LastModified(),
			user:   identity,
			params: []string{w.UID()},
		})
	}
	if w.IsSealed() && !local.IsSealed() {
		tail = append(tail, deferred{
			name:   strategy.NameCompleteWorkitem,
			when:   w.LastModified(),
			user:   identity,
			params: []string{w.UID(), string(w.State())},
		})
	}
	return tail, nil
}
