package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// WorkitemState enumerates the workitem lifecycle.
type WorkitemState string

const (
	WorkitemNew      WorkitemState = "new"
	WorkitemRunning  WorkitemState = "running"
	WorkitemFinished WorkitemState = "finished"
	WorkitemCanceled WorkitemState = "canceled"
)

var tagPattern = regexp.MustCompile(`#(\w+)`)

// Workitem owns an ordered set of pomodoros. Once sealed (finished or
// canceled) it is immutable except for deletion.
type Workitem struct {
	item
	backlog     *Backlog
	state       WorkitemState
	workStarted time.Time
	workEnded   time.Time
	pomodoros   collection[*Pomodoro]
}

func newWorkitem(backlog *Backlog, uid, name string, when time.Time) *Workitem {
	return &Workitem{
		item:      item{uid: uid, name: name, created: when, modified: when, parent: backlog},
		backlog:   backlog,
		state:     WorkitemNew,
		pomodoros: newCollection[*Pomodoro](),
	}
}

// Backlog returns the owning backlog.
func (w *Workitem) Backlog() *Backlog { return w.backlog }

// State returns the current workitem state.
func (w *Workitem) State() WorkitemState { return w.state }

// WorkStarted returns when work on the item first started, or zero.
func (w *Workitem) WorkStarted() time.Time { return w.workStarted }

// IsRunning reports whether work on the item has started and it has not
// been sealed yet.
func (w *Workitem) IsRunning() bool { return w.state == WorkitemRunning }

// IsSealed reports whether the workitem is in a terminal state.
func (w *Workitem) IsSealed() bool {
	return w.state == WorkitemFinished || w.state == WorkitemCanceled
}

// IsStartable reports whether at least one pomodoro can still be started.
func (w *Workitem) IsStartable() bool {
	for _, p := range w.pomodoros.values() {
		if p.IsStartable() {
			return true
		}
	}
	return false
}

// Start transitions the workitem to running.
func (w *Workitem) Start(when time.Time) {
	w.state = WorkitemRunning
	w.workStarted = when
}

// Seal moves the workitem to a terminal state.
func (w *Workitem) Seal(target WorkitemState, when time.Time) error {
	if target != WorkitemFinished && target != WorkitemCanceled {
		return fmt.Errorf("invalid workitem target state %q", target)
	}
	w.state = target
	w.workEnded = when
	return nil
}

// Pomodoro returns the pomodoro with the given uid, or nil.
func (w *Workitem) Pomodoro(uid string) *Pomodoro {
	p, _ := w.pomodoros.get(uid)
	return p
}

// Pomodoros returns the workitem's pomodoros in insertion order.
func (w *Workitem) Pomodoros() []*Pomodoro { return w.pomodoros.values() }

// PomodoroCount returns the number of attached pomodoros.
func (w *Workitem) PomodoroCount() int { return w.pomodoros.len() }

// AddPomodoro attaches a new pomodoro in the "new" state.
func (w *Workitem) AddPomodoro(uid string, typ PomodoroType, workDuration, restDuration time.Duration, when time.Time) *Pomodoro {
	p := newPomodoro(w, uid, typ, workDuration, restDuration, when)
	w.pomodoros.add(uid, p)
	return p
}

// RemovePomodoro detaches the pomodoro with the given uid.
func (w *Workitem) RemovePomodoro(uid string) { w.pomodoros.remove(uid) }

// RunningPomodoro returns the pomodoro currently in work or rest, or nil.
func (w *Workitem) RunningPomodoro() *Pomodoro {
	for _, p := range w.pomodoros.values() {
		if p.IsRunning() {
			return p
		}
	}
	return nil
}

// NextStartable returns the first pomodoro in the "new" state, or nil.
func (w *Workitem) NextStartable() *Pomodoro {
	for _, p := range w.pomodoros.values() {
		if p.IsStartable() {
			return p
		}
	}
	return nil
}

// Tags extracts the #tags embedded in the workitem name, lowercased.
func (w *Workitem) Tags() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range tagPattern.FindAllStringSubmatch(w.name, -1) {
		tag := strings.ToLower(m[1])
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}
