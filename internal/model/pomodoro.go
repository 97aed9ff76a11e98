package model

import (
	"fmt"
	"time"
)

// PomodoroState enumerates the pomodoro lifecycle.
type PomodoroState string

const (
	PomodoroNew      PomodoroState = "new"
	PomodoroWork     PomodoroState = "work"
	PomodoroRest     PomodoroState = "rest"
	PomodoroFinished PomodoroState = "finished"
	PomodoroCanceled PomodoroState = "canceled"
)

// PomodoroType distinguishes timed pomodoros from open-ended trackers and
// bare counters.
type PomodoroType string

const (
	PomodoroNormal  PomodoroType = "normal"
	PomodoroTracker PomodoroType = "tracker"
	PomodoroCounter PomodoroType = "counter"
)

// Pomodoro is a single work/rest interval. Work and rest durations are
// fixed when work starts; the planned end of rest is derived from them
// and used by auto-seal to finalize intervals that expired offline.
type Pomodoro struct {
	item
	workitem     *Workitem
	state        PomodoroState
	typ          PomodoroType
	workDuration time.Duration
	restDuration time.Duration
	workStarted  time.Time
	restStarted  time.Time
	completed    time.Time
}

func newPomodoro(w *Workitem, uid string, typ PomodoroType, workDuration, restDuration time.Duration, when time.Time) *Pomodoro {
	return &Pomodoro{
		item:         item{uid: uid, name: "Pomodoro", created: when, modified: when, parent: w},
		workitem:     w,
		state:        PomodoroNew,
		typ:          typ,
		workDuration: workDuration,
		restDuration: restDuration,
	}
}

// Workitem returns the owning workitem.
func (p *Pomodoro) Workitem() *Workitem { return p.workitem }

// State returns the current pomodoro state.
func (p *Pomodoro) State() PomodoroState { return p.state }

// Type returns the pomodoro type.
func (p *Pomodoro) Type() PomodoroType { return p.typ }

// WorkDuration returns the planned work duration.
func (p *Pomodoro) WorkDuration() time.Duration { return p.workDuration }

// RestDuration returns the planned rest duration.
func (p *Pomodoro) RestDuration() time.Duration { return p.restDuration }

// WorkStarted returns when work started, or zero.
func (p *Pomodoro) WorkStarted() time.Time { return p.workStarted }

// IsRunning reports whether the pomodoro is in work or rest.
func (p *Pomodoro) IsRunning() bool {
	return p.state == PomodoroWork || p.state == PomodoroRest
}

// IsStartable reports whether the pomodoro has not been started yet.
func (p *Pomodoro) IsStartable() bool { return p.state == PomodoroNew }

// IsFinished reports whether the pomodoro completed normally.
func (p *Pomodoro) IsFinished() bool { return p.state == PomodoroFinished }

// IsSealed reports whether the pomodoro is in a terminal state.
func (p *Pomodoro) IsSealed() bool {
	return p.state == PomodoroFinished || p.state == PomodoroCanceled
}

// SetDurations overrides the planned durations. Only allowed before or
// during work; the rest duration may still change while working.
func (p *Pomodoro) SetDurations(work, rest time.Duration) error {
	switch p.state {
	case PomodoroNew:
		p.workDuration = work
		p.restDuration = rest
	case PomodoroWork:
		p.restDuration = rest
	default:
		return fmt.Errorf("cannot change durations of a pomodoro in state %q", p.state)
	}
	return nil
}

// StartWork transitions new → work. Counters never run.
func (p *Pomodoro) StartWork(when time.Time) error {
	if p.typ == PomodoroCounter {
		return fmt.Errorf("counter pomodoros cannot be started")
	}
	if p.state != PomodoroNew {
		return fmt.Errorf("cannot start work on a pomodoro in state %q", p.state)
	}
	p.state = PomodoroWork
	p.workStarted = when
	return nil
}

// StartRest transitions work → rest. Only normal pomodoros have rest.
func (p *Pomodoro) StartRest(when time.Time) error {
	if p.typ != PomodoroNormal {
		return fmt.Errorf("%s pomodoros have no rest", p.typ)
	}
	if p.state != PomodoroWork {
		return fmt.Errorf("cannot start rest on a pomodoro in state %q", p.state)
	}
	p.state = PomodoroRest
	p.restStarted = when
	return nil
}

// Finish seals the pomodoro as finished. Normal pomodoros finish from
// rest, or straight from work when the whole planned interval has already
// passed (the client was offline across the rest transition). Trackers
// finish from work.
func (p *Pomodoro) Finish(when time.Time) error {
	switch p.typ {
	case PomodoroNormal:
		switch p.state {
		case PomodoroRest:
		case PomodoroWork:
			// A small margin covers clients that were down across both
			// the work and rest transitions.
			if !when.After(p.PlannedEndOfRest().Add(-5 * time.Second)) {
				return fmt.Errorf("cannot finish a pomodoro still in work")
			}
		default:
			return fmt.Errorf("cannot finish a pomodoro in state %q", p.state)
		}
	case PomodoroTracker:
		if p.state != PomodoroWork {
			return fmt.Errorf("cannot finish a tracker pomodoro in state %q", p.state)
		}
	case PomodoroCounter:
		return fmt.Errorf("counter pomodoros cannot be finished")
	}
	p.state = PomodoroFinished
	p.completed = when
	return nil
}

// Void cancels a running pomodoro.
func (p *Pomodoro) Void(when time.Time) error {
	if !p.IsRunning() {
		return fmt.Errorf("cannot void a pomodoro in state %q", p.state)
	}
	p.state = PomodoroCanceled
	p.completed = when
	return nil
}

// PlannedEndOfWork returns when work is scheduled to end, or zero if
// work has not started.
func (p *Pomodoro) PlannedEndOfWork() time.Time {
	if p.workStarted.IsZero() {
		return time.Time{}
	}
	return p.workStarted.Add(p.workDuration)
}

// PlannedEndOfRest returns when the whole interval is scheduled to end,
// or zero if work has not started.
func (p *Pomodoro) PlannedEndOfRest() time.Time {
	if p.workStarted.IsZero() {
		return time.Time{}
	}
	return p.workStarted.Add(p.workDuration + p.restDuration)
}

// RemainingTotal returns the time left until the planned end of the
// whole interval. Negative means the pomodoro expired before `when`.
func (p *Pomodoro) RemainingTotal(when time.Time) time.Duration {
	switch p.state {
	case PomodoroWork:
		return p.PlannedEndOfRest().Sub(when)
	case PomodoroRest:
		return p.PlannedEndOfRest().Sub(when)
	default:
		return 0
	}
}

// nextStateChange returns the planned time of the next transition for a
// running pomodoro.
func (p *Pomodoro) nextStateChange() time.Time {
	switch p.state {
	case PomodoroWork:
		if p.typ == PomodoroNormal {
			return p.PlannedEndOfWork()
		}
		return time.Time{} // trackers run until stopped
	case PomodoroRest:
		return p.PlannedEndOfRest()
	default:
		return time.Time{}
	}
}
