package strategy

import (
	"strconv"
	"time"

	"github.com/flowkeeper-org/fk-engine/internal/events"
	"github.com/flowkeeper-org/fk-engine/internal/model"
)

const (
	NameAddPomodoro    = "AddPomodoro"
	NameRemovePomodoro = "RemovePomodoro"
	NameStartWork      = "StartWork"
	NameVoidPomodoro   = "VoidPomodoro"

	// Internal names appear in error messages and debug logs only;
	// these strategies are never serialized.
	nameStartRestInternal      = "StartRestInternal"
	nameFinishPomodoroInternal = "FinishPomodoroInternal"
)

// Defaults applied when a pomodoro is added; StartWork may override
// them. Kept as constants so replay does not depend on local settings.
const (
	DefaultWorkDuration = 25 * time.Minute
	DefaultRestDuration = 5 * time.Minute
)

// AddPomodoro appends planned pomodoros to a workitem.
// AddPomodoro("w1", "3") or AddPomodoro("w1", "1", "tracker")
type AddPomodoro struct {
	base
	workitemUID string
	count       int
	typ         model.PomodoroType
}

func newAddPomodoro(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameAddPomodoro, params, 2, 3); err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(params[1])
	if err != nil {
		return nil, invalidf("bad pomodoro count %q", params[1])
	}
	typ := model.PomodoroNormal
	if len(params) == 3 {
		typ = model.PomodoroType(params[2])
		switch typ {
		case model.PomodoroNormal, model.PomodoroTracker, model.PomodoroCounter:
		default:
			return nil, invalidf("bad pomodoro type %q", params[2])
		}
	}
	return &AddPomodoro{
		base:        base{seq: seq, when: when, user: user, params: params},
		workitemUID: params[0],
		count:       count,
		typ:         typ,
	}, nil
}

func (s *AddPomodoro) Name() string { return NameAddPomodoro }

func (s *AddPomodoro) Execute(ctx *Context) (*Conflict, error) {
	if s.count < 1 {
		return nil, invalidf("cannot add %d pomodoros", s.count)
	}
	w, err := s.findWorkitem(ctx, s.workitemUID)
	if err != nil {
		return nil, err
	}
	if w.IsSealed() {
		return nil, invalidf("workitem %q is sealed", s.workitemUID)
	}
	payload := events.Payload{
		"workitem":      w,
		"num_pomodoros": s.count,
		"carry":         s.carry,
	}
	ctx.Emitter.Emit(events.BeforePomodoroAdd, payload)
	for i := 0; i < s.count; i++ {
		w.AddPomodoro(model.NewUID(), s.typ, DefaultWorkDuration, DefaultRestDuration, s.when)
	}
	w.Touch(s.when)
	ctx.Emitter.Emit(events.AfterPomodoroAdd, payload)
	return nil, nil
}

// RemovePomodoro removes planned pomodoros from a workitem, newest
// first. Only pomodoros that were never started can be removed.
// RemovePomodoro("w1", "1")
type RemovePomodoro struct {
	base
	workitemUID string
	count       int
}

func newRemovePomodoro(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameRemovePomodoro, params, 2, 2); err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(params[1])
	if err != nil {
		return nil, invalidf("bad pomodoro count %q", params[1])
	}
	return &RemovePomodoro{
		base:        base{seq: seq, when: when, user: user, params: params},
		workitemUID: params[0],
		count:       count,
	}, nil
}

func (s *RemovePomodoro) Name() string { return NameRemovePomodoro }

func (s *RemovePomodoro) Execute(ctx *Context) (*Conflict, error) {
	if s.count < 1 {
		return nil, invalidf("cannot remove %d pomodoros", s.count)
	}
	w, err := s.findWorkitem(ctx, s.workitemUID)
	if err != nil {
		return nil, err
	}
	if w.IsSealed() {
		return nil, invalidf("workitem %q is sealed", s.workitemUID)
	}
	all := w.Pomodoros()
	var toRemove []*model.Pomodoro
	for i := len(all) - 1; i >= 0 && len(toRemove) < s.count; i-- {
		if all[i].IsStartable() {
			toRemove = append(toRemove, all[i])
		}
	}
	if len(toRemove) < s.count {
		return nil, invalidf("only %d pomodoros are removable, cannot remove %d", len(toRemove), s.count)
	}
	payload := events.Payload{
		"workitem":      w,
		"num_pomodoros": s.count,
		"pomodoros":     toRemove,
		"carry":         s.carry,
	}
	ctx.Emitter.Emit(events.BeforePomodoroRemove, payload)
	for _, p := range toRemove {
		w.RemovePomodoro(p.UID())
	}
	w.Touch(s.when)
	ctx.Emitter.Emit(events.AfterPomodoroRemove, payload)
	return nil, nil
}

// StartWork starts the next planned pomodoro on a workitem. If any
// pomodoro is still running for the same user, it returns a Conflict so
// the engine can auto-seal expired ones and retry.
// StartWork("w1", "1500", "300")
type StartWork struct {
	base
	workitemUID  string
	workDuration time.Duration
	restDuration time.Duration
}

func newStartWork(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameStartWork, params, 2, 3); err != nil {
		return nil, err
	}
	work, err := parseSeconds(params[1])
	if err != nil {
		return nil, err
	}
	var rest time.Duration
	if len(params) == 3 {
		if rest, err = parseSeconds(params[2]); err != nil {
			return nil, err
		}
	}
	return &StartWork{
		base:         base{seq: seq, when: when, user: user, params: params},
		workitemUID:  params[0],
		workDuration: work,
		restDuration: rest,
	}, nil
}

func (s *StartWork) Name() string { return NameStartWork }

// RequiresSealing makes the engine sweep the acting user's expired
// pomodoros before this strategy executes, so a Conflict is only ever
// returned for a genuinely still-running one.
func (s *StartWork) RequiresSealing() bool { return true }

func (s *StartWork) Execute(ctx *Context) (*Conflict, error) {
	u, err := s.actingUser(ctx)
	if err != nil {
		return nil, err
	}
	w := u.Workitem(s.workitemUID)
	if w == nil {
		return nil, invalidf("workitem %q not found", s.workitemUID)
	}
	if w.IsSealed() {
		return nil, invalidf("cannot start a pomodoro on sealed workitem %q", s.workitemUID)
	}
	if running := u.RunningWorkitem(); running != nil {
		return &Conflict{Workitem: running}, nil
	}
	p := w.NextStartable()
	if p == nil {
		return nil, invalidf("no startable pomodoro in %q", s.workitemUID)
	}

	work := s.workDuration
	if work == 0 {
		work = p.WorkDuration()
	}
	rest := s.restDuration
	if rest == 0 {
		rest = p.RestDuration()
	}
	payload := events.Payload{
		"workitem":      w,
		"pomodoro":      p,
		"work_duration": work,
		"rest_duration": rest,
		"carry":         s.carry,
	}
	if !w.IsRunning() {
		ctx.Emitter.Emit(events.BeforeWorkitemStart, payload)
		w.Start(s.when)
		ctx.Emitter.Emit(events.AfterWorkitemStart, payload)
	}
	ctx.Emitter.Emit(events.BeforePomodoroWorkStart, payload)
	if err := p.SetDurations(work, rest); err != nil {
		return nil, invalidf("%v", err)
	}
	if err := p.StartWork(s.when); err != nil {
		return nil, invalidf("%v", err)
	}
	p.Touch(s.when)
	ctx.Emitter.Emit(events.AfterPomodoroWorkStart, payload)
	return nil, nil
}

// completePomodoro seals the running pomodoro of a workitem.
func completePomodoro(ctx *Context, s *base, workitemUID string, void bool) error {
	w, err := s.findWorkitem(ctx, workitemUID)
	if err != nil {
		return err
	}
	p := w.RunningPomodoro()
	if p == nil {
		return invalidf("no running pomodoro in %q", workitemUID)
	}
	before, after := events.BeforePomodoroComplete, events.AfterPomodoroComplete
	if void {
		before, after = events.BeforePomodoroVoided, events.AfterPomodoroVoided
	}
	payload := events.Payload{"workitem": w, "pomodoro": p, "carry": s.carry}
	ctx.Emitter.Emit(before, payload)
	if void {
		err = p.Void(s.when)
	} else {
		err = p.Finish(s.when)
	}
	if err != nil {
		return invalidf("%v", err)
	}
	p.Touch(s.when)
	ctx.Emitter.Emit(after, payload)
	return nil
}

// VoidPomodoro cancels the running pomodoro on a workitem.
// VoidPomodoro("w1")
type VoidPomodoro struct {
	base
	workitemUID string
}

func newVoidPomodoro(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameVoidPomodoro, params, 1, 1); err != nil {
		return nil, err
	}
	return &VoidPomodoro{
		base:        base{seq: seq, when: when, user: user, params: params},
		workitemUID: params[0],
	}, nil
}

func (s *VoidPomodoro) Name() string { return NameVoidPomodoro }

func (s *VoidPomodoro) Execute(ctx *Context) (*Conflict, error) {
	return nil, completePomodoro(ctx, &s.base, s.workitemUID, true)
}

// StartRestInternal transitions a working pomodoro into rest. The
// engine synthesizes it during auto-seal when the work interval expired
// offline; it is never serialized or persisted.
type StartRestInternal struct {
	base
	workitemUID  string
	restDuration time.Duration
}

// NewStartRestInternal builds the internal rest transition as of the
// planned end of work.
func NewStartRestInternal(when time.Time, user, workitemUID string, rest time.Duration) Strategy {
	return &StartRestInternal{
		base:         base{when: when, user: user, params: []string{workitemUID, formatSeconds(rest)}},
		workitemUID:  workitemUID,
		restDuration: rest,
	}
}

func (s *StartRestInternal) Name() string     { return nameStartRestInternal }
func (s *StartRestInternal) Persistent() bool { return false }

func (s *StartRestInternal) Execute(ctx *Context) (*Conflict, error) {
	w, err := s.findWorkitem(ctx, s.workitemUID)
	if err != nil {
		return nil, err
	}
	if !w.IsRunning() {
		return nil, invalidf("cannot start rest on workitem %q which is not running", s.workitemUID)
	}
	p := w.RunningPomodoro()
	if p == nil || p.State() != model.PomodoroWork {
		return nil, invalidf("no in-work pomodoro in %q", s.workitemUID)
	}
	payload := events.Payload{
		"workitem":      w,
		"pomodoro":      p,
		"rest_duration": s.restDuration,
		"carry":         s.carry,
	}
	ctx.Emitter.Emit(events.BeforePomodoroRestStart, payload)
	if s.restDuration > 0 {
		if err := p.SetDurations(p.WorkDuration(), s.restDuration); err != nil {
			return nil, invalidf("%v", err)
		}
	}
	if err := p.StartRest(s.when); err != nil {
		return nil, invalidf("%v", err)
	}
	p.Touch(s.when)
	ctx.Emitter.Emit(events.AfterPomodoroRestStart, payload)
	return nil, nil
}

// FinishPomodoroInternal seals a running pomodoro as finished. The
// engine synthesizes it during auto-seal as of the planned end of rest;
// it is never serialized or persisted.
type FinishPomodoroInternal struct {
	base
	workitemUID string
}

// NewFinishPomodoroInternal builds the internal finish transition.
func NewFinishPomodoroInternal(when time.Time, user, workitemUID string) Strategy {
	return &FinishPomodoroInternal{
		base:        base{when: when, user: user, params: []string{workitemUID}},
		workitemUID: workitemUID,
	}
}

func (s *FinishPomodoroInternal) Name() string     { return nameFinishPomodoroInternal }
func (s *FinishPomodoroInternal) Persistent() bool { return false }

func (s *FinishPomodoroInternal) Execute(ctx *Context) (*Conflict, error) {
	return nil, completePomodoro(ctx, &s.base, s.workitemUID, false)
}
