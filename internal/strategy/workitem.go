package strategy

import (
	"strconv"
	"time"

	"github.com/flowkeeper-org/fk-engine/internal/events"
	"github.com/flowkeeper-org/fk-engine/internal/model"
)

const (
	NameCreateWorkitem   = "CreateWorkitem"
	NameRenameWorkitem   = "RenameWorkitem"
	NameDeleteWorkitem   = "DeleteWorkitem"
	NameReorderWorkitem  = "ReorderWorkitem"
	NameCompleteWorkitem = "CompleteWorkitem"
)

// indexWorkitemTags links a workitem into the user's tag index based on
// the #tags in its name.
func indexWorkitemTags(ctx *Context, u *model.User, w *model.Workitem, when time.Time) {
	for _, text := range w.Tags() {
		tag, created := u.EnsureTag(text, when)
		tag.Add(w)
		if created {
			ctx.Emitter.Emit(events.TagCreated, events.Payload{"tag": tag})
		} else {
			ctx.Emitter.Emit(events.TagContentChanged, events.Payload{"tag": tag})
		}
	}
}

// unindexWorkitemTags removes a workitem from the user's tag index,
// dropping tags that become empty.
func unindexWorkitemTags(ctx *Context, u *model.User, w *model.Workitem) {
	for _, text := range w.Tags() {
		tag := u.Tag(text)
		if tag == nil {
			continue
		}
		if tag.Remove(w) {
			u.DropTag(text)
			ctx.Emitter.Emit(events.TagDeleted, events.Payload{"tag": tag})
		} else {
			ctx.Emitter.Emit(events.TagContentChanged, events.Payload{"tag": tag})
		}
	}
}

// CreateWorkitem adds a workitem to a backlog.
// CreateWorkitem("w1", "b1", "Fix the #login bug")
type CreateWorkitem struct {
	base
	workitemUID  string
	backlogUID   string
	workitemName string
}

func newCreateWorkitem(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameCreateWorkitem, params, 3, 3); err != nil {
		return nil, err
	}
	return &CreateWorkitem{
		base:         base{seq: seq, when: when, user: user, params: params},
		workitemUID:  params[0],
		backlogUID:   params[1],
		workitemName: params[2],
	}, nil
}

func (s *CreateWorkitem) Name() string { return NameCreateWorkitem }

func (s *CreateWorkitem) Execute(ctx *Context) (*Conflict, error) {
	u, err := s.actingUser(ctx)
	if err != nil {
		return nil, err
	}
	b := u.Backlog(s.backlogUID)
	if b == nil {
		return nil, invalidf("backlog %q not found", s.backlogUID)
	}
	if b.HasWorkitem(s.workitemUID) {
		return nil, invalidf("workitem %q already exists", s.workitemUID)
	}
	payload := events.Payload{
		"backlog_uid":   s.backlogUID,
		"workitem_uid":  s.workitemUID,
		"workitem_name": s.workitemName,
		"carry":         s.carry,
	}
	ctx.Emitter.Emit(events.BeforeWorkitemCreate, payload)
	w := b.AddWorkitem(s.workitemUID, s.workitemName, s.when)
	w.Touch(s.when)
	payload["workitem"] = w
	ctx.Emitter.Emit(events.AfterWorkitemCreate, payload)
	indexWorkitemTags(ctx, u, w, s.when)
	return nil, nil
}

// RenameWorkitem changes a workitem's name and reindexes its tags.
// RenameWorkitem("w1", "Fix the #signup bug")
type RenameWorkitem struct {
	base
	workitemUID string
	newName     string
}

func newRenameWorkitem(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameRenameWorkitem, params, 2, 2); err != nil {
		return nil, err
	}
	return &RenameWorkitem{
		base:        base{seq: seq, when: when, user: user, params: params},
		workitemUID: params[0],
		newName:     params[1],
	}, nil
}

func (s *RenameWorkitem) Name() string { return NameRenameWorkitem }

func (s *RenameWorkitem) Execute(ctx *Context) (*Conflict, error) {
	u, err := s.actingUser(ctx)
	if err != nil {
		return nil, err
	}
	w := u.Workitem(s.workitemUID)
	if w == nil {
		return nil, invalidf("workitem %q not found", s.workitemUID)
	}
	if w.Name() == s.newName {
		return nil, nil
	}
	if w.IsSealed() {
		return nil, invalidf("cannot rename sealed workitem %q", s.workitemUID)
	}
	payload := events.Payload{
		"workitem": w,
		"old_name": w.Name(),
		"new_name": s.newName,
		"carry":    s.carry,
	}
	ctx.Emitter.Emit(events.BeforeWorkitemRename, payload)
	unindexWorkitemTags(ctx, u, w)
	w.SetName(s.newName)
	w.Touch(s.when)
	indexWorkitemTags(ctx, u, w, s.when)
	ctx.Emitter.Emit(events.AfterWorkitemRename, payload)
	return nil, nil
}

// voidRunningPomodoro cancels the workitem's running pomodoro, if any,
// through the regular void strategy so subscribers see the usual events.
func voidRunningPomodoro(ctx *Context, s *base, w *model.Workitem) error {
	if w.RunningPomodoro() == nil {
		return nil
	}
	inner := &VoidPomodoro{
		base:        base{when: s.when, user: s.user, params: []string{w.UID()}, carry: s.carry},
		workitemUID: w.UID(),
	}
	_, err := inner.Execute(ctx)
	return err
}

// DeleteWorkitem removes a workitem, voiding its running pomodoro first.
// DeleteWorkitem("w1")
type DeleteWorkitem struct {
	base
	workitemUID string
}

func newDeleteWorkitem(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameDeleteWorkitem, params, 1, 1); err != nil {
		return nil, err
	}
	return &DeleteWorkitem{
		base:        base{seq: seq, when: when, user: user, params: params},
		workitemUID: params[0],
	}, nil
}

func (s *DeleteWorkitem) Name() string { return NameDeleteWorkitem }

func (s *DeleteWorkitem) Execute(ctx *Context) (*Conflict, error) {
	u, err := s.actingUser(ctx)
	if err != nil {
		return nil, err
	}
	w := u.Workitem(s.workitemUID)
	if w == nil {
		return nil, invalidf("workitem %q not found", s.workitemUID)
	}
	if err := voidRunningPomodoro(ctx, &s.base, w); err != nil {
		return nil, err
	}
	payload := events.Payload{"workitem": w, "carry": s.carry}
	ctx.Emitter.Emit(events.BeforeWorkitemDelete, payload)
	w.Touch(s.when)
	unindexWorkitemTags(ctx, u, w)
	w.Backlog().RemoveWorkitem(s.workitemUID)
	ctx.Emitter.Emit(events.AfterWorkitemDelete, payload)
	return nil, nil
}

// ReorderWorkitem moves a workitem to a new position in its backlog.
// ReorderWorkitem("w1", "2")
type ReorderWorkitem struct {
	base
	workitemUID string
	index       int
}

func newReorderWorkitem(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameReorderWorkitem, params, 2, 2); err != nil {
		return nil, err
	}
	index, err := strconv.Atoi(params[1])
	if err != nil {
		return nil, invalidf("bad index %q", params[1])
	}
	return &ReorderWorkitem{
		base:        base{seq: seq, when: when, user: user, params: params},
		workitemUID: params[0],
		index:       index,
	}, nil
}

func (s *ReorderWorkitem) Name() string { return NameReorderWorkitem }

func (s *ReorderWorkitem) Execute(ctx *Context) (*Conflict, error) {
	u, err := s.actingUser(ctx)
	if err != nil {
		return nil, err
	}
	w := u.Workitem(s.workitemUID)
	if w == nil {
		return nil, invalidf("workitem %q not found", s.workitemUID)
	}
	payload := events.Payload{"workitem": w, "index": s.index, "carry": s.carry}
	ctx.Emitter.Emit(events.BeforeWorkitemReorder, payload)
	w.Backlog().MoveWorkitem(s.workitemUID, s.index)
	w.Touch(s.when)
	ctx.Emitter.Emit(events.AfterWorkitemReorder, payload)
	return nil, nil
}

// CompleteWorkitem seals a workitem as finished or canceled, voiding a
// running pomodoro first.
// CompleteWorkitem("w1", "finished")
type CompleteWorkitem struct {
	base
	workitemUID string
	target      model.WorkitemState
}

func newCompleteWorkitem(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameCompleteWorkitem, params, 2, 2); err != nil {
		return nil, err
	}
	target := model.WorkitemState(params[1])
	if target != model.WorkitemFinished && target != model.WorkitemCanceled {
		return nil, invalidf("bad target state %q", params[1])
	}
	return &CompleteWorkitem{
		base:        base{seq: seq, when: when, user: user, params: params},
		workitemUID: params[0],
		target:      target,
	}, nil
}

func (s *CompleteWorkitem) Name() string { return NameCompleteWorkitem }

func (s *CompleteWorkitem) Execute(ctx *Context) (*Conflict, error) {
	w, err := s.findWorkitem(ctx, s.workitemUID)
	if err != nil {
		return nil, err
	}
	if w.IsSealed() {
		return nil, invalidf("workitem %q is already sealed", s.workitemUID)
	}
	if err := voidRunningPomodoro(ctx, &s.base, w); err != nil {
		return nil, err
	}
	payload := events.Payload{
		"workitem":     w,
		"target_state": string(s.target),
		"carry":        s.carry,
	}
	ctx.Emitter.Emit(events.BeforeWorkitemComplete, payload)
	if err := w.Seal(s.target, s.when); err != nil {
		return nil, invalidf("%v", err)
	}
	w.Touch(s.when)
	ctx.Emitter.Emit(events.AfterWorkitemComplete, payload)
	return nil, nil
}
