package strategy

import (
	"strconv"
	"time"

	"github.com/flowkeeper-org/fk-engine/internal/events"
)

const (
	NameCreateBacklog  = "CreateBacklog"
	NameRenameBacklog  = "RenameBacklog"
	NameDeleteBacklog  = "DeleteBacklog"
	NameReorderBacklog = "ReorderBacklog"
)

// CreateBacklog adds a backlog to the acting user.
// CreateBacklog("b1", "Monday plan")
type CreateBacklog struct {
	base
	backlogUID  string
	backlogName string
}

func newCreateBacklog(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameCreateBacklog, params, 2, 2); err != nil {
		return nil, err
	}
	return &CreateBacklog{
		base:        base{seq: seq, when: when, user: user, params: params},
		backlogUID:  params[0],
		backlogName: params[1],
	}, nil
}

func (s *CreateBacklog) Name() string { return NameCreateBacklog }

func (s *CreateBacklog) Execute(ctx *Context) (*Conflict, error) {
	u, err := s.actingUser(ctx)
	if err != nil {
		return nil, err
	}
	if u.HasBacklog(s.backlogUID) {
		return nil, invalidf("backlog %q already exists", s.backlogUID)
	}
	payload := events.Payload{
		"backlog_uid":   s.backlogUID,
		"backlog_name":  s.backlogName,
		"backlog_owner": u,
		"carry":         s.carry,
	}
	ctx.Emitter.Emit(events.BeforeBacklogCreate, payload)
	b := u.AddBacklog(s.backlogUID, s.backlogName, s.when)
	b.Touch(s.when)
	payload["backlog"] = b
	ctx.Emitter.Emit(events.AfterBacklogCreate, payload)
	return nil, nil
}

// RenameBacklog changes a backlog's name.
// RenameBacklog("b1", "Tuesday plan")
type RenameBacklog struct {
	base
	backlogUID string
	newName    string
}

func newRenameBacklog(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameRenameBacklog, params, 2, 2); err != nil {
		return nil, err
	}
	return &RenameBacklog{
		base:       base{seq: seq, when: when, user: user, params: params},
		backlogUID: params[0],
		newName:    params[1],
	}, nil
}

func (s *RenameBacklog) Name() string { return NameRenameBacklog }

func (s *RenameBacklog) Execute(ctx *Context) (*Conflict, error) {
	u, err := s.actingUser(ctx)
	if err != nil {
		return nil, err
	}
	b := u.Backlog(s.backlogUID)
	if b == nil {
		return nil, invalidf("backlog %q not found", s.backlogUID)
	}
	payload := events.Payload{
		"backlog":  b,
		"old_name": b.Name(),
		"new_name": s.newName,
		"carry":    s.carry,
	}
	ctx.Emitter.Emit(events.BeforeBacklogRename, payload)
	b.SetName(s.newName)
	b.Touch(s.when)
	ctx.Emitter.Emit(events.AfterBacklogRename, payload)
	return nil, nil
}

// DeleteBacklog removes a backlog after deleting all its workitems.
// Running pomodoros inside are voided first, so subscribers see every
// void event before the backlog-deleted event.
// DeleteBacklog("b1")
type DeleteBacklog struct {
	base
	backlogUID string
}

func newDeleteBacklog(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameDeleteBacklog, params, 1, 1); err != nil {
		return nil, err
	}
	return &DeleteBacklog{
		base:       base{seq: seq, when: when, user: user, params: params},
		backlogUID: params[0],
	}, nil
}

func (s *DeleteBacklog) Name() string { return NameDeleteBacklog }

func (s *DeleteBacklog) Execute(ctx *Context) (*Conflict, error) {
	u, err := s.actingUser(ctx)
	if err != nil {
		return nil, err
	}
	b := u.Backlog(s.backlogUID)
	if b == nil {
		return nil, invalidf("backlog %q not found", s.backlogUID)
	}
	payload := events.Payload{"backlog": b, "carry": s.carry}
	ctx.Emitter.Emit(events.BeforeBacklogDelete, payload)
	for _, w := range b.Workitems() {
		inner := &DeleteWorkitem{
			base:        base{when: s.when, user: s.user, params: []string{w.UID()}, carry: s.carry},
			workitemUID: w.UID(),
		}
		if _, err := inner.Execute(ctx); err != nil {
			return nil, err
		}
	}
	b.Touch(s.when)
	u.RemoveBacklog(s.backlogUID)
	ctx.Emitter.Emit(events.AfterBacklogDelete, payload)
	return nil, nil
}

// ReorderBacklog moves a backlog to a new position in the user's list.
// ReorderBacklog("b1", "0")
type ReorderBacklog struct {
	base
	backlogUID string
	index      int
}

func newReorderBacklog(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameReorderBacklog, params, 2, 2); err != nil {
		return nil, err
	}
	index, err := strconv.Atoi(params[1])
	if err != nil {
		return nil, invalidf("bad index %q", params[1])
	}
	return &ReorderBacklog{
		base:       base{seq: seq, when: when, user: user, params: params},
		backlogUID: params[0],
		index:      index,
	}, nil
}

func (s *ReorderBacklog) Name() string { return NameReorderBacklog }

func (s *ReorderBacklog) Execute(ctx *Context) (*Conflict, error) {
	u, err := s.actingUser(ctx)
	if err != nil {
		return nil, err
	}
	b := u.Backlog(s.backlogUID)
	if b == nil {
		return nil, invalidf("backlog %q not found", s.backlogUID)
	}
	payload := events.Payload{"backlog": b, "index": s.index, "carry": s.carry}
	ctx.Emitter.Emit(events.BeforeBacklogReorder, payload)
	u.MoveBacklog(s.backlogUID, s.index)
	b.Touch(s.when)
	ctx.Emitter.Emit(events.AfterBacklogReorder, payload)
	return nil, nil
}
