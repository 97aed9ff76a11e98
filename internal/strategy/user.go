package strategy

import (
	"time"

	"github.com/flowkeeper-org/fk-engine/internal/events"
	"github.com/flowkeeper-org/fk-engine/internal/model"
)

// Serialized strategy names.
const (
	NameCreateUser = "CreateUser"
	NameRenameUser = "RenameUser"
	NameDeleteUser = "DeleteUser"
)

// User management is restricted to the built-in system user; every
// tenant has it, and it is the identity behind the bootstrap log line.

// CreateUser adds a user to the tenant.
// CreateUser("alice@example.com", "Alice")
type CreateUser struct {
	base
	identity string
	userName string
}

func newCreateUser(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameCreateUser, params, 2, 2); err != nil {
		return nil, err
	}
	return &CreateUser{
		base:     base{seq: seq, when: when, user: user, params: params},
		identity: params[0],
		userName: params[1],
	}, nil
}

func (s *CreateUser) Name() string { return NameCreateUser }

func (s *CreateUser) Execute(ctx *Context) (*Conflict, error) {
	if s.user != model.AdminIdentity {
		return nil, invalidf("user %q is not allowed to create users", s.user)
	}
	if ctx.Tenant.HasUser(s.identity) {
		return nil, invalidf("user %q already exists", s.identity)
	}
	payload := events.Payload{
		"user_identity": s.identity,
		"user_name":     s.userName,
		"carry":         s.carry,
	}
	ctx.Emitter.Emit(events.BeforeUserCreate, payload)
	u := ctx.Tenant.AddUser(s.identity, s.userName, s.when)
	u.Touch(s.when)
	payload["user"] = u
	ctx.Emitter.Emit(events.AfterUserCreate, payload)
	return nil, nil
}

// RenameUser changes a user's display name.
// RenameUser("alice@example.com", "Alice A.")
type RenameUser struct {
	base
	identity string
	newName  string
}

func newRenameUser(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameRenameUser, params, 2, 2); err != nil {
		return nil, err
	}
	return &RenameUser{
		base:     base{seq: seq, when: when, user: user, params: params},
		identity: params[0],
		newName:  params[1],
	}, nil
}

func (s *RenameUser) Name() string { return NameRenameUser }

func (s *RenameUser) Execute(ctx *Context) (*Conflict, error) {
	if s.user != model.AdminIdentity {
		return nil, invalidf("user %q is not allowed to rename users", s.user)
	}
	u := ctx.Tenant.User(s.identity)
	if u == nil {
		return nil, invalidf("user %q not found", s.identity)
	}
	if u.IsSystem() {
		return nil, invalidf("the system user cannot be renamed")
	}
	payload := events.Payload{
		"user":     u,
		"old_name": u.Name(),
		"new_name": s.newName,
		"carry":    s.carry,
	}
	ctx.Emitter.Emit(events.BeforeUserRename, payload)
	u.SetName(s.newName)
	u.Touch(s.when)
	ctx.Emitter.Emit(events.AfterUserRename, payload)
	return nil, nil
}

// DeleteUser removes a user and, through the cascade, everything the
// user owns.
// DeleteUser("alice@example.com")
type DeleteUser struct {
	base
	identity string
}

func newDeleteUser(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameDeleteUser, params, 1, 1); err != nil {
		return nil, err
	}
	return &DeleteUser{
		base:     base{seq: seq, when: when, user: user, params: params},
		identity: params[0],
	}, nil
}

func (s *DeleteUser) Name() string { return NameDeleteUser }

func (s *DeleteUser) Execute(ctx *Context) (*Conflict, error) {
	if s.user != model.AdminIdentity {
		return nil, invalidf("user %q is not allowed to delete users", s.user)
	}
	u := ctx.Tenant.User(s.identity)
	if u == nil {
		return nil, invalidf("user %q not found", s.identity)
	}
	if u.IsSystem() {
		return nil, invalidf("the system user cannot be deleted")
	}
	payload := events.Payload{"user": u, "carry": s.carry}
	ctx.Emitter.Emit(events.BeforeUserDelete, payload)
	for _, b := range u.Backlogs() {
		inner := &DeleteBacklog{
			base:       base{when: s.when, user: s.identity, params: []string{b.UID()}, carry: s.carry},
			backlogUID: b.UID(),
		}
		if _, err := inner.Execute(ctx); err != nil {
			return nil, err
		}
	}
	ctx.Tenant.RemoveUser(s.identity)
	ctx.Tenant.Touch(s.when)
	ctx.Emitter.Emit(events.AfterUserDelete, payload)
	return nil, nil
}
