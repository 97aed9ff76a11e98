// Package strategy defines the command objects the engine replays.
//
// A strategy is immutable once constructed: a sequence number, a
// timestamp, the acting user's identity and a list of string parameters.
// Execute is a pure function of the tree state, the parameters and the
// timestamp; it never reads the wall clock, so replaying the same
// ordered log always rebuilds the same tree.
package strategy

import (
	"fmt"
	"strconv"
	"time"

	"github.com/flowkeeper-org/fk-engine/internal/events"
	"github.com/flowkeeper-org/fk-engine/internal/model"
)

// Context carries everything Execute may touch. Carry is an opaque
// caller value passed through to event payloads; it is never serialized.
type Context struct {
	Tenant  *model.Tenant
	Emitter *events.Emitter
}

// Conflict reports that the strategy could not apply because another
// pomodoro is still running for the same user. The caller is expected
// to auto-seal and retry exactly once.
type Conflict struct {
	Workitem *model.Workitem
}

// Strategy is one replayable command.
type Strategy interface {
	// Name is the serialized strategy name.
	Name() string
	// Seq is the position in the log, starting at 1.
	Seq() int64
	// SetSeq renumbers the strategy; repair and merge use it.
	SetSeq(seq int64)
	// When is the moment the command logically happened.
	When() time.Time
	// User is the acting user's identity.
	User() string
	// Params returns the raw string parameters.
	Params() []string
	// RequiresSealing asks the engine to seal expired pomodoros before
	// executing this strategy.
	RequiresSealing() bool
	// Persistent reports whether the strategy belongs in the log.
	// Control and internal strategies are executed but never stored.
	Persistent() bool
	// Carry returns the opaque caller value attached to this strategy.
	Carry() any
	// SetCarry attaches an opaque caller value. It travels in event
	// payloads only.
	SetCarry(carry any)
	// Execute applies the command to the tree. A non-nil Conflict means
	// the one-running-pomodoro invariant blocked it.
	Execute(ctx *Context) (*Conflict, error)
}

// ValidationError marks a command rejected by the tree's invariants: a
// missing reference, a duplicate uid, a mutation of a sealed entity. It
// fails the single command and nothing else.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func invalidf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// base carries the fields shared by every strategy.
type base struct {
	seq    int64
	when   time.Time
	user   string
	params []string
	carry  any
}

func (b *base) Seq() int64            { return b.seq }
func (b *base) SetSeq(seq int64)      { b.seq = seq }
func (b *base) When() time.Time       { return b.when }
func (b *base) User() string          { return b.user }
func (b *base) Params() []string      { return b.params }
func (b *base) RequiresSealing() bool { return false }
func (b *base) Persistent() bool      { return true }
func (b *base) Carry() any            { return b.carry }
func (b *base) SetCarry(carry any)    { b.carry = carry }

// actingUser resolves the strategy's user against the tree.
func (b *base) actingUser(ctx *Context) (*model.User, error) {
	u := ctx.Tenant.User(b.user)
	if u == nil {
		return nil, invalidf("user %q not found", b.user)
	}
	return u, nil
}

// findWorkitem locates a workitem across the acting user's backlogs.
func (b *base) findWorkitem(ctx *Context, uid string) (*model.Workitem, error) {
	u, err := b.actingUser(ctx)
	if err != nil {
		return nil, err
	}
	w := u.Workitem(uid)
	if w == nil {
		return nil, invalidf("workitem %q not found", uid)
	}
	return w, nil
}

func requireParams(name string, params []string, min, max int) error {
	if len(params) < min || len(params) > max {
		return invalidf("%s: expected %d..%d parameters, got %d", name, min, max, len(params))
	}
	return nil
}

// parseSeconds converts a decimal seconds parameter into a duration.
func parseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, invalidf("bad duration %q", s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10)
}
