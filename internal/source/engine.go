// Package source implements the event-sourcing core: it owns the entity
// tree and is the single path through which strategies execute, acquire
// sequence numbers and reach persistence.
package source

import (
	"log/slog"
	"time"

	"github.com/flowkeeper-org/fk-engine/internal/events"
	"github.com/flowkeeper-org/fk-engine/internal/model"
	"github.com/flowkeeper-org/fk-engine/internal/strategy"
)

// Appender persists strategies that already executed successfully. It
// must not replay them.
type Appender func(strategies []strategy.Strategy) error

// Config carries the engine knobs. Identity is the local acting user
// stamped on commands issued through Execute.
type Config struct {
	Identity string
	// Lenient accepts sequence gaps on incoming strategies; last_seq
	// simply jumps. Without it a gap is a fatal SequenceError.
	Lenient bool
	Logger  *slog.Logger
}

// Engine owns the tree. Exactly one strategy executes at a time; the
// engine is not safe for concurrent use and is meant to be driven from
// a single goroutine.
type Engine struct {
	tenant   *model.Tenant
	emitter  *events.Emitter
	registry *strategy.Registry
	log      *slog.Logger
	identity string
	lenient  bool
	lastSeq  int64
	online   bool
	appender Appender
}

// NewEngine creates an engine with a fresh tenant. The tenant is seeded
// at the zero time, not the wall clock: replicas replaying the same log
// must build identical trees, system user timestamps included.
func NewEngine(cfg Config, emitter *events.Emitter, registry *strategy.Registry) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		tenant:   model.NewTenant(time.Time{}),
		emitter:  emitter,
		registry: registry,
		log:      logger,
		identity: cfg.Identity,
		lenient:  cfg.Lenient,
	}
}

// Tenant returns the entity tree. Callers must treat it as read-only;
// all mutation goes through strategies.
func (e *Engine) Tenant() *model.Tenant { return e.tenant }

// Emitter returns the engine's event bus.
func (e *Engine) Emitter() *events.Emitter { return e.emitter }

// Registry returns the strategy factory registry.
func (e *Engine) Registry() *strategy.Registry { return e.registry }

// Identity returns the local acting user.
func (e *Engine) Identity() string { return e.identity }

// LastSeq returns the sequence number of the last persisted strategy.
func (e *Engine) LastSeq() int64 { return e.lastSeq }

// OnAppend installs the persistence hook.
func (e *Engine) OnAppend(appender Appender) { e.appender = appender }

// Restore replaces the tree and sequence wholesale. The cache layer
// uses it after decoding a snapshot.
func (e *Engine) Restore(tenant *model.Tenant, lastSeq int64) {
	e.tenant = tenant
	e.lastSeq = lastSeq
}

func (e *Engine) ctx() *strategy.Context {
	return &strategy.Context{Tenant: e.tenant, Emitter: e.emitter}
}

// Execute runs a local command now, persisting it on success.
func (e *Engine) Execute(name string, params ...string) error {
	return e.ExecuteAt(name, params, time.Now().UTC(), true, nil)
}

// ExecuteAt runs a local command with an explicit timestamp. The
// strategy gets sequence last_seq+1; on successful execution it is
// persisted and last_seq advances. A failed execution leaves both the
// log and last_seq untouched.
func (e *Engine) ExecuteAt(name string, params []string, when time.Time, persist bool, carry any) error {
	s, err := e.registry.Create(name, e.lastSeq+1, when, e.identity, params)
	if err != nil {
		return err
	}
	s.SetCarry(carry)
	return e.ExecutePrepared(s, persist)
}

// ExecutePrepared runs an already-built strategy through the auto-seal
// retry loop and the persistence hook.
func (e *Engine) ExecutePrepared(s strategy.Strategy, persist bool) error {
	if s.RequiresSealing() {
		if err := e.sealUser(s.User(), s.When()); err != nil {
			return err
		}
	}

	payload := events.Payload{"strategy": s, "persist": persist}
	e.emitter.Emit(events.BeforeMessageProcessed, payload)
	defer e.emitter.Emit(events.AfterMessageProcessed, payload)

	conflict, err := s.Execute(e.ctx())
	if err != nil {
		return err
	}
	if conflict != nil {
		if err := e.sealWorkitem(conflict.Workitem, s.When()); err != nil {
			return err
		}
		if conflict, err = s.Execute(e.ctx()); err != nil {
			return err
		}
		if conflict != nil {
			return ErrAutoSealExhausted
		}
	}

	if persist && s.Persistent() {
		if e.appender != nil {
			if err := e.appender([]strategy.Strategy{s}); err != nil {
				return err
			}
		}
		e.lastSeq = s.Seq()
	}
	return nil
}

// ApplyIncoming executes a strategy that arrived from the log or the
// wire. It is already persisted elsewhere, so the engine only validates
// its sequence and advances last_seq on success.
func (e *Engine) ApplyIncoming(s strategy.Strategy) error {
	if !s.Persistent() {
		return e.ExecutePrepared(s, false)
	}
	if s.Seq() != e.lastSeq+1 {
		if !e.lenient {
			return &SequenceError{Prev: e.lastSeq, Next: s.Seq()}
		}
		e.log.Warn("sequence gap accepted",
			"prev", e.lastSeq, "next", s.Seq())
	}
	if err := e.ExecutePrepared(s, false); err != nil {
		return err
	}
	e.lastSeq = s.Seq()
	return nil
}

// InitStrategy returns the bootstrap line a brand-new log starts with.
func (e *Engine) InitStrategy(when time.Time, fullName string) (strategy.Strategy, error) {
	return e.registry.Create(strategy.NameCreateUser, 1, when, model.AdminIdentity,
		[]string{e.identity, fullName})
}

// WentOnline flips the logical connection state to online. The state
// changes before the event fires: subscribers reacting to WentOnline
// (the cache layer flushes its redo log through the remote source) must
// observe IsOnline as true. State change events bypass mute so the UI
// sees them even during bulk replay.
func (e *Engine) WentOnline() {
	if e.online {
		return
	}
	e.online = true
	e.emitter.EmitForce(events.WentOnline, nil)
}

// WentOffline flips the logical connection state to offline, likewise
// before the event fires.
func (e *Engine) WentOffline() {
	if !e.online {
		return
	}
	e.online = false
	e.emitter.EmitForce(events.WentOffline, nil)
}

// IsOnline reports the logical connection state.
func (e *Engine) IsOnline() bool { return e.online }

// Users returns every non-system user.
func (e *Engine) Users() []*model.User {
	var out []*model.User
	for _, u := range e.tenant.Users() {
		if !u.IsSystem() {
			out = append(out, u)
		}
	}
	return out
}

// Backlogs returns every backlog, depth-first in user order.
func (e *Engine) Backlogs() []*model.Backlog {
	var out []*model.Backlog
	for _, u := range e.Users() {
		out = append(out, u.Backlogs()...)
	}
	return out
}

// Workitems returns every workitem, depth-first.
func (e *Engine) Workitems() []*model.Workitem {
	var out []*model.Workitem
	for _, b := range e.Backlogs() {
		out = append(out, b.Workitems()...)
	}
	return out
}

// Pomodoros returns every pomodoro, depth-first.
func (e *Engine) Pomodoros() []*model.Pomodoro {
	var out []*model.Pomodoro
	for _, w := range e.Workitems() {
		out = append(out, w.Pomodoros()...)
	}
	return out
}

// FindWorkitem locates a workitem by uid anywhere in the tree.
func (e *Engine) FindWorkitem(uid string) *model.Workitem {
	for _, w := range e.Workitems() {
		if w.UID() == uid {
			return w
		}
	}
	return nil
}

// FindBacklog locates a backlog by uid anywhere in the tree.
func (e *Engine) FindBacklog(uid string) *model.Backlog {
	for _, b := range e.Backlogs() {
		if b.UID() == uid {
			return b
		}
	}
	return nil
}
