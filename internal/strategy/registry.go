package strategy

import "time"

// Factory builds a strategy of one concrete type from its serialized
// parts. It validates the parameter list shape, not tree invariants.
type Factory func(seq int64, when time.Time, user string, params []string) (Strategy, error)

// Registry maps serialized strategy names to factories. Internal
// strategies the engine synthesizes during auto-seal are deliberately
// absent: they never appear in a log, they are re-derived on replay.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with every public and control strategy
// registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}

	r.Register(NameCreateUser, newCreateUser)
	r.Register(NameRenameUser, newRenameUser)
	r.Register(NameDeleteUser, newDeleteUser)

	r.Register(NameCreateBacklog, newCreateBacklog)
	r.Register(NameRenameBacklog, newRenameBacklog)
	r.Register(NameDeleteBacklog, newDeleteBacklog)
	r.Register(NameReorderBacklog, newReorderBacklog)

	r.Register(NameCreateWorkitem, newCreateWorkitem)
	r.Register(NameRenameWorkitem, newRenameWorkitem)
	r.Register(NameDeleteWorkitem, newDeleteWorkitem)
	r.Register(NameReorderWorkitem, newReorderWorkitem)
	r.Register(NameCompleteWorkitem, newCompleteWorkitem)

	r.Register(NameCreateCategory, newCreateCategory)
	r.Register(NameRenameCategory, newRenameCategory)
	r.Register(NameDeleteCategory, newDeleteCategory)

	r.Register(NameAddPomodoro, newAddPomodoro)
	r.Register(NameRemovePomodoro, newRemovePomodoro)
	r.Register(NameStartWork, newStartWork)
	r.Register(NameVoidPomodoro, newVoidPomodoro)

	r.Register(NameAuthenticate, newAuthenticate)
	r.Register(NameReplayRequest, newReplayRequest)
	r.Register(NameReplayCompleted, newReplayCompleted)
	r.Register(NamePing, newPing)
	r.Register(NamePong, newPong)
	r.Register(NameError, newError)

	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Has reports whether a strategy name is known.
func (r *Registry) Has(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// Create builds a strategy by name.
func (r *Registry) Create(name string, seq int64, when time.Time, user string, params []string) (Strategy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, invalidf("unknown strategy %q", name)
	}
	return f(seq, when, user, params)
}
