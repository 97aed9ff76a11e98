package source

import (
	"sort"

	"github.com/flowkeeper-org/fk-engine/internal/model"
	"github.com/flowkeeper-org/fk-engine/internal/strategy"
)

// Compressed returns the minimal ordered strategy list that recreates
// the current tree: creates with original timestamps, one AddPomodoro
// per pomodoro to preserve types, and a CompleteWorkitem for each
// sealed workitem. The run/void history of individual pomodoros is
// deliberately dropped.
func (e *Engine) Compressed() ([]strategy.Strategy, error) {
	var out []strategy.Strategy

	for _, u := range e.Users() {
		s, err := e.registry.Create(strategy.NameCreateUser, 0, u.CreateDate(),
			model.AdminIdentity, []string{u.Identity(), u.Name()})
		if err != nil {
			return nil, err
		}
		out = append(out, s)

		if err := compressCategories(e, u, u.Categories(), &out); err != nil {
			return nil, err
		}

		for _, b := range u.Backlogs() {
			s, err := e.registry.Create(strategy.NameCreateBacklog, 0, b.CreateDate(),
				u.Identity(), []string{b.UID(), b.Name()})
			if err != nil {
				return nil, err
			}
			out = append(out, s)

			for _, w := range b.Workitems() {
				s, err := e.registry.Create(strategy.NameCreateWorkitem, 0, w.CreateDate(),
					u.Identity(), []string{w.UID(), b.UID(), w.Name()})
				if err != nil {
					return nil, err
				}
				out = append(out, s)

				for _, p := range w.Pomodoros() {
					s, err := e.registry.Create(strategy.NameAddPomodoro, 0, p.CreateDate(),
						u.Identity(), []string{w.UID(), "1", string(p.Type())})
					if err != nil {
						return nil, err
					}
					out = append(out, s)
				}

				if w.IsSealed() {
					target := string(w.State())
					s, err := e.registry.Create(strategy.NameCompleteWorkitem, 0, w.LastModified(),
						u.Identity(), []string{w.UID(), target})
					if err != nil {
						return nil, err
					}
					out = append(out, s)
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].When().Before(out[j].When())
	})
	for i, s := range out {
		s.SetSeq(int64(i) + 1)
	}
	return out, nil
}

// compressCategories emits one CreateCategory per node, parents first.
// A child is never created before its parent, so the timestamp sort
// keeps the order valid.
func compressCategories(e *Engine, u *model.User, parent *model.Category, out *[]strategy.Strategy) error {
	for _, c := range parent.Children() {
		s, err := e.registry.Create(strategy.NameCreateCategory, 0, c.CreateDate(),
			u.Identity(), []string{c.UID(), parent.UID(), c.Name()})
		if err != nil {
			return err
		}
		*out = append(*out, s)
		if err := compressCategories(e, u, c, out); err != nil {
			return err
		}
	}
	return nil
}
