package strategy

import (
	"time"

	"github.com/flowkeeper-org/fk-engine/internal/events"
	"github.com/flowkeeper-org/fk-engine/internal/model"
)

const (
	NameCreateCategory = "CreateCategory"
	NameRenameCategory = "RenameCategory"
	NameDeleteCategory = "DeleteCategory"
)

// findCategory locates a node in the acting user's category tree.
func findCategory(ctx *Context, b *base, uid string) (*model.Category, error) {
	u, err := b.actingUser(ctx)
	if err != nil {
		return nil, err
	}
	c := u.Categories().Find(uid)
	if c == nil {
		return nil, invalidf("category %q not found", uid)
	}
	return c, nil
}

// CreateCategory adds a node to the acting user's category tree. An
// empty parent uid means the root.
// CreateCategory("c1", "root", "Important")
type CreateCategory struct {
	base
	categoryUID  string
	parentUID    string
	categoryName string
}

func newCreateCategory(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameCreateCategory, params, 3, 3); err != nil {
		return nil, err
	}
	return &CreateCategory{
		base:         base{seq: seq, when: when, user: user, params: params},
		categoryUID:  params[0],
		parentUID:    params[1],
		categoryName: params[2],
	}, nil
}

func (s *CreateCategory) Name() string { return NameCreateCategory }

func (s *CreateCategory) Execute(ctx *Context) (*Conflict, error) {
	u, err := s.actingUser(ctx)
	if err != nil {
		return nil, err
	}
	root := u.Categories()
	if root.Find(s.categoryUID) != nil {
		return nil, invalidf("category %q already exists", s.categoryUID)
	}
	parent := root
	if s.parentUID != "" {
		if parent = root.Find(s.parentUID); parent == nil {
			return nil, invalidf("parent category %q not found", s.parentUID)
		}
	}
	payload := events.Payload{
		"category_uid":  s.categoryUID,
		"category_name": s.categoryName,
		"parent":        parent,
		"carry":         s.carry,
	}
	ctx.Emitter.Emit(events.BeforeCategoryCreate, payload)
	c := parent.AddChild(s.categoryUID, s.categoryName, s.when)
	c.Touch(s.when)
	payload["category"] = c
	ctx.Emitter.Emit(events.AfterCategoryCreate, payload)
	return nil, nil
}

// RenameCategory changes a category's name. The root cannot be renamed.
// RenameCategory("c1", "Someday")
type RenameCategory struct {
	base
	categoryUID string
	newName     string
}

func newRenameCategory(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameRenameCategory, params, 2, 2); err != nil {
		return nil, err
	}
	return &RenameCategory{
		base:        base{seq: seq, when: when, user: user, params: params},
		categoryUID: params[0],
		newName:     params[1],
	}, nil
}

func (s *RenameCategory) Name() string { return NameRenameCategory }

func (s *RenameCategory) Execute(ctx *Context) (*Conflict, error) {
	c, err := findCategory(ctx, &s.base, s.categoryUID)
	if err != nil {
		return nil, err
	}
	if c.IsRoot() {
		return nil, invalidf("cannot rename the root category")
	}
	payload := events.Payload{
		"category": c,
		"old_name": c.Name(),
		"new_name": s.newName,
		"carry":    s.carry,
	}
	ctx.Emitter.Emit(events.BeforeCategoryRename, payload)
	c.SetName(s.newName)
	c.Touch(s.when)
	ctx.Emitter.Emit(events.AfterCategoryRename, payload)
	return nil, nil
}

// DeleteCategory removes a category and its whole subtree. Workitems
// filed under the removed nodes are unfiled, never deleted; the tree is
// an index, not an owner.
// DeleteCategory("c1")
type DeleteCategory struct {
	base
	categoryUID string
}

func newDeleteCategory(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameDeleteCategory, params, 1, 1); err != nil {
		return nil, err
	}
	return &DeleteCategory{
		base:        base{seq: seq, when: when, user: user, params: params},
		categoryUID: params[0],
	}, nil
}

func (s *DeleteCategory) Name() string { return NameDeleteCategory }

func (s *DeleteCategory) Execute(ctx *Context) (*Conflict, error) {
	c, err := findCategory(ctx, &s.base, s.categoryUID)
	if err != nil {
		return nil, err
	}
	if c.IsRoot() {
		return nil, invalidf("cannot delete the root category")
	}
	payload := events.Payload{"category": c, "carry": s.carry}
	ctx.Emitter.Emit(events.BeforeCategoryDelete, payload)
	c.Parent().RemoveChild(s.categoryUID)
	c.Parent().Touch(s.when)
	ctx.Emitter.Emit(events.AfterCategoryDelete, payload)
	return nil, nil
}
