package model

import (
	"sort"
	"time"
)

// Category is a node in a user's category tree, a secondary index over
// workitems outside the ownership hierarchy. Each node keeps the uids of
// the workitems filed under it.
type Category struct {
	item
	user      *User
	parentCat *Category
	children  collection[*Category]
	workitems map[string]bool
}

func newRootCategory(u *User, when time.Time) *Category {
	return &Category{
		item:      item{uid: "root", name: "All", created: when, modified: when},
		user:      u,
		children:  newCollection[*Category](),
		workitems: make(map[string]bool),
	}
}

// IsRoot reports whether this is the top of the category tree.
func (c *Category) IsRoot() bool { return c.parentCat == nil }

// Parent returns the parent category, or nil for the root.
func (c *Category) Parent() *Category { return c.parentCat }

// Children returns subcategories in insertion order.
func (c *Category) Children() []*Category { return c.children.values() }

// Child returns the subcategory with the given uid, or nil.
func (c *Category) Child(uid string) *Category {
	ch, _ := c.children.get(uid)
	return ch
}

// AddChild attaches a new subcategory.
func (c *Category) AddChild(uid, name string, when time.Time) *Category {
	child := &Category{
		item:      item{uid: uid, name: name, created: when, modified: when, parent: c},
		user:      c.user,
		parentCat: c,
		children:  newCollection[*Category](),
		workitems: make(map[string]bool),
	}
	c.children.add(uid, child)
	return child
}

// RemoveChild detaches the subcategory with the given uid.
func (c *Category) RemoveChild(uid string) { c.children.remove(uid) }

// Reparent moves this category under another node of the same tree. The
// root cannot be reparented, and a node cannot move under its own
// subtree. Filed workitems travel with the node.
func (c *Category) Reparent(to *Category, when time.Time) bool {
	if c.IsRoot() || to == nil || c.Find(to.uid) != nil {
		return false
	}
	c.parentCat.children.remove(c.uid)
	c.parentCat = to
	c.parent = to
	to.children.add(c.uid, c)
	c.modified = when
	return true
}

// Find searches the subtree for a category by uid.
func (c *Category) Find(uid string) *Category {
	if c.uid == uid {
		return c
	}
	for _, ch := range c.children.values() {
		if found := ch.Find(uid); found != nil {
			return found
		}
	}
	return nil
}

// FileWorkitem records a workitem under this category.
func (c *Category) FileWorkitem(uid string) { c.workitems[uid] = true }

// UnfileWorkitem removes a workitem from this category.
func (c *Category) UnfileWorkitem(uid string) { delete(c.workitems, uid) }

// WorkitemUIDs returns the uids filed directly under this category,
// sorted for deterministic snapshots.
func (c *Category) WorkitemUIDs() []string {
	out := make([]string, 0, len(c.workitems))
	for uid := range c.workitems {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}
