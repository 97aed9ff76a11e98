// Package model defines the entity tree the engine replays strategies
// against: Tenant → User → Backlog → Workitem → Pomodoro, plus the
// Category and Tag side indexes.
//
// Ownership is exclusive and strictly downward. Children keep a plain
// back-pointer to their parent for timestamp propagation only; they never
// own it. All collections preserve insertion order, and uid uniqueness is
// enforced per direct parent.
package model

import (
	"time"

	"github.com/google/uuid"
)

// NewUID returns a fresh entity uid.
func NewUID() string {
	return uuid.NewString()
}

// item carries the fields shared by every entity in the tree.
type item struct {
	uid      string
	name     string
	created  time.Time
	modified time.Time
	parent   toucher
}

// toucher is implemented by every entity that participates in
// last-modified propagation.
type toucher interface {
	Touch(when time.Time)
}

// UID returns the entity uid. Uniqueness is guaranteed only within the
// entity's direct parent.
func (it *item) UID() string { return it.uid }

// Name returns the display name.
func (it *item) Name() string { return it.name }

// SetName replaces the display name without touching timestamps; callers
// are expected to Touch afterwards.
func (it *item) SetName(name string) { it.name = name }

// CreateDate returns the creation timestamp recorded by the strategy that
// created this entity.
func (it *item) CreateDate() time.Time { return it.created }

// LastModified returns the last modification timestamp. It never
// decreases, and every mutation of a descendant propagates here.
func (it *item) LastModified() time.Time { return it.modified }

// Touch records a modification at the given time and propagates it to
// every ancestor. Retroactive strategies (auto-seal in the past) may pass
// a time earlier than the current value; those do not rewind it.
func (it *item) Touch(when time.Time) {
	if when.After(it.modified) {
		it.modified = when
	}
	if it.parent != nil {
		it.parent.Touch(when)
	}
}

// collection is an insertion-ordered uid-keyed container.
type collection[T any] struct {
	order []string
	byUID map[string]T
}

func newCollection[T any]() collection[T] {
	return collection[T]{byUID: make(map[string]T)}
}

func (c *collection[T]) add(uid string, v T) {
	if _, ok := c.byUID[uid]; !ok {
		c.order = append(c.order, uid)
	}
	c.byUID[uid] = v
}

func (c *collection[T]) remove(uid string) {
	if _, ok := c.byUID[uid]; !ok {
		return
	}
	delete(c.byUID, uid)
	for i, u := range c.order {
		if u == uid {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *collection[T]) get(uid string) (T, bool) {
	v, ok := c.byUID[uid]
	return v, ok
}

func (c *collection[T]) has(uid string) bool {
	_, ok := c.byUID[uid]
	return ok
}

func (c *collection[T]) len() int { return len(c.order) }

// values returns children in insertion order. The slice is a copy; the
// caller may mutate the collection while iterating it.
func (c *collection[T]) values() []T {
	out := make([]T, 0, len(c.order))
	for _, uid := range c.order {
		out = append(out, c.byUID[uid])
	}
	return out
}

// move repositions a child at the given index, clamping to bounds.
func (c *collection[T]) move(uid string, index int) {
	if _, ok := c.byUID[uid]; !ok {
		return
	}
	for i, u := range c.order {
		if u == uid {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if index < 0 {
		index = 0
	}
	if index > len(c.order) {
		index = len(c.order)
	}
	c.order = append(c.order[:index], append([]string{uid}, c.order[index:]...)...)
}
