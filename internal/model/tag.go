package model

import "time"

// Tag is an entry in a user's tag index, a secondary index over
// workitems keyed by the lowercase tag text.
type Tag struct {
	item
	user      *User
	workitems map[string]*Workitem
}

// Tag returns the user's tag with the given text, or nil.
func (u *User) Tag(text string) *Tag {
	t, _ := u.tags.get(text)
	return t
}

// Tags returns the user's tag index in insertion order.
func (u *User) Tags() []*Tag { return u.tags.values() }

// EnsureTag returns the tag with the given text, creating it if needed.
// The second return value reports whether the tag was created.
func (u *User) EnsureTag(text string, when time.Time) (*Tag, bool) {
	if t, ok := u.tags.get(text); ok {
		return t, false
	}
	t := &Tag{
		item:      item{uid: text, name: text, created: when, modified: when, parent: u},
		user:      u,
		workitems: make(map[string]*Workitem),
	}
	u.tags.add(text, t)
	return t, true
}

// DropTag removes a tag from the index.
func (u *User) DropTag(text string) { u.tags.remove(text) }

// Workitems returns the workitems carrying this tag.
func (t *Tag) Workitems() []*Workitem {
	out := make([]*Workitem, 0, len(t.workitems))
	for _, w := range t.workitems {
		out = append(out, w)
	}
	return out
}

// Add links a workitem to the tag.
func (t *Tag) Add(w *Workitem) { t.workitems[w.UID()] = w }

// Remove unlinks a workitem from the tag. Returns true when the tag no
// longer references any workitem.
func (t *Tag) Remove(w *Workitem) bool {
	delete(t.workitems, w.UID())
	return len(t.workitems) == 0
}

// Has reports whether the workitem carries this tag.
func (t *Tag) Has(uid string) bool {
	_, ok := t.workitems[uid]
	return ok
}
