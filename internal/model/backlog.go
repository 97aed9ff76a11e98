package model

import "time"

// Backlog owns an ordered set of workitems. Its start date is the
// earliest moment any of its workitems started work.
type Backlog struct {
	item
	user      *User
	workitems collection[*Workitem]
}

func newBacklog(user *User, uid, name string, when time.Time) *Backlog {
	return &Backlog{
		item:      item{uid: uid, name: name, created: when, modified: when, parent: user},
		user:      user,
		workitems: newCollection[*Workitem](),
	}
}

// Owner returns the owning user.
func (b *Backlog) Owner() *User { return b.user }

// Workitem returns the workitem with the given uid, or nil.
func (b *Backlog) Workitem(uid string) *Workitem {
	w, _ := b.workitems.get(uid)
	return w
}

// HasWorkitem reports whether a workitem with the given uid exists.
func (b *Backlog) HasWorkitem(uid string) bool { return b.workitems.has(uid) }

// Workitems returns the backlog's workitems in insertion order.
func (b *Backlog) Workitems() []*Workitem { return b.workitems.values() }

// AddWorkitem attaches a new workitem to the backlog.
func (b *Backlog) AddWorkitem(uid, name string, when time.Time) *Workitem {
	w := newWorkitem(b, uid, name, when)
	b.workitems.add(uid, w)
	return w
}

// RemoveWorkitem detaches the workitem with the given uid.
func (b *Backlog) RemoveWorkitem(uid string) { b.workitems.remove(uid) }

// MoveWorkitem repositions a workitem at the given index.
func (b *Backlog) MoveWorkitem(uid string, index int) { b.workitems.move(uid, index) }

// StartDate returns the earliest work start across the backlog's
// workitems, or the zero time if none has started.
func (b *Backlog) StartDate() time.Time {
	var earliest time.Time
	for _, w := range b.workitems.values() {
		if s := w.WorkStarted(); !s.IsZero() && (earliest.IsZero() || s.Before(earliest)) {
			earliest = s
		}
	}
	return earliest
}
