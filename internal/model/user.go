package model

import "time"

// User owns an ordered set of backlogs, a category tree, a tag index and
// a derived timer view. Its uid is the user identity (an email-like
// string), unique within the tenant.
type User struct {
	item
	tenant     *Tenant
	system     bool
	backlogs   collection[*Backlog]
	tags       collection[*Tag]
	categories *Category
}

func newUser(tenant *Tenant, identity, name string, when time.Time, system bool) *User {
	u := &User{
		item:     item{uid: identity, name: name, created: when, modified: when, parent: tenant},
		tenant:   tenant,
		system:   system,
		backlogs: newCollection[*Backlog](),
		tags:     newCollection[*Tag](),
	}
	u.categories = newRootCategory(u, when)
	return u
}

// Identity returns the user identity; an alias for UID.
func (u *User) Identity() string { return u.uid }

// IsSystem reports whether this is the built-in system user.
func (u *User) IsSystem() bool { return u.system }

// Tenant returns the owning tenant.
func (u *User) Tenant() *Tenant { return u.tenant }

// Backlog returns the backlog with the given uid, or nil.
func (u *User) Backlog(uid string) *Backlog {
	b, _ := u.backlogs.get(uid)
	return b
}

// HasBacklog reports whether a backlog with the given uid exists.
func (u *User) HasBacklog(uid string) bool { return u.backlogs.has(uid) }

// Backlogs returns the user's backlogs in insertion order.
func (u *User) Backlogs() []*Backlog { return u.backlogs.values() }

// AddBacklog attaches a new backlog to the user.
func (u *User) AddBacklog(uid, name string, when time.Time) *Backlog {
	b := newBacklog(u, uid, name, when)
	u.backlogs.add(uid, b)
	return b
}

// RemoveBacklog detaches the backlog with the given uid.
func (u *User) RemoveBacklog(uid string) { u.backlogs.remove(uid) }

// MoveBacklog repositions a backlog at the given index.
func (u *User) MoveBacklog(uid string, index int) { u.backlogs.move(uid, index) }

// Workitem finds a workitem by uid across all of the user's backlogs.
func (u *User) Workitem(uid string) *Workitem {
	for _, b := range u.backlogs.values() {
		if w := b.Workitem(uid); w != nil {
			return w
		}
	}
	return nil
}

// RunningWorkitem returns the workitem holding a running pomodoro, if
// any. At most one exists per user; auto-seal enforces that.
func (u *User) RunningWorkitem() *Workitem {
	for _, b := range u.backlogs.values() {
		for _, w := range b.Workitems() {
			if w.RunningPomodoro() != nil {
				return w
			}
		}
	}
	return nil
}

// Categories returns the root of the user's category tree.
func (u *User) Categories() *Category { return u.categories }

// Timer returns a snapshot of the user's timer state at the given time.
func (u *User) Timer(when time.Time) TimerState {
	w := u.RunningWorkitem()
	if w == nil {
		return TimerState{}
	}
	p := w.RunningPomodoro()
	return TimerState{
		Workitem:        w,
		Pomodoro:        p,
		NextStateChange: p.nextStateChange(),
		Remaining:       p.RemainingTotal(when),
	}
}

// TimerState is a derived view over the user's running pomodoro. A zero
// value means the timer is idle.
type TimerState struct {
	Workitem        *Workitem
	Pomodoro        *Pomodoro
	NextStateChange time.Time
	Remaining       time.Duration
}

// Ticking reports whether a pomodoro is currently in work or rest.
func (ts TimerState) Ticking() bool { return ts.Pomodoro != nil }
