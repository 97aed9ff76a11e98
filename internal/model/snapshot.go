package model

import "time"

// Snapshot is the serializable form of the entity tree. The cache layer
// encodes it with encoding/gob; the unexported live tree cannot be
// encoded directly, and the DTO doubles as a stable on-disk schema.
type Snapshot struct {
	Users []UserSnapshot
}

// UserSnapshot mirrors User.
type UserSnapshot struct {
	Identity   string
	Name       string
	System     bool
	Created    time.Time
	Modified   time.Time
	Backlogs   []BacklogSnapshot
	Categories []CategorySnapshot
}

// CategorySnapshot mirrors one non-root node of the category tree. The
// root is implicit; Categories holds its direct children.
type CategorySnapshot struct {
	UID       string
	Name      string
	Created   time.Time
	Modified  time.Time
	Workitems []string
	Children  []CategorySnapshot
}

// BacklogSnapshot mirrors Backlog.
type BacklogSnapshot struct {
	UID       string
	Name      string
	Created   time.Time
	Modified  time.Time
	Workitems []WorkitemSnapshot
}

// WorkitemSnapshot mirrors Workitem.
type WorkitemSnapshot struct {
	UID         string
	Name        string
	State       WorkitemState
	Created     time.Time
	Modified    time.Time
	WorkStarted time.Time
	WorkEnded   time.Time
	Pomodoros   []PomodoroSnapshot
}

// PomodoroSnapshot mirrors Pomodoro.
type PomodoroSnapshot struct {
	UID          string
	Type         PomodoroType
	State        PomodoroState
	WorkDuration time.Duration
	RestDuration time.Duration
	Created      time.Time
	Modified     time.Time
	WorkStarted  time.Time
	RestStarted  time.Time
	Completed    time.Time
}

// ToSnapshot converts the live tree into its serializable form. The
// system user is included so the round trip is exact.
func (t *Tenant) ToSnapshot() Snapshot {
	var snap Snapshot
	for _, u := range t.Users() {
		us := UserSnapshot{
			Identity: u.Identity(),
			Name:     u.Name(),
			System:   u.IsSystem(),
			Created:  u.CreateDate(),
			Modified: u.LastModified(),
		}
		for _, b := range u.Backlogs() {
			bs := BacklogSnapshot{
				UID:      b.UID(),
				Name:     b.Name(),
				Created:  b.CreateDate(),
				Modified: b.LastModified(),
			}
			for _, w := range b.Workitems() {
				ws := WorkitemSnapshot{
					UID:         w.UID(),
					Name:        w.Name(),
					State:       w.State(),
					Created:     w.CreateDate(),
					Modified:    w.LastModified(),
					WorkStarted: w.workStarted,
					WorkEnded:   w.workEnded,
				}
				for _, p := range w.Pomodoros() {
					ws.Pomodoros = append(ws.Pomodoros, PomodoroSnapshot{
						UID:          p.UID(),
						Type:         p.Type(),
						State:        p.State(),
						WorkDuration: p.workDuration,
						RestDuration: p.restDuration,
						Created:      p.CreateDate(),
						Modified:     p.LastModified(),
						WorkStarted:  p.workStarted,
						RestStarted:  p.restStarted,
						Completed:    p.completed,
					})
				}
				bs.Workitems = append(bs.Workitems, ws)
			}
			us.Backlogs = append(us.Backlogs, bs)
		}
		us.Categories = categoriesToSnapshot(u.Categories())
		snap.Users = append(snap.Users, us)
	}
	return snap
}

func categoriesToSnapshot(c *Category) []CategorySnapshot {
	var out []CategorySnapshot
	for _, ch := range c.Children() {
		out = append(out, CategorySnapshot{
			UID:       ch.UID(),
			Name:      ch.Name(),
			Created:   ch.CreateDate(),
			Modified:  ch.LastModified(),
			Workitems: ch.WorkitemUIDs(),
			Children:  categoriesToSnapshot(ch),
		})
	}
	return out
}

// FromSnapshot rebuilds a live tree from its serializable form. Tag
// indexes are rebuilt from workitem names.
func FromSnapshot(snap Snapshot, now time.Time) *Tenant {
	t := NewTenant(now)
	for _, us := range snap.Users {
		var u *User
		if us.System {
			u = t.User(AdminIdentity)
			u.name = us.Name
		} else {
			u = t.AddUser(us.Identity, us.Name, us.Created)
		}
		u.created = us.Created
		u.modified = us.Modified
		for _, bs := range us.Backlogs {
			b := u.AddBacklog(bs.UID, bs.Name, bs.Created)
			b.modified = bs.Modified
			for _, ws := range bs.Workitems {
				w := b.AddWorkitem(ws.UID, ws.Name, ws.Created)
				w.state = ws.State
				w.workStarted = ws.WorkStarted
				w.workEnded = ws.WorkEnded
				w.modified = ws.Modified
				for _, ps := range ws.Pomodoros {
					p := w.AddPomodoro(ps.UID, ps.Type, ps.WorkDuration, ps.RestDuration, ps.Created)
					p.state = ps.State
					p.workStarted = ps.WorkStarted
					p.restStarted = ps.RestStarted
					p.completed = ps.Completed
					p.modified = ps.Modified
				}
				for _, tag := range w.Tags() {
					tg, _ := u.EnsureTag(tag, ws.Created)
					tg.Add(w)
				}
			}
		}
		restoreCategories(u.Categories(), us.Categories)
	}
	return t
}

func restoreCategories(parent *Category, nodes []CategorySnapshot) {
	for _, cs := range nodes {
		c := parent.AddChild(cs.UID, cs.Name, cs.Created)
		c.modified = cs.Modified
		for _, uid := range cs.Workitems {
			c.FileWorkitem(uid)
		}
		restoreCategories(c, cs.Children)
	}
}
