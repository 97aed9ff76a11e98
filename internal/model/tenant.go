package model

import "time"

// AdminIdentity is the built-in system user. It exists on every tenant,
// is the only identity allowed to manage users, and is excluded from
// export and merge.
const AdminIdentity = "admin@local.host"

// Tenant is the root of the entity tree. It maps user identities to
// users in insertion order and has no parent.
type Tenant struct {
	item
	users collection[*User]
}

// NewTenant creates a tenant pre-populated with the system user.
func NewTenant(now time.Time) *Tenant {
	t := &Tenant{
		item:  item{uid: "0", name: "Flowkeeper", created: now, modified: now},
		users: newCollection[*User](),
	}
	admin := newUser(t, AdminIdentity, "System", now, true)
	t.users.add(AdminIdentity, admin)
	return t
}

// User returns the user with the given identity, or nil.
func (t *Tenant) User(identity string) *User {
	u, _ := t.users.get(identity)
	return u
}

// HasUser reports whether a user with the given identity exists.
func (t *Tenant) HasUser(identity string) bool { return t.users.has(identity) }

// Users returns all users in insertion order, the system user included.
func (t *Tenant) Users() []*User { return t.users.values() }

// AddUser attaches a new non-system user to the tenant.
func (t *Tenant) AddUser(identity, name string, when time.Time) *User {
	u := newUser(t, identity, name, when, false)
	t.users.add(identity, u)
	return u
}

// RemoveUser detaches the user with the given identity.
func (t *Tenant) RemoveUser(identity string) { t.users.remove(identity) }
