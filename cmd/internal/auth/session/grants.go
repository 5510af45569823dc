package session

import (
	"slices"
	"strings"
)

// Grants is the permission set derived from a user's roles.
//
// It is computed once per user change and never edited in place.
// A nil *Grants answers false to every query.
type Grants struct {
	roles     []Role
	roleNames map[string]struct{}
	perms     map[string]struct{}
}

// NewGrants derives the grant set from roles. Duplicate role names keep the
// first occurrence; permissions are de-duplicated by their string form.
func NewGrants(roles []Role) *Grants {
	g := &Grants{
		roleNames: make(map[string]struct{}, len(roles)),
		perms:     make(map[string]struct{}),
	}
	for _, r := range roles {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}
		if _, dup := g.roleNames[name]; dup {
			continue
		}
		g.roleNames[name] = struct{}{}
		g.roles = append(g.roles, Role{Name: name, Permissions: slices.Clone(r.Permissions)})
		for _, p := range r.Permissions {
			if p.Resource == "" || p.Action == "" {
				continue
			}
			g.perms[p.String()] = struct{}{}
		}
	}
	return g
}

// Roles returns a copy of the ordered role list.
func (g *Grants) Roles() []Role {
	if g == nil {
		return nil
	}
	return slices.Clone(g.roles)
}

// RoleNames returns role names in order.
func (g *Grants) RoleNames() []string {
	if g == nil {
		return nil
	}
	out := make([]string, 0, len(g.roles))
	for _, r := range g.roles {
		out = append(out, r.Name)
	}
	return out
}

// Permissions returns the sorted permission strings.
func (g *Grants) Permissions() []string {
	if g == nil {
		return nil
	}
	out := make([]string, 0, len(g.perms))
	for p := range g.perms {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// HasPermission reports whether perm ("resource:action") is granted.
func (g *Grants) HasPermission(perm string) bool {
	if g == nil {
		return false
	}
	_, ok := g.perms[strings.TrimSpace(perm)]
	return ok
}

// HasAnyPermission reports whether at least one of perms is granted.
func (g *Grants) HasAnyPermission(perms ...string) bool {
	for _, p := range perms {
		if g.HasPermission(p) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every one of perms is granted.
// An empty list is satisfied once a session exists.
func (g *Grants) HasAllPermissions(perms ...string) bool {
	if g == nil {
		return false
	}
	for _, p := range perms {
		if !g.HasPermission(p) {
			return false
		}
	}
	return true
}

// HasRole reports whether the user holds the named role.
func (g *Grants) HasRole(name string) bool {
	if g == nil {
		return false
	}
	_, ok := g.roleNames[strings.TrimSpace(name)]
	return ok
}

// HasAnyRole reports whether the user holds at least one of names.
func (g *Grants) HasAnyRole(names ...string) bool {
	for _, n := range names {
		if g.HasRole(n) {
			return true
		}
	}
	return false
}
