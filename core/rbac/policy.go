// Package rbac maps roles to permissions with a casbin enforcer.
package rbac

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Permission is "<object>.<action>", for example "apps.read".
type Permission string

const (
	AppsRead       Permission = "apps.read"
	AppsWrite      Permission = "apps.write"
	AdminAppsRead  Permission = "admin.read"
	AdminAppsWrite Permission = "admin.write"
	InstallRun     Permission = "installs.write"
	InstallView    Permission = "installs.read"
	TasksRead      Permission = "tasks.read"
	TasksRun       Permission = "tasks.write"
	AuditRead      Permission = "audit.read"
)

const (
	RoleViewer = "viewer"
	RoleAdmin  = "admin"
)

type Role struct {
	Name        string
	Permissions []Permission
	// Inherits lists roles whose permissions this role also has.
	Inherits []string
}

func DefaultRoles() []Role {
	return []Role{
		{Name: RoleViewer, Permissions: []Permission{AppsRead}},
		{Name: RoleAdmin, Permissions: []Permission{
			AppsWrite, AdminAppsRead, AdminAppsWrite, InstallRun, InstallView, TasksRead, TasksRun, AuditRead,
		}, Inherits: []string{RoleViewer}},
	}
}

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && (r.act == p.act || p.act == "*")
`

type Policy struct {
	enforcer *casbin.SyncedEnforcer
}

func NewPolicy(roles []Role) (*Policy, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("rbac model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("rbac enforcer: %w", err)
	}
	for _, role := range roles {
		for _, perm := range role.Permissions {
			obj, act := perm.split()
			if _, err := e.AddPolicy(role.Name, obj, act); err != nil {
				return nil, fmt.Errorf("rbac policy %s %s: %w", role.Name, perm, err)
			}
		}
		for _, parent := range role.Inherits {
			if _, err := e.AddGroupingPolicy(role.Name, parent); err != nil {
				return nil, fmt.Errorf("rbac role %s: %w", role.Name, err)
			}
		}
	}
	return &Policy{enforcer: e}, nil
}

// MustPolicy panics on an invalid role table; meant for static defaults.
func MustPolicy(roles []Role) *Policy {
	p, err := NewPolicy(roles)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Permission) split() (string, string) {
	obj, act, ok := strings.Cut(string(p), ".")
	if !ok {
		return string(p), "*"
	}
	return obj, act
}

// Allowed reports whether any of roles grants perm.
func (p *Policy) Allowed(roles []string, perm Permission) bool {
	if p == nil || p.enforcer == nil {
		return false
	}
	obj, act := perm.split()
	for _, role := range roles {
		ok, err := p.enforcer.Enforce(strings.TrimSpace(role), obj, act)
		if err == nil && ok {
			return true
		}
	}
	return false
}

func (p *Policy) Permissions(role string) []Permission {
	if p == nil || p.enforcer == nil {
		return nil
	}
	rules, err := p.enforcer.GetImplicitPermissionsForUser(role)
	if err != nil {
		return nil
	}
	out := make([]Permission, 0, len(rules))
	for _, rule := range rules {
		if len(rule) >= 3 {
			out = append(out, Permission(rule[1]+"."+rule[2]))
		}
	}
	return out
}
