package rbac

import (
	"context"
	"strings"
)

// grant is a parsed "resource:action" permission. Either half may be "*".
type grant struct {
	resource string
	action   string
}

func parseGrant(p string) grant {
	if p == "*" {
		return grant{resource: "*", action: "*"}
	}
	res, act, ok := strings.Cut(p, ":")
	if !ok {
		return grant{resource: res, action: "*"}
	}
	return grant{resource: res, action: act}
}

func (g grant) allows(perm string) bool {
	res, act, _ := strings.Cut(perm, ":")
	if g.resource != "*" && g.resource != res {
		return false
	}
	return g.action == "*" || g.action == act
}

// Checker answers permission questions for roles in a grade policy.
type Checker struct {
	grants map[string][]grant
}

func NewChecker(rp map[string][]string) *Checker {
	if rp == nil {
		rp = RolePermissions
	}
	c := &Checker{grants: make(map[string][]grant, len(rp))}
	for role, perms := range rp {
		for _, p := range perms {
			c.grants[role] = append(c.grants[role], parseGrant(p))
		}
	}
	return c
}

func (c *Checker) Has(role, perm string) bool {
	for _, g := range c.grants[role] {
		if g.allows(perm) {
			return true
		}
	}
	return false
}

func (c *Checker) Any(role string, perms ...string) bool {
	for _, p := range perms {
		if c.Has(role, p) {
			return true
		}
	}
	return false
}

func (c *Checker) All(role string, perms ...string) bool {
	for _, p := range perms {
		if !c.Has(role, p) {
			return false
		}
	}
	return len(perms) > 0
}

type ctxKey struct{}

// WithRole stores the caller's role; JWTMiddleware sets it from token claims.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, ctxKey{}, role)
}

func RoleFromContext(ctx context.Context) string {
	s, _ := ctx.Value(ctxKey{}).(string)
	return s
}
