package routegroups

import (
	"net/http"

	"scholarmis-apps/core/rbac"
)

// Guards wraps handlers with authentication and a permission check.
type Guards struct {
	WithToken         func(http.HandlerFunc) http.HandlerFunc
	RequirePermission func(rbac.Permission) func(http.HandlerFunc) http.HandlerFunc
	PublicTenantOnly  func(http.HandlerFunc) http.HandlerFunc
}

func (g Guards) TokenPerm(perm rbac.Permission, h http.HandlerFunc) http.HandlerFunc {
	return g.WithToken(g.RequirePermission(perm)(h))
}

// PublicTokenPerm hides the route outside the public tenant before any auth check.
func (g Guards) PublicTokenPerm(perm rbac.Permission, h http.HandlerFunc) http.HandlerFunc {
	guarded := g.TokenPerm(perm, h)
	if g.PublicTenantOnly == nil {
		return guarded
	}
	return g.PublicTenantOnly(guarded)
}
