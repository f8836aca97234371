// Package tenancy resolves the tenant schema of a request.
package tenancy

import (
	"context"
	"net"
	"net/http"
	"strings"

	"scholarmis-apps/config"
)

type contextKey struct{}

type Resolver struct {
	public string
	header string
}

func NewResolver(cfg config.TenancyConfig) *Resolver {
	public := strings.ToLower(strings.TrimSpace(cfg.PublicSchema))
	if public == "" {
		public = "public"
	}
	header := strings.TrimSpace(cfg.Header)
	if header == "" {
		header = "X-Tenant"
	}
	return &Resolver{public: public, header: header}
}

func (r *Resolver) Public() string {
	return r.public
}

// Tenant reads the tenant header first, then the first label of a multi-label host.
// IP hosts, localhost and bare hostnames belong to the public tenant.
func (r *Resolver) Tenant(req *http.Request) string {
	if v := strings.ToLower(strings.TrimSpace(req.Header.Get(r.header))); v != "" {
		return v
	}
	host := req.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if host == "" || host == "localhost" || net.ParseIP(host) != nil {
		return r.public
	}
	label, rest, ok := strings.Cut(host, ".")
	if !ok || label == "" || label == "www" || !strings.Contains(rest, ".") {
		return r.public
	}
	return label
}

func (r *Resolver) IsPublic(req *http.Request) bool {
	return r.Tenant(req) == r.public
}

func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := context.WithValue(req.Context(), contextKey{}, r.Tenant(req))
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func FromContext(ctx context.Context) string {
	v, _ := ctx.Value(contextKey{}).(string)
	return v
}
