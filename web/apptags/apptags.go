// Package apptags exposes the current sub-application to html/template views.
// The sub-application is the registry entry whose label matches the first path segment.
package apptags

import (
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"scholarmis-apps/core/registry"
)

type Tags struct {
	registry *registry.Registry
}

func New(reg *registry.Registry) *Tags {
	return &Tags{registry: reg}
}

// FuncMap registers the helpers under their template names.
func (t *Tags) FuncMap() template.FuncMap {
	return template.FuncMap{
		"get_item":         GetItem,
		"app_verbose_name": t.VerboseName,
		"app_icon":         t.Icon,
		"app_url":          t.URL,
		"app_filter_url":   FilterURL,
	}
}

func (t *Tags) current(r *http.Request) (*registry.SubApp, bool) {
	if t == nil || r == nil || r.URL == nil {
		return nil, false
	}
	return t.registry.ResolvePath(r.URL.Path)
}

// GetItem indexes any map with a string-convertible key; missing keys give nil.
func GetItem(dict any, key any) any {
	v := reflect.ValueOf(dict)
	if v.Kind() != reflect.Map || key == nil {
		return nil
	}
	k := reflect.ValueOf(key)
	if !k.Type().AssignableTo(v.Type().Key()) {
		if !k.Type().ConvertibleTo(v.Type().Key()) {
			return nil
		}
		k = k.Convert(v.Type().Key())
	}
	item := v.MapIndex(k)
	if !item.IsValid() {
		return nil
	}
	return item.Interface()
}

func (t *Tags) VerboseName(r *http.Request) string {
	if app, ok := t.current(r); ok {
		return app.VerboseName
	}
	return ""
}

func (t *Tags) Icon(r *http.Request) string {
	if app, ok := t.current(r); ok {
		return app.Icon
	}
	return ""
}

// URL builds "/<label>/<view>/<args>/" inside the current sub-application. The view
// "home" is the landing page.
func (t *Tags) URL(r *http.Request, view string, args ...any) string {
	app, ok := t.current(r)
	if !ok {
		return ""
	}
	home := registry.HomeURL(app.Label)
	view = strings.Trim(strings.TrimSpace(view), "/")
	if view == "" || view == "home" {
		return home
	}
	parts := []string{strings.TrimSuffix(home, "/"), url.PathEscape(view)}
	for _, a := range args {
		s := strings.TrimSpace(toString(a))
		if s != "" {
			parts = append(parts, url.PathEscape(s))
		}
	}
	return strings.Join(parts, "/") + "/"
}

// FilterURL is the current path without its query string.
func FilterURL(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}
	return r.URL.EscapedPath()
}

// Metadata is the per-request template context: app_name and app_home, both nil
// outside a sub-application.
func (t *Tags) Metadata(r *http.Request) map[string]any {
	out := map[string]any{"app_name": nil, "app_home": nil}
	if app, ok := t.current(r); ok {
		out["app_name"] = app.VerboseName
		out["app_home"] = registry.HomeURL(app.Label)
	}
	return out
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
