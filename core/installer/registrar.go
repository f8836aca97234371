package installer

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"

	"scholarmis-apps/core/registry"
	"scholarmis-apps/core/store"
)

// IconURL resolves the icon of a sub-application under the static URL prefix.
func IconURL(staticURL, defaultIcon, label, icon string) string {
	rel := strings.TrimLeft(defaultIcon, "/")
	if icon = strings.TrimSpace(icon); icon != "" {
		rel = path.Join(label, icon)
	}
	prefix := strings.TrimSpace(staticURL)
	if prefix == "" {
		prefix = "/static/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + rel
}

// ValidURL returns the trimmed URL when it is an absolute http(s) URL or a
// site-relative path.
func ValidURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "//") || strings.IndexFunc(raw, unicode.IsSpace) >= 0 {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if strings.HasPrefix(raw, "/") {
		return raw, u.Scheme == "" && u.Host == ""
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return "", false
	}
	return raw, true
}

func (in *Installer) appRecord(app *registry.SubApp) *store.App {
	rec := &store.App{
		Name:        app.Name,
		Label:       app.Label,
		VerboseName: app.VerboseName,
		IsActive:    true,
		IsDefault:   app.IsDefault,
		IsService:   app.IsService,
	}
	description := app.Description
	if description == "" {
		description = app.VerboseName
	}
	rec.Description = &description
	icon := IconURL(in.cfg.StaticURL, in.cfg.DefaultIcon, app.Label, app.Icon)
	rec.Icon = &icon
	if u, ok := ValidURL(app.URL); ok {
		rec.URL = &u
	} else if strings.TrimSpace(app.URL) != "" {
		in.logger.Warnf("installer: ignoring invalid url %q for %s", app.URL, app.Name)
	}
	return rec
}

// registerApp get-or-creates the App row; an existing row is left as it is.
func (in *Installer) registerApp(ctx context.Context, app *registry.SubApp) StepResult {
	row, created, err := in.stores.Apps.GetOrCreate(ctx, in.appRecord(app))
	if err != nil {
		return failed(StepRegisterApp, persistenceError(app.Name, err))
	}
	res := StepResult{Name: StepRegisterApp}
	if created {
		res.Created = 1
		res.Message = fmt.Sprintf("app %s created with id %d", row.Name, row.ID)
	} else {
		res.Message = fmt.Sprintf("app %s already registered", row.Name)
	}
	return res.finish(nil)
}
