package installer

import (
	"context"
	"fmt"

	"scholarmis-apps/core/registry"
)

type permissionSpec struct {
	Codename string
	Name     string
}

// planPermissions accepts only a list where every entry has string codename and name;
// anything else rejects the whole document.
func planPermissions(path string, doc any) ([]permissionSpec, error) {
	list, ok := doc.([]any)
	if !ok {
		return nil, validationError(path, "permissions must be a list, got %T", doc)
	}
	out := make([]permissionSpec, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, validationError(path, "permission %d is not an object", i)
		}
		codename, okCode := entry["codename"].(string)
		name, okName := entry["name"].(string)
		if !okCode || !okName {
			return nil, validationError(path, "permission %d needs codename and name", i)
		}
		out = append(out, permissionSpec{Codename: codename, Name: name})
	}
	return out, nil
}

func (in *Installer) loadPermissions(ctx context.Context, app *registry.SubApp) StepResult {
	path := configPath(app.Path, "config", "permissions.json")
	var doc any
	found, err := in.reader().Read(path, &doc)
	if err != nil {
		return failed(StepPermissions, err)
	}
	if !found || doc == nil {
		return skipped(StepPermissions, "no permissions file")
	}
	specs, err := planPermissions(path, doc)
	if err != nil {
		return failed(StepPermissions, err)
	}
	row, err := in.stores.Apps.GetByName(ctx, app.Name)
	if err != nil {
		return failed(StepPermissions, persistenceError(path, err))
	}
	if row == nil {
		return failed(StepPermissions, persistenceError(path, fmt.Errorf("app %s is not registered", app.Name)))
	}
	ct, err := in.stores.Permissions.GetOrCreateContentType(ctx, app.Label, app.VerboseName)
	if err != nil {
		return failed(StepPermissions, persistenceError(path, err))
	}
	res := StepResult{Name: StepPermissions}
	var errs []error
	for _, spec := range specs {
		perm, err := in.stores.Permissions.UpsertPermission(ctx, ct.ID, spec.Codename, spec.Name)
		if err != nil {
			errs = append(errs, persistenceError(path, fmt.Errorf("permission %s: %w", spec.Codename, err)))
			continue
		}
		if err := in.stores.Apps.AddPermission(ctx, row.ID, perm.ID); err != nil {
			errs = append(errs, persistenceError(path, fmt.Errorf("attach %s: %w", spec.Codename, err)))
			continue
		}
		res.Updated++
	}
	if len(errs) == 0 {
		res.Message = fmt.Sprintf("%d permissions attached", res.Updated)
	}
	return res.finish(errs)
}
