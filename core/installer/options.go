package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"scholarmis-apps/core/registry"
	"scholarmis-apps/core/store"
)

// lookupFields are tried in order to find the natural key of an option record.
var lookupFields = []string{"name", "code"}

// planOptionRecord turns one raw record into an option row for model. ok is false
// when the record has no usable lookup field; the row then carries no lookup.
func planOptionRecord(appLabel string, model registry.Model, raw map[string]any) (store.OptionRecord, bool) {
	filtered := make(map[string]any, len(raw))
	for k, v := range raw {
		if model.HasField(k) {
			filtered[k] = v
		}
	}
	var slug *string
	if model.HasSlug() {
		if name, ok := raw["name"]; ok && name != nil {
			s := optionSlug(fmt.Sprint(name))
			slug = &s
		} else if s, ok := filtered["slug"].(string); ok {
			slug = &s
		}
	}
	delete(filtered, "slug")
	rec := store.OptionRecord{AppLabel: appLabel, Model: model.Name, Slug: slug, Fields: filtered}
	for _, field := range lookupFields {
		v, ok := filtered[field]
		if !ok || v == nil {
			continue
		}
		rec.LookupField = field
		rec.LookupValue = lookupString(v)
		return rec, true
	}
	return rec, false
}

func lookupString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

// planOptions validates an options document. Models are processed in name order; a
// problem with one model is reported without dropping the others.
func planOptions(app *registry.SubApp, path string, doc any) ([]store.OptionRecord, []error) {
	byModel, ok := doc.(map[string]any)
	if !ok {
		return nil, []error{validationError(path, "options must be an object keyed by model name, got %T", doc)}
	}
	names := make([]string, 0, len(byModel))
	for name := range byModel {
		names = append(names, name)
	}
	sort.Strings(names)
	var records []store.OptionRecord
	var errs []error
	for _, name := range names {
		model, err := app.Model(name)
		if err != nil {
			errs = append(errs, newConfigError(KindValidation, path, err))
			continue
		}
		list, ok := byModel[name].([]any)
		if !ok {
			errs = append(errs, validationError(path, "model %s: records must be a list", name))
			continue
		}
		for i, item := range list {
			raw, ok := item.(map[string]any)
			if !ok {
				errs = append(errs, validationError(path, "model %s: record %d is not an object", name, i))
				continue
			}
			if rec, ok := planOptionRecord(app.Label, model, raw); ok {
				records = append(records, rec)
			}
		}
	}
	return records, errs
}

func (in *Installer) loadOptions(ctx context.Context, app *registry.SubApp) StepResult {
	path := configPath(app.Path, "config", "options.json")
	var doc any
	found, err := in.reader().Read(path, &doc)
	if err != nil {
		return failed(StepOptions, err)
	}
	if !found || doc == nil {
		return skipped(StepOptions, "no options file")
	}
	records, errs := planOptions(app, path, doc)
	res := StepResult{Name: StepOptions}
	for i := range records {
		created, changed, err := in.stores.Options.Upsert(ctx, &records[i])
		if err != nil {
			errs = append(errs, persistenceError(path, fmt.Errorf("%s %s=%s: %w", records[i].Model, records[i].LookupField, records[i].LookupValue, err)))
			continue
		}
		res.count(created, changed)
	}
	return res.finish(errs)
}
