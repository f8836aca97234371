// Package registry holds the installed sub-applications and the option models
// each of them declares.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"scholarmis-apps/config"
)

var ErrUnknownModel = errors.New("unknown model")

type Model struct {
	Name   string
	Fields []string
	fields map[string]struct{}
}

func NewModel(name string, fields ...string) Model {
	m := Model{Name: strings.TrimSpace(name), fields: map[string]struct{}{}}
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := m.fields[f]; ok {
			continue
		}
		m.fields[f] = struct{}{}
		m.Fields = append(m.Fields, f)
	}
	return m
}

func (m Model) HasField(name string) bool {
	_, ok := m.fields[name]
	return ok
}

func (m Model) HasSlug() bool {
	return m.HasField("slug")
}

// SubApp is one pluggable sub-application registered with the host project.
type SubApp struct {
	Name        string
	Label       string
	VerboseName string
	Path        string
	Description string
	Icon        string
	URL         string
	IsDefault   bool
	IsService   bool
	models      map[string]Model
}

func (a *SubApp) Model(name string) (Model, error) {
	if a == nil {
		return Model{}, ErrUnknownModel
	}
	if m, ok := a.models[name]; ok {
		return m, nil
	}
	// fixture files carry lowercased model names
	for key, m := range a.models {
		if strings.EqualFold(key, name) {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("%w: %s.%s", ErrUnknownModel, a.Label, name)
}

func (a *SubApp) Models() []Model {
	if a == nil {
		return nil
	}
	out := make([]Model, 0, len(a.models))
	for _, m := range a.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (a *SubApp) AddModel(m Model) {
	if a.models == nil {
		a.models = map[string]Model{}
	}
	a.models[m.Name] = m
}

// HomeURL is the landing path of the sub-application, empty when it has no label.
func HomeURL(label string) string {
	label = strings.Trim(strings.TrimSpace(label), "/")
	if label == "" {
		return ""
	}
	return "/" + label + "/"
}

type Registry struct {
	apps    []*SubApp
	byName  map[string]*SubApp
	byLabel map[string]*SubApp
}

func New(apps ...*SubApp) (*Registry, error) {
	r := &Registry{byName: map[string]*SubApp{}, byLabel: map[string]*SubApp{}}
	for _, a := range apps {
		if err := r.add(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func FromConfig(cfgs []config.SubAppConfig) (*Registry, error) {
	apps := make([]*SubApp, 0, len(cfgs))
	for _, c := range cfgs {
		app := &SubApp{
			Name:        strings.TrimSpace(c.Name),
			Label:       strings.TrimSpace(c.Label),
			VerboseName: strings.TrimSpace(c.VerboseName),
			Path:        strings.TrimSpace(c.Path),
			Description: strings.TrimSpace(c.Description),
			Icon:        strings.TrimSpace(c.Icon),
			URL:         strings.TrimSpace(c.URL),
			IsDefault:   true,
			IsService:   c.IsService,
		}
		if c.IsDefault != nil {
			app.IsDefault = *c.IsDefault
		}
		for _, m := range c.Models {
			app.AddModel(NewModel(m.Name, m.Fields...))
		}
		apps = append(apps, app)
	}
	return New(apps...)
}

func (r *Registry) add(a *SubApp) error {
	if a == nil || strings.TrimSpace(a.Name) == "" {
		return errors.New("registry: app name is required")
	}
	if a.Label == "" {
		a.Label = defaultLabel(a.Name)
	}
	if a.VerboseName == "" {
		a.VerboseName = defaultVerboseName(a.Label)
	}
	if a.Description == "" {
		a.Description = a.VerboseName
	}
	if _, ok := r.byName[a.Name]; ok {
		return fmt.Errorf("registry: duplicate app %q", a.Name)
	}
	if _, ok := r.byLabel[a.Label]; ok {
		return fmt.Errorf("registry: duplicate label %q", a.Label)
	}
	r.apps = append(r.apps, a)
	r.byName[a.Name] = a
	r.byLabel[a.Label] = a
	return nil
}

func (r *Registry) All() []*SubApp {
	if r == nil {
		return nil
	}
	out := make([]*SubApp, len(r.apps))
	copy(out, r.apps)
	return out
}

func (r *Registry) Get(name string) (*SubApp, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.byName[name]
	return a, ok
}

func (r *Registry) ByLabel(label string) (*SubApp, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.byLabel[label]
	return a, ok
}

// ResolvePath finds the sub-application owning the first segment of an URL path.
func (r *Registry) ResolvePath(path string) (*SubApp, bool) {
	seg := strings.Trim(strings.TrimSpace(path), "/")
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	if seg == "" {
		return nil, false
	}
	return r.ByLabel(seg)
}

// FindModel looks up "<app_label>.<Model>" across every registered app.
func (r *Registry) FindModel(qualified string) (*SubApp, Model, error) {
	label, name, ok := strings.Cut(strings.TrimSpace(qualified), ".")
	if !ok || label == "" || name == "" {
		return nil, Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, qualified)
	}
	app, found := r.ByLabel(label)
	if !found {
		return nil, Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, qualified)
	}
	m, err := app.Model(name)
	if err != nil {
		return nil, Model{}, err
	}
	return app, m, nil
}

func defaultLabel(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func defaultVerboseName(label string) string {
	words := strings.Fields(strings.ReplaceAll(label, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
