// Package tasks holds the background tasks that periodic schedules can fire and the
// beat scheduler that fires them.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownTask = errors.New("unknown task")

// Func runs one task and returns its human readable result.
type Func func(ctx context.Context) (string, error)

type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{tasks: map[string]Func{}}
}

func (r *Registry) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return errors.New("task name and func are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[name]; ok {
		return fmt.Errorf("task %q already registered", name)
	}
	r.tasks[name] = fn
	return nil
}

func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tasks[name]
	return fn, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Run(ctx context.Context, name string) (string, error) {
	fn, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return fn(ctx)
}
