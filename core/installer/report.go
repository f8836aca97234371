package installer

import (
	"errors"
	"fmt"
	"time"

	"scholarmis-apps/core/store"
)

const (
	StepRegisterApp = "register_app"
	StepOptions     = "load_options"
	StepPermissions = "load_permissions"
	StepFixtures    = "load_fixtures"
	StepSettings    = "load_settings"
	StepTasks       = "load_tasks"
)

// StepResult is the outcome of one installer step. Err joins every problem the step
// met; a failed step never stops the steps after it.
type StepResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

func (r StepResult) Kind() ErrorKind {
	return KindOf(r.Err)
}

func (r *StepResult) count(created, changed bool) {
	switch {
	case created:
		r.Created++
	case changed:
		r.Updated++
	}
}

func (r StepResult) finish(errs []error) StepResult {
	if len(errs) > 0 {
		r.Status = store.StepStatusFailed
		r.Err = errors.Join(errs...)
		r.Message = r.Err.Error()
		return r
	}
	r.Status = store.StepStatusOK
	if r.Message == "" {
		r.Message = fmt.Sprintf("created=%d updated=%d", r.Created, r.Updated)
	}
	return r
}

func failed(name string, err error) StepResult {
	return StepResult{Name: name, Status: store.StepStatusFailed, Err: err, Message: err.Error()}
}

func skipped(name, message string) StepResult {
	return StepResult{Name: name, Status: store.StepStatusSkipped, Message: message}
}

type Report struct {
	RunID      string       `json:"run_id"`
	App        string       `json:"app"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Steps      []StepResult `json:"steps"`
}

func (r *Report) OK() bool {
	for _, s := range r.Steps {
		if s.Status == store.StepStatusFailed {
			return false
		}
	}
	return true
}

func (r *Report) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

func (r *Report) Err() error {
	var errs []error
	for _, s := range r.Steps {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, s.Err))
		}
	}
	return errors.Join(errs...)
}

func (r *Report) run() *store.InstallRun {
	run := &store.InstallRun{
		ID:         r.RunID,
		AppName:    r.App,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	for i, s := range r.Steps {
		run.Steps = append(run.Steps, store.InstallStep{
			Position:  i + 1,
			Name:      s.Name,
			Status:    s.Status,
			ErrorKind: string(s.Kind()),
			Message:   s.Message,
		})
	}
	return run
}
