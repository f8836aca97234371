package store

import (
	"encoding/json"
	"time"
)

type App struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Label       string    `json:"label"`
	VerboseName string    `json:"verbose_name"`
	Description *string   `json:"description"`
	URL         *string   `json:"url"`
	Icon        *string   `json:"icon"`
	IsActive    bool      `json:"is_active"`
	IsDefault   bool      `json:"is_default"`
	IsService   bool      `json:"is_service"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (a *App) String() string {
	if a.IsService || a.IsDefault {
		return a.VerboseName + " (Default)"
	}
	return a.VerboseName + " (Paid)"
}

func (a *App) Activate() *App {
	a.IsActive = true
	return a
}

func (a *App) Deactivate() *App {
	a.IsActive = false
	return a
}

func (a *App) SetService() *App {
	a.IsService = true
	return a
}

func (a *App) UnsetService() *App {
	a.IsService = false
	return a
}

type AppFilter struct {
	Label       string
	VerboseName string
	// Search matches label only, as the REST search box does.
	Search    string
	Active    *bool
	IsDefault *bool
	IsService *bool
	// Ordering is a column name with an optional "-" prefix.
	Ordering string
	Limit    int
	Offset   int
}

type ContentType struct {
	ID       int64  `json:"id"`
	AppLabel string `json:"app_label"`
	Model    string `json:"model"`
}

type Permission struct {
	ID            int64  `json:"id"`
	ContentTypeID int64  `json:"content_type_id"`
	Codename      string `json:"codename"`
	Name          string `json:"name"`
}

type AppSetting struct {
	ID        int64           `json:"id"`
	App       string          `json:"app"`
	Name      string          `json:"name"`
	Label     *string         `json:"label"`
	Value     json.RawMessage `json:"value"`
	Default   json.RawMessage `json:"default"`
	Type      string          `json:"type"`
	Options   json.RawMessage `json:"options"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type OptionRecord struct {
	ID          int64          `json:"id"`
	AppLabel    string         `json:"app_label"`
	Model       string         `json:"model"`
	LookupField string         `json:"lookup_field"`
	LookupValue string         `json:"lookup_value"`
	Slug        *string        `json:"slug,omitempty"`
	Fields      map[string]any `json:"fields"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

const PeriodSeconds = "seconds"

type CrontabSchedule struct {
	ID          int64  `json:"id"`
	Minute      string `json:"minute"`
	Hour        string `json:"hour"`
	DayOfMonth  string `json:"day_of_month"`
	MonthOfYear string `json:"month_of_year"`
	DayOfWeek   string `json:"day_of_week"`
}

// Spec renders the schedule back into a standard five-field expression.
func (c CrontabSchedule) Spec() string {
	return c.Minute + " " + c.Hour + " " + c.DayOfMonth + " " + c.MonthOfYear + " " + c.DayOfWeek
}

type IntervalSchedule struct {
	ID     int64  `json:"id"`
	Every  int    `json:"every"`
	Period string `json:"period"`
}

func (i IntervalSchedule) Duration() time.Duration {
	return time.Duration(i.Every) * time.Second
}

type PeriodicTask struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	Task          string            `json:"task"`
	CrontabID     *int64            `json:"crontab_id,omitempty"`
	IntervalID    *int64            `json:"interval_id,omitempty"`
	Crontab       *CrontabSchedule  `json:"crontab,omitempty"`
	Interval      *IntervalSchedule `json:"interval,omitempty"`
	Enabled       bool              `json:"enabled"`
	LastRunAt     *time.Time        `json:"last_run_at,omitempty"`
	TotalRunCount int               `json:"total_run_count"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

const (
	StepStatusOK      = "ok"
	StepStatusSkipped = "skipped"
	StepStatusFailed  = "failed"
)

type InstallRun struct {
	ID         string        `json:"id"`
	AppName    string        `json:"app_name"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Steps      []InstallStep `json:"steps"`
}

type InstallStep struct {
	Position  int    `json:"position"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

type AuditRecord struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}
