package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"scholarmis-apps/core/utils"
)

type PeriodicTasksStore interface {
	GetOrCreateCrontab(ctx context.Context, c CrontabSchedule) (*CrontabSchedule, error)
	GetOrCreateInterval(ctx context.Context, every int, period string) (*IntervalSchedule, error)
	// Upsert keys on task name and stores exactly one schedule reference.
	Upsert(ctx context.Context, task *PeriodicTask) (created bool, changed bool, err error)
	Get(ctx context.Context, name string) (*PeriodicTask, error)
	List(ctx context.Context) ([]PeriodicTask, error)
	SetEnabled(ctx context.Context, name string, enabled bool) error
	MarkRun(ctx context.Context, name string, at time.Time) error
}

type periodicTasksStore struct {
	conn sqlConn
}

func NewPeriodicTasksStore(db *sql.DB) PeriodicTasksStore {
	return &periodicTasksStore{conn: newConn(db)}
}

func (s *periodicTasksStore) GetOrCreateCrontab(ctx context.Context, c CrontabSchedule) (*CrontabSchedule, error) {
	out := c
	err := s.conn.queryRow(ctx, `
		INSERT INTO crontab_schedules(minute, hour, day_of_month, month_of_year, day_of_week)
		VALUES(?,?,?,?,?)
		ON CONFLICT(minute, hour, day_of_month, month_of_year, day_of_week) DO NOTHING
		RETURNING id`, c.Minute, c.Hour, c.DayOfMonth, c.MonthOfYear, c.DayOfWeek).Scan(&out.ID)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err := s.conn.queryRow(ctx, `
		SELECT id FROM crontab_schedules
		WHERE minute=? AND hour=? AND day_of_month=? AND month_of_year=? AND day_of_week=?`,
		c.Minute, c.Hour, c.DayOfMonth, c.MonthOfYear, c.DayOfWeek).Scan(&out.ID); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *periodicTasksStore) GetOrCreateInterval(ctx context.Context, every int, period string) (*IntervalSchedule, error) {
	out := IntervalSchedule{Every: every, Period: period}
	err := s.conn.queryRow(ctx, `
		INSERT INTO interval_schedules(every, period) VALUES(?, ?)
		ON CONFLICT(every, period) DO NOTHING
		RETURNING id`, every, period).Scan(&out.ID)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err := s.conn.queryRow(ctx, `SELECT id FROM interval_schedules WHERE every=? AND period=?`, every, period).Scan(&out.ID); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *periodicTasksStore) Upsert(ctx context.Context, task *PeriodicTask) (bool, bool, error) {
	if task.CrontabID != nil && task.IntervalID != nil {
		return false, false, errors.New("periodic task needs exactly one schedule")
	}
	existing, err := s.Get(ctx, task.Name)
	if err != nil {
		return false, false, err
	}
	now := utils.NowUTC()
	if existing == nil {
		if err := s.conn.queryRow(ctx, `
			INSERT INTO periodic_tasks(name, task, crontab_id, interval_id, enabled, total_run_count, updated_at)
			VALUES(?,?,?,?,1,0,?)
			RETURNING id`,
			task.Name, task.Task, nullInt64(task.CrontabID), nullInt64(task.IntervalID), now).Scan(&task.ID); err != nil {
			return false, false, err
		}
		task.Enabled = true
		task.UpdatedAt = now
		return true, true, nil
	}
	task.ID = existing.ID
	task.Enabled = existing.Enabled
	task.LastRunAt = existing.LastRunAt
	task.TotalRunCount = existing.TotalRunCount
	if existing.Task == task.Task && int64PtrEqual(existing.CrontabID, task.CrontabID) && int64PtrEqual(existing.IntervalID, task.IntervalID) {
		task.UpdatedAt = existing.UpdatedAt
		return false, false, nil
	}
	if _, err := s.conn.exec(ctx, `
		UPDATE periodic_tasks SET task=?, crontab_id=?, interval_id=?, updated_at=? WHERE id=?`,
		task.Task, nullInt64(task.CrontabID), nullInt64(task.IntervalID), now, existing.ID); err != nil {
		return false, false, err
	}
	task.UpdatedAt = now
	return false, true, nil
}

const periodicTaskSelect = `
	SELECT t.id, t.name, t.task, t.crontab_id, t.interval_id, t.enabled, t.last_run_at, t.total_run_count, t.updated_at,
		c.minute, c.hour, c.day_of_month, c.month_of_year, c.day_of_week,
		i.every, i.period
	FROM periodic_tasks t
	LEFT JOIN crontab_schedules c ON c.id=t.crontab_id
	LEFT JOIN interval_schedules i ON i.id=t.interval_id`

func (s *periodicTasksStore) Get(ctx context.Context, name string) (*PeriodicTask, error) {
	row := s.conn.queryRow(ctx, periodicTaskSelect+` WHERE t.name=?`, name)
	task, err := scanPeriodicTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

func (s *periodicTasksStore) List(ctx context.Context) ([]PeriodicTask, error) {
	rows, err := s.conn.query(ctx, periodicTaskSelect+` ORDER BY t.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []PeriodicTask{}
	for rows.Next() {
		task, err := scanPeriodicTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *task)
	}
	return items, rows.Err()
}

func (s *periodicTasksStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.conn.exec(ctx, `UPDATE periodic_tasks SET enabled=?, updated_at=? WHERE name=?`, boolToInt(enabled), utils.NowUTC(), name)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *periodicTasksStore) MarkRun(ctx context.Context, name string, at time.Time) error {
	_, err := s.conn.exec(ctx, `
		UPDATE periodic_tasks SET last_run_at=?, total_run_count=total_run_count+1 WHERE name=?`, at.UTC(), name)
	return err
}

func scanPeriodicTask(row rowScanner) (*PeriodicTask, error) {
	var task PeriodicTask
	var crontabID, intervalID sql.NullInt64
	var enabled int
	var lastRun sql.NullTime
	var minute, hour, dom, month, dow, period sql.NullString
	var every sql.NullInt64
	if err := row.Scan(&task.ID, &task.Name, &task.Task, &crontabID, &intervalID, &enabled, &lastRun, &task.TotalRunCount, &task.UpdatedAt,
		&minute, &hour, &dom, &month, &dow, &every, &period); err != nil {
		return nil, err
	}
	task.CrontabID = int64Ptr(crontabID)
	task.IntervalID = int64Ptr(intervalID)
	task.Enabled = enabled == 1
	if lastRun.Valid {
		t := lastRun.Time
		task.LastRunAt = &t
	}
	if task.CrontabID != nil && minute.Valid {
		task.Crontab = &CrontabSchedule{
			ID:          *task.CrontabID,
			Minute:      minute.String,
			Hour:        hour.String,
			DayOfMonth:  dom.String,
			MonthOfYear: month.String,
			DayOfWeek:   dow.String,
		}
	}
	if task.IntervalID != nil && every.Valid {
		task.Interval = &IntervalSchedule{ID: *task.IntervalID, Every: int(every.Int64), Period: period.String}
	}
	return &task, nil
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
