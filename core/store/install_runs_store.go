package store

import (
	"context"
	"database/sql"
	"errors"
)

type InstallRunsStore interface {
	// Save writes the run header and its steps in a single transaction.
	Save(ctx context.Context, run *InstallRun) error
	Get(ctx context.Context, id string) (*InstallRun, error)
	List(ctx context.Context, appName string, limit int) ([]InstallRun, error)
}

type installRunsStore struct {
	conn sqlConn
}

func NewInstallRunsStore(db *sql.DB) InstallRunsStore {
	return &installRunsStore{conn: newConn(db)}
}

func (s *installRunsStore) Save(ctx context.Context, run *InstallRun) error {
	if run == nil || run.ID == "" {
		return errors.New("install run id is required")
	}
	tx, err := s.conn.begin(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.exec(ctx, `
		INSERT INTO install_runs(id, app_name, started_at, finished_at) VALUES(?,?,?,?)`,
		run.ID, run.AppName, run.StartedAt.UTC(), run.FinishedAt.UTC()); err != nil {
		_ = tx.rollback()
		return err
	}
	for _, step := range run.Steps {
		if _, err := tx.exec(ctx, `
			INSERT INTO install_steps(run_id, position, name, status, error_kind, message)
			VALUES(?,?,?,?,?,?)`,
			run.ID, step.Position, step.Name, step.Status, step.ErrorKind, step.Message); err != nil {
			_ = tx.rollback()
			return err
		}
	}
	return tx.commit()
}

func (s *installRunsStore) Get(ctx context.Context, id string) (*InstallRun, error) {
	var run InstallRun
	err := s.conn.queryRow(ctx, `SELECT id, app_name, started_at, finished_at FROM install_runs WHERE id=?`, id).
		Scan(&run.ID, &run.AppName, &run.StartedAt, &run.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	steps, err := s.steps(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	return &run, nil
}

func (s *installRunsStore) List(ctx context.Context, appName string, limit int) ([]InstallRun, error) {
	query := `SELECT id, app_name, started_at, finished_at FROM install_runs`
	var args []any
	if appName != "" {
		query += ` WHERE app_name=?`
		args = append(args, appName)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.conn.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	runs := []InstallRun{}
	for rows.Next() {
		var run InstallRun
		if err := rows.Scan(&run.ID, &run.AppName, &run.StartedAt, &run.FinishedAt); err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// sqlite runs with a single connection, so steps are loaded after the cursor closes.
	for i := range runs {
		steps, err := s.steps(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Steps = steps
	}
	return runs, nil
}

func (s *installRunsStore) steps(ctx context.Context, runID string) ([]InstallStep, error) {
	rows, err := s.conn.query(ctx, `
		SELECT position, name, status, error_kind, message
		FROM install_steps WHERE run_id=? ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	steps := []InstallStep{}
	for rows.Next() {
		var step InstallStep
		if err := rows.Scan(&step.Position, &step.Name, &step.Status, &step.ErrorKind, &step.Message); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}
