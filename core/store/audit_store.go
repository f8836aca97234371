package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"scholarmis-apps/core/utils"
)

// AuditFilter narrows the audit log. Section matches the action prefix before the first
// dot ("apps" matches "apps.install"); Text is a case-insensitive substring of action,
// username or details.
type AuditFilter struct {
	Action   string
	Section  string
	Username string
	Text     string
	Since    time.Time
	Until    time.Time
	Limit    int
}

type AuditStore interface {
	Log(ctx context.Context, username, action, details string) error
	List(ctx context.Context, filter AuditFilter) ([]AuditRecord, error)
}

type auditStore struct {
	conn sqlConn
}

func NewAuditStore(db *sql.DB) AuditStore {
	return &auditStore{conn: newConn(db)}
}

func (s *auditStore) Log(ctx context.Context, username, action, details string) error {
	_, err := s.conn.exec(ctx, `
		INSERT INTO audit_log(username, action, details, created_at)
		VALUES(?,?,?,?)`, username, action, details, utils.NowUTC())
	return err
}

func (s *auditStore) List(ctx context.Context, filter AuditFilter) ([]AuditRecord, error) {
	query := `SELECT id, username, action, details, created_at FROM audit_log WHERE 1=1`
	var args []any
	if filter.Action != "" {
		query += ` AND action=?`
		args = append(args, filter.Action)
	}
	if v := strings.TrimSpace(filter.Section); v != "" {
		query += ` AND (LOWER(action)=? OR LOWER(action) LIKE ? ESCAPE '\')`
		args = append(args, strings.ToLower(v), strings.TrimPrefix(likePattern(v+"."), "%"))
	}
	if filter.Username != "" {
		query += ` AND username=?`
		args = append(args, filter.Username)
	}
	if v := strings.TrimSpace(filter.Text); v != "" {
		query += ` AND (LOWER(action) LIKE ? ESCAPE '\' OR LOWER(username) LIKE ? ESCAPE '\' OR LOWER(COALESCE(details, '')) LIKE ? ESCAPE '\')`
		p := likePattern(v)
		args = append(args, p, p, p)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at>=?`
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += ` AND created_at<=?`
		args = append(args, filter.Until.UTC())
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.conn.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []AuditRecord{}
	for rows.Next() {
		var rec AuditRecord
		var details sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Username, &rec.Action, &details, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Details = details.String
		items = append(items, rec)
	}
	return items, rows.Err()
}
