package store

import (
	"context"
	"database/sql"
	"errors"
)

type PermissionsStore interface {
	GetOrCreateContentType(ctx context.Context, appLabel, model string) (*ContentType, error)
	// UpsertPermission keys on (content type, codename) and refreshes the display name.
	UpsertPermission(ctx context.Context, contentTypeID int64, codename, name string) (*Permission, error)
	ListByContentType(ctx context.Context, contentTypeID int64) ([]Permission, error)
	Get(ctx context.Context, id int64) (*Permission, error)
}

type permissionsStore struct {
	conn sqlConn
}

func NewPermissionsStore(db *sql.DB) PermissionsStore {
	return &permissionsStore{conn: newConn(db)}
}

func (s *permissionsStore) GetOrCreateContentType(ctx context.Context, appLabel, model string) (*ContentType, error) {
	ct := ContentType{AppLabel: appLabel, Model: model}
	err := s.conn.queryRow(ctx, `
		INSERT INTO content_types(app_label, model) VALUES(?, ?)
		ON CONFLICT(app_label, model) DO NOTHING
		RETURNING id`, appLabel, model).Scan(&ct.ID)
	if err == nil {
		return &ct, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err := s.conn.queryRow(ctx, `SELECT id FROM content_types WHERE app_label=? AND model=?`, appLabel, model).Scan(&ct.ID); err != nil {
		return nil, err
	}
	return &ct, nil
}

func (s *permissionsStore) UpsertPermission(ctx context.Context, contentTypeID int64, codename, name string) (*Permission, error) {
	p := Permission{ContentTypeID: contentTypeID, Codename: codename, Name: name}
	err := s.conn.queryRow(ctx, `
		INSERT INTO permissions(content_type_id, codename, name) VALUES(?, ?, ?)
		ON CONFLICT(content_type_id, codename) DO UPDATE SET name=excluded.name
		RETURNING id`, contentTypeID, codename, name).Scan(&p.ID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *permissionsStore) ListByContentType(ctx context.Context, contentTypeID int64) ([]Permission, error) {
	rows, err := s.conn.query(ctx, `
		SELECT id, content_type_id, codename, name
		FROM permissions WHERE content_type_id=? ORDER BY codename`, contentTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.ContentTypeID, &p.Codename, &p.Name); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *permissionsStore) Get(ctx context.Context, id int64) (*Permission, error) {
	var p Permission
	err := s.conn.queryRow(ctx, `SELECT id, content_type_id, codename, name FROM permissions WHERE id=?`, id).
		Scan(&p.ID, &p.ContentTypeID, &p.Codename, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
