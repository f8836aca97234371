package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"scholarmis-apps/core/utils"
)

type SettingsStore interface {
	// Upsert creates or updates the (app, name) row; it reports whether a row was created
	// and whether anything was written at all.
	Upsert(ctx context.Context, setting *AppSetting) (created bool, changed bool, err error)
	Get(ctx context.Context, app, name string) (*AppSetting, error)
	ListByApp(ctx context.Context, app string) ([]AppSetting, error)
	Count(ctx context.Context) (int, error)
}

type settingsStore struct {
	conn sqlConn
}

func NewSettingsStore(db *sql.DB) SettingsStore {
	return &settingsStore{conn: newConn(db)}
}

func (s *settingsStore) Upsert(ctx context.Context, setting *AppSetting) (bool, bool, error) {
	return upsertSetting(ctx, s.conn, setting)
}

func upsertSetting(ctx context.Context, q querier, setting *AppSetting) (bool, bool, error) {
	normalizeSetting(setting)
	existing, err := getSetting(ctx, q, setting.App, setting.Name)
	if err != nil {
		return false, false, err
	}
	now := utils.NowUTC()
	if existing == nil {
		err := q.queryRow(ctx, `
			INSERT INTO app_settings(app, name, label, value, default_value, type, options, updated_at)
			VALUES(?,?,?,?,?,?,?,?)
			ON CONFLICT(app, name) DO UPDATE SET
				label=excluded.label, value=excluded.value, default_value=excluded.default_value,
				type=excluded.type, options=excluded.options, updated_at=excluded.updated_at
			RETURNING id`,
			setting.App, setting.Name, nullString(setting.Label), rawToNull(setting.Value), rawToNull(setting.Default),
			setting.Type, string(setting.Options), now).Scan(&setting.ID)
		if err != nil {
			return false, false, err
		}
		setting.UpdatedAt = now
		return true, true, nil
	}
	setting.ID = existing.ID
	if sameSetting(existing, setting) {
		setting.UpdatedAt = existing.UpdatedAt
		return false, false, nil
	}
	if _, err := q.exec(ctx, `
		UPDATE app_settings
		SET label=?, value=?, default_value=?, type=?, options=?, updated_at=?
		WHERE id=?`,
		nullString(setting.Label), rawToNull(setting.Value), rawToNull(setting.Default),
		setting.Type, string(setting.Options), now, existing.ID); err != nil {
		return false, false, err
	}
	setting.UpdatedAt = now
	return false, true, nil
}

func (s *settingsStore) Get(ctx context.Context, app, name string) (*AppSetting, error) {
	return getSetting(ctx, s.conn, app, name)
}

func getSetting(ctx context.Context, q querier, app, name string) (*AppSetting, error) {
	row := q.queryRow(ctx, `
		SELECT id, app, name, label, value, default_value, type, options, updated_at
		FROM app_settings WHERE app=? AND name=?`, app, name)
	setting, err := scanSetting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return setting, err
}

func (s *settingsStore) ListByApp(ctx context.Context, app string) ([]AppSetting, error) {
	rows, err := s.conn.query(ctx, `
		SELECT id, app, name, label, value, default_value, type, options, updated_at
		FROM app_settings WHERE app=? ORDER BY name`, app)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []AppSetting{}
	for rows.Next() {
		setting, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *setting)
	}
	return items, rows.Err()
}

func (s *settingsStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.conn.queryRow(ctx, `SELECT COUNT(1) FROM app_settings`).Scan(&n)
	return n, err
}

func scanSetting(row rowScanner) (*AppSetting, error) {
	var setting AppSetting
	var label, value, def sql.NullString
	var options string
	if err := row.Scan(&setting.ID, &setting.App, &setting.Name, &label, &value, &def, &setting.Type, &options, &setting.UpdatedAt); err != nil {
		return nil, err
	}
	setting.Label = stringPtr(label)
	setting.Value = nullToRaw(value)
	setting.Default = nullToRaw(def)
	setting.Options = json.RawMessage(options)
	return &setting, nil
}

func normalizeSetting(setting *AppSetting) {
	if setting.Type == "" {
		setting.Type = "string"
	}
	if len(bytes.TrimSpace(setting.Options)) == 0 || bytes.Equal(bytes.TrimSpace(setting.Options), []byte("null")) {
		setting.Options = json.RawMessage("{}")
	}
	setting.Value = compactRaw(setting.Value)
	setting.Default = compactRaw(setting.Default)
	setting.Options = compactRaw(setting.Options)
}

func sameSetting(a, b *AppSetting) bool {
	return ptrEqual(a.Label, b.Label) &&
		bytes.Equal(compactRaw(a.Value), compactRaw(b.Value)) &&
		bytes.Equal(compactRaw(a.Default), compactRaw(b.Default)) &&
		a.Type == b.Type &&
		bytes.Equal(compactRaw(a.Options), compactRaw(b.Options))
}

func ptrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func compactRaw(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return json.RawMessage(trimmed)
	}
	return json.RawMessage(buf.Bytes())
}

func rawToNull(raw json.RawMessage) sql.NullString {
	raw = compactRaw(raw)
	if raw == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullToRaw(v sql.NullString) json.RawMessage {
	if !v.Valid {
		return nil
	}
	return json.RawMessage(v.String)
}
