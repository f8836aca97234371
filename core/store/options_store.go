package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"scholarmis-apps/core/utils"
)

type OptionsStore interface {
	// Upsert matches on (app label, model, lookup field, lookup value). Existing rows keep
	// fields that the record does not mention.
	Upsert(ctx context.Context, rec *OptionRecord) (created bool, changed bool, err error)
	Get(ctx context.Context, appLabel, model, lookupField, lookupValue string) (*OptionRecord, error)
	List(ctx context.Context, appLabel, model string) ([]OptionRecord, error)
	Count(ctx context.Context, appLabel, model string) (int, error)
}

type optionsStore struct {
	conn sqlConn
}

func NewOptionsStore(db *sql.DB) OptionsStore {
	return &optionsStore{conn: newConn(db)}
}

func (s *optionsStore) Upsert(ctx context.Context, rec *OptionRecord) (bool, bool, error) {
	return upsertOption(ctx, s.conn, rec)
}

func upsertOption(ctx context.Context, q querier, rec *OptionRecord) (bool, bool, error) {
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	existing, err := getOption(ctx, q, rec.AppLabel, rec.Model, rec.LookupField, rec.LookupValue)
	if err != nil {
		return false, false, err
	}
	now := utils.NowUTC()
	if existing == nil {
		payload, err := json.Marshal(rec.Fields)
		if err != nil {
			return false, false, fmt.Errorf("encode option fields: %w", err)
		}
		if err := q.queryRow(ctx, `
			INSERT INTO option_records(app_label, model, lookup_field, lookup_value, slug, fields, updated_at)
			VALUES(?,?,?,?,?,?,?)
			RETURNING id`,
			rec.AppLabel, rec.Model, rec.LookupField, rec.LookupValue, nullString(rec.Slug), string(payload), now).Scan(&rec.ID); err != nil {
			return false, false, err
		}
		rec.UpdatedAt = now
		return true, true, nil
	}
	merged := make(map[string]any, len(existing.Fields)+len(rec.Fields))
	for k, v := range existing.Fields {
		merged[k] = v
	}
	for k, v := range rec.Fields {
		merged[k] = v
	}
	slug := existing.Slug
	if rec.Slug != nil {
		slug = rec.Slug
	}
	before, err := json.Marshal(existing.Fields)
	if err != nil {
		return false, false, err
	}
	after, err := json.Marshal(merged)
	if err != nil {
		return false, false, fmt.Errorf("encode option fields: %w", err)
	}
	rec.ID = existing.ID
	rec.Fields = merged
	rec.Slug = slug
	if bytes.Equal(before, after) && ptrEqual(existing.Slug, slug) {
		rec.UpdatedAt = existing.UpdatedAt
		return false, false, nil
	}
	if _, err := q.exec(ctx, `UPDATE option_records SET slug=?, fields=?, updated_at=? WHERE id=?`,
		nullString(slug), string(after), now, existing.ID); err != nil {
		return false, false, err
	}
	rec.UpdatedAt = now
	return false, true, nil
}

func (s *optionsStore) Get(ctx context.Context, appLabel, model, lookupField, lookupValue string) (*OptionRecord, error) {
	return getOption(ctx, s.conn, appLabel, model, lookupField, lookupValue)
}

func getOption(ctx context.Context, q querier, appLabel, model, lookupField, lookupValue string) (*OptionRecord, error) {
	row := q.queryRow(ctx, `
		SELECT id, app_label, model, lookup_field, lookup_value, slug, fields, updated_at
		FROM option_records
		WHERE app_label=? AND model=? AND lookup_field=? AND lookup_value=?`,
		appLabel, model, lookupField, lookupValue)
	rec, err := scanOption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *optionsStore) List(ctx context.Context, appLabel, model string) ([]OptionRecord, error) {
	rows, err := s.conn.query(ctx, `
		SELECT id, app_label, model, lookup_field, lookup_value, slug, fields, updated_at
		FROM option_records WHERE app_label=? AND model=? ORDER BY id`, appLabel, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OptionRecord{}
	for rows.Next() {
		rec, err := scanOption(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *rec)
	}
	return items, rows.Err()
}

func (s *optionsStore) Count(ctx context.Context, appLabel, model string) (int, error) {
	var n int
	err := s.conn.queryRow(ctx, `SELECT COUNT(1) FROM option_records WHERE app_label=? AND model=?`, appLabel, model).Scan(&n)
	return n, err
}

func scanOption(row rowScanner) (*OptionRecord, error) {
	var rec OptionRecord
	var slug sql.NullString
	var fields string
	if err := row.Scan(&rec.ID, &rec.AppLabel, &rec.Model, &rec.LookupField, &rec.LookupValue, &slug, &fields, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Slug = stringPtr(slug)
	rec.Fields = map[string]any{}
	if fields != "" {
		if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
			return nil, fmt.Errorf("decode option fields %d: %w", rec.ID, err)
		}
	}
	return &rec, nil
}
