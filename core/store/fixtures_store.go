package store

import (
	"context"
	"database/sql"
	"fmt"
)

// FixtureBatch is every row of one fixture file, already resolved to its table.
type FixtureBatch struct {
	Options  []OptionRecord
	Settings []AppSetting
}

func (b FixtureBatch) Len() int {
	return len(b.Options) + len(b.Settings)
}

type FixturesStore interface {
	// Apply writes the whole batch in one transaction; on error nothing is kept.
	Apply(ctx context.Context, batch FixtureBatch) error
}

type fixturesStore struct {
	conn sqlConn
}

func NewFixturesStore(db *sql.DB) FixturesStore {
	return &fixturesStore{conn: newConn(db)}
}

func (s *fixturesStore) Apply(ctx context.Context, batch FixtureBatch) error {
	tx, err := s.conn.begin(ctx)
	if err != nil {
		return err
	}
	for i := range batch.Options {
		rec := &batch.Options[i]
		if _, _, err := upsertOption(ctx, tx, rec); err != nil {
			_ = tx.rollback()
			return fmt.Errorf("%s %s=%s: %w", rec.Model, rec.LookupField, rec.LookupValue, err)
		}
	}
	for i := range batch.Settings {
		setting := &batch.Settings[i]
		if _, _, err := upsertSetting(ctx, tx, setting); err != nil {
			_ = tx.rollback()
			return fmt.Errorf("setting %s.%s: %w", setting.App, setting.Name, err)
		}
	}
	return tx.commit()
}
