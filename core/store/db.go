package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"scholarmis-apps/config"
	"scholarmis-apps/core/utils"

	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// NewDB opens postgres through pgx, or sqlite when DBPath is set (tests only).
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if strings.TrimSpace(cfg.DBPath) != "" && (driver == "" || driver == "sqlite") {
		return openSQLite(cfg.DBPath, logger)
	}
	if driver != "" && driver != "postgres" && driver != "pgx" {
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
	db, err := sql.Open("pgx", cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if logger != nil {
		logger.Printf("postgres connection established")
	}
	return db, nil
}

func openSQLite(path string, logger *utils.Logger) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if logger != nil {
		logger.Debugf("sqlite database opened at %s", path)
	}
	return db, nil
}

func isPostgresDB(db *sql.DB) bool {
	if db == nil {
		return false
	}
	_, ok := db.Driver().(*stdlib.Driver)
	return ok
}

func isTestRuntime() bool {
	return strings.HasSuffix(filepath.Base(os.Args[0]), ".test")
}

// sqlConn rewrites "?" placeholders into "$n" for postgres so every store can
// keep a single query text.
type sqlConn struct {
	db *sql.DB
	pg bool
}

func newConn(db *sql.DB) sqlConn {
	return sqlConn{db: db, pg: isPostgresDB(db)}
}

func (c sqlConn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, rebind(c.pg, query), args...)
}

func (c sqlConn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, rebind(c.pg, query), args...)
}

func (c sqlConn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, rebind(c.pg, query), args...)
}

func (c sqlConn) begin(ctx context.Context) (sqlTx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return sqlTx{}, err
	}
	return sqlTx{tx: tx, pg: c.pg}, nil
}

type sqlTx struct {
	tx *sql.Tx
	pg bool
}

func (t sqlTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, rebind(t.pg, query), args...)
}

func (t sqlTx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, rebind(t.pg, query), args...)
}

// querier is the part of sqlConn and sqlTx shared by upserts that also run inside
// a fixture transaction.
type querier interface {
	exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	queryRow(ctx context.Context, query string, args ...any) *sql.Row
}

func (t sqlTx) commit() error   { return t.tx.Commit() }
func (t sqlTx) rollback() error { return t.tx.Rollback() }

func rebind(pg bool, query string) string {
	if !pg || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// likePattern escapes user input for a "LIKE ? ESCAPE '\'" substring match.
func likePattern(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(v)) + "%"
}
