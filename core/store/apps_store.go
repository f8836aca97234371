package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"scholarmis-apps/core/utils"
)

var ErrNotFound = errors.New("not found")

type AppsStore interface {
	GetOrCreate(ctx context.Context, app *App) (*App, bool, error)
	Create(ctx context.Context, app *App) (int64, error)
	Update(ctx context.Context, app *App) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*App, error)
	GetByName(ctx context.Context, name string) (*App, error)
	List(ctx context.Context, filter AppFilter) ([]App, int, error)
	ListDefaultApps(ctx context.Context) ([]App, error)
	ListPaidApps(ctx context.Context) ([]App, error)

	AddPermission(ctx context.Context, appID, permissionID int64) error
	SetPermissions(ctx context.Context, appID int64, permissionIDs []int64) error
	ListPermissions(ctx context.Context, appID int64) ([]Permission, error)
}

type appsStore struct {
	conn sqlConn
}

func NewAppsStore(db *sql.DB) AppsStore {
	return &appsStore{conn: newConn(db)}
}

const appColumns = `id, name, label, verbose_name, description, url, icon, is_active, is_default, is_service, created_at, updated_at`

var appOrderings = map[string]string{
	"id":           "id",
	"name":         "name",
	"label":        "label",
	"verbose_name": "verbose_name",
}

func (s *appsStore) GetOrCreate(ctx context.Context, app *App) (*App, bool, error) {
	now := utils.NowUTC()
	var id int64
	err := s.conn.queryRow(ctx, `
		INSERT INTO apps(name, label, verbose_name, description, url, icon, is_active, is_default, is_service, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(name) DO NOTHING
		RETURNING id`,
		app.Name, app.Label, app.VerboseName, nullString(app.Description), nullString(app.URL), nullString(app.Icon),
		boolToInt(app.IsActive), boolToInt(app.IsDefault), boolToInt(app.IsService), now, now).Scan(&id)
	if err == nil {
		created, err := s.Get(ctx, id)
		return created, true, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	existing, err := s.GetByName(ctx, app.Name)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, ErrNotFound
	}
	return existing, false, nil
}

func (s *appsStore) Create(ctx context.Context, app *App) (int64, error) {
	now := utils.NowUTC()
	var id int64
	err := s.conn.queryRow(ctx, `
		INSERT INTO apps(name, label, verbose_name, description, url, icon, is_active, is_default, is_service, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)
		RETURNING id`,
		app.Name, app.Label, app.VerboseName, nullString(app.Description), nullString(app.URL), nullString(app.Icon),
		boolToInt(app.IsActive), boolToInt(app.IsDefault), boolToInt(app.IsService), now, now).Scan(&id)
	if err != nil {
		return 0, err
	}
	app.ID = id
	app.CreatedAt = now
	app.UpdatedAt = now
	return id, nil
}

// Update never touches name: it is immutable once the row exists.
func (s *appsStore) Update(ctx context.Context, app *App) error {
	now := utils.NowUTC()
	res, err := s.conn.exec(ctx, `
		UPDATE apps
		SET label=?, verbose_name=?, description=?, url=?, icon=?, is_active=?, is_default=?, is_service=?, updated_at=?
		WHERE id=?`,
		app.Label, app.VerboseName, nullString(app.Description), nullString(app.URL), nullString(app.Icon),
		boolToInt(app.IsActive), boolToInt(app.IsDefault), boolToInt(app.IsService), now, app.ID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	app.UpdatedAt = now
	return nil
}

func (s *appsStore) Delete(ctx context.Context, id int64) error {
	res, err := s.conn.exec(ctx, `DELETE FROM apps WHERE id=?`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *appsStore) Get(ctx context.Context, id int64) (*App, error) {
	row := s.conn.queryRow(ctx, `SELECT `+appColumns+` FROM apps WHERE id=?`, id)
	app, err := scanApp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return app, err
}

func (s *appsStore) GetByName(ctx context.Context, name string) (*App, error) {
	row := s.conn.queryRow(ctx, `SELECT `+appColumns+` FROM apps WHERE name=?`, name)
	app, err := scanApp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return app, err
}

func (s *appsStore) List(ctx context.Context, filter AppFilter) ([]App, int, error) {
	var where []string
	var args []any
	if v := strings.TrimSpace(filter.Label); v != "" {
		where = append(where, `LOWER(label) LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(v))
	}
	if v := strings.TrimSpace(filter.VerboseName); v != "" {
		where = append(where, `LOWER(verbose_name) LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(v))
	}
	if v := strings.TrimSpace(filter.Search); v != "" {
		where = append(where, `LOWER(label) LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(v))
	}
	if filter.Active != nil {
		where = append(where, "is_active=?")
		args = append(args, boolToInt(*filter.Active))
	}
	if filter.IsDefault != nil {
		where = append(where, "is_default=?")
		args = append(args, boolToInt(*filter.IsDefault))
	}
	if filter.IsService != nil {
		where = append(where, "is_service=?")
		args = append(args, boolToInt(*filter.IsService))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	var total int
	if err := s.conn.queryRow(ctx, `SELECT COUNT(1) FROM apps`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + appColumns + ` FROM apps` + clause + ` ORDER BY ` + orderClause(filter.Ordering)
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}
	rows, err := s.conn.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := []App{}
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *app)
	}
	return items, total, rows.Err()
}

func (s *appsStore) ListDefaultApps(ctx context.Context) ([]App, error) {
	yes := true
	items, _, err := s.List(ctx, AppFilter{IsDefault: &yes})
	return items, err
}

func (s *appsStore) ListPaidApps(ctx context.Context) ([]App, error) {
	no := false
	items, _, err := s.List(ctx, AppFilter{IsDefault: &no, IsService: &no})
	return items, err
}

func (s *appsStore) AddPermission(ctx context.Context, appID, permissionID int64) error {
	_, err := s.conn.exec(ctx, `
		INSERT INTO app_permissions(app_id, permission_id) VALUES(?, ?)
		ON CONFLICT(app_id, permission_id) DO NOTHING`, appID, permissionID)
	return err
}

// SetPermissions replaces every permission attached to the app.
func (s *appsStore) SetPermissions(ctx context.Context, appID int64, permissionIDs []int64) error {
	tx, err := s.conn.begin(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.exec(ctx, `DELETE FROM app_permissions WHERE app_id=?`, appID); err != nil {
		_ = tx.rollback()
		return err
	}
	for _, id := range permissionIDs {
		if _, err := tx.exec(ctx, `
			INSERT INTO app_permissions(app_id, permission_id) VALUES(?, ?)
			ON CONFLICT(app_id, permission_id) DO NOTHING`, appID, id); err != nil {
			_ = tx.rollback()
			return err
		}
	}
	return tx.commit()
}

func (s *appsStore) ListPermissions(ctx context.Context, appID int64) ([]Permission, error) {
	rows, err := s.conn.query(ctx, `
		SELECT p.id, p.content_type_id, p.codename, p.name
		FROM permissions p
		JOIN app_permissions ap ON ap.permission_id=p.id
		WHERE ap.app_id=?
		ORDER BY p.codename`, appID)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApp(row rowScanner) (*App, error) {
	var app App
	var description, url, icon sql.NullString
	var active, isDefault, isService int
	if err := row.Scan(&app.ID, &app.Name, &app.Label, &app.VerboseName, &description, &url, &icon,
		&active, &isDefault, &isService, &app.CreatedAt, &app.UpdatedAt); err != nil {
		return nil, err
	}
	app.Description = stringPtr(description)
	app.URL = stringPtr(url)
	app.Icon = stringPtr(icon)
	app.IsActive = active == 1
	app.IsDefault = isDefault == 1
	app.IsService = isService == 1
	return &app, nil
}

func orderClause(ordering string) string {
	ordering = strings.TrimSpace(ordering)
	desc := strings.HasPrefix(ordering, "-")
	col, ok := appOrderings[strings.TrimPrefix(ordering, "-")]
	if !ok {
		return "name ASC, id ASC"
	}
	if desc {
		return col + " DESC, id DESC"
	}
	return col + " ASC, id ASC"
}
