// Package sqlitestore keeps boards in a single SQLite file for local
// development. It implements the same contract as the Table Storage backend.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"prism-board/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS categories (
	owner_id TEXT NOT NULL,
	id TEXT NOT NULL,
	title TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT '',
	ord INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (owner_id, id)
);

CREATE TABLE IF NOT EXISTS tasks (
	owner_id TEXT NOT NULL,
	id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category_id TEXT NOT NULL,
	priority_id TEXT NOT NULL DEFAULT '',
	expiry_date TEXT,
	draft TEXT,
	ord INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (owner_id, id)
);

CREATE TABLE IF NOT EXISTS priorities (
	owner_id TEXT NOT NULL,
	id TEXT NOT NULL,
	label TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT '',
	level TEXT NOT NULL,
	ord INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (owner_id, id)
);

CREATE TABLE IF NOT EXISTS history (
	owner_id TEXT NOT NULL,
	id TEXT NOT NULL,
	type TEXT NOT NULL,
	action TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	previous_value TEXT NOT NULL DEFAULT '',
	new_value TEXT NOT NULL DEFAULT '',
	metadata TEXT,
	ts TEXT NOT NULL,
	seq INTEGER PRIMARY KEY AUTOINCREMENT
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	photo_url TEXT NOT NULL DEFAULT '',
	notification_settings TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_category ON tasks(owner_id, category_id);
CREATE INDEX IF NOT EXISTS idx_history_owner_ts ON history(owner_id, ts);
`

// Store is a SQLite backed board store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullJSON(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	data, err := sonic.MarshalString(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: data, Valid: true}, nil
}

// checkAffected maps an update that matched no row to domain.ErrNotFound.
func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// setClause accumulates "col = ?" pairs of a partial update.
type setClause struct {
	cols []string
	args []any
}

func (c *setClause) add(col string, v any) {
	c.cols = append(c.cols, col+" = ?")
	c.args = append(c.args, v)
}

func (s *Store) update(ctx context.Context, table, userID, id string, c setClause) error {
	if len(c.cols) == 0 {
		return nil
	}
	q := "UPDATE " + table + " SET " + strings.Join(c.cols, ", ") + " WHERE owner_id = ? AND id = ?"
	args := append(c.args, userID, id)
	return checkAffected(s.db.ExecContext(ctx, q, args...))
}

// updateOrder rewrites the order column of several rows in one transaction.
func (s *Store) updateOrder(ctx context.Context, table, userID string, updates []domain.OrderUpdate, withCategory bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := formatTime(s.now())
	for _, u := range updates {
		var err error
		switch {
		case withCategory && u.CategoryID != "":
			_, err = tx.ExecContext(ctx, "UPDATE tasks SET ord = ?, category_id = ?, updated_at = ? WHERE owner_id = ? AND id = ?",
				u.Order, u.CategoryID, now, userID, u.ID)
		case table == "priorities":
			_, err = tx.ExecContext(ctx, "UPDATE priorities SET ord = ? WHERE owner_id = ? AND id = ?", u.Order, userID, u.ID)
		default:
			_, err = tx.ExecContext(ctx, "UPDATE "+table+" SET ord = ?, updated_at = ? WHERE owner_id = ? AND id = ?",
				u.Order, now, userID, u.ID)
		}
		if err != nil {
			return fmt.Errorf("update %s order %s: %w", table, u.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListCategories(ctx context.Context, userID string) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, color, ord, created_at, updated_at FROM categories WHERE owner_id = ? ORDER BY ord, rowid", userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []domain.Category{}
	for rows.Next() {
		c := domain.Category{OwnerID: userID}
		var created, updated string
		if err := rows.Scan(&c.ID, &c.Title, &c.Color, &c.Order, &created, &updated); err != nil {
			return nil, err
		}
		c.CreatedAt, c.UpdatedAt = parseTime(created), parseTime(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateCategory(ctx context.Context, c domain.Category) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO categories (owner_id, id, title, color, ord, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		c.OwnerID, c.ID, c.Title, c.Color, c.Order, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	return err
}

func (s *Store) UpdateCategory(ctx context.Context, userID, id string, upd domain.CategoryUpdate) error {
	var c setClause
	if upd.Title != nil {
		c.add("title", *upd.Title)
	}
	if upd.Color != nil {
		c.add("color", *upd.Color)
	}
	if len(c.cols) > 0 {
		c.add("updated_at", formatTime(s.now()))
	}
	return s.update(ctx, "categories", userID, id, c)
}

func (s *Store) DeleteCategory(ctx context.Context, userID, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM categories WHERE owner_id = ? AND id = ?", userID, id)
	return err
}

func (s *Store) UpdateCategoryOrder(ctx context.Context, userID string, updates []domain.OrderUpdate) error {
	return s.updateOrder(ctx, "categories", userID, updates, false)
}

const taskColumns = "id, title, description, category_id, priority_id, expiry_date, draft, ord, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner, userID string) (domain.Task, error) {
	t := domain.Task{OwnerID: userID}
	var expiry, draft sql.NullString
	var created, updated string
	if err := sc.Scan(&t.ID, &t.Title, &t.Description, &t.CategoryID, &t.PriorityID, &expiry, &draft, &t.Order, &created, &updated); err != nil {
		return domain.Task{}, err
	}
	if expiry.Valid {
		e := parseTime(expiry.String)
		t.ExpiryDate = &e
	}
	if draft.Valid {
		var d domain.TaskDraft
		if err := sonic.UnmarshalString(draft.String, &d); err == nil {
			t.Draft = &d
		}
	}
	t.CreatedAt, t.UpdatedAt = parseTime(created), parseTime(updated)
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE owner_id = ? ORDER BY category_id, ord, rowid", userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTask returns nil, nil when the task does not exist.
func (s *Store) GetTask(ctx context.Context, userID, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE owner_id = ? AND id = ?", userID, id)
	t, err := scanTask(row, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, t domain.Task) error {
	draft, err := nullJSON(t.Draft, t.Draft == nil)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO tasks ("+taskColumns+", owner_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		t.ID, t.Title, t.Description, t.CategoryID, t.PriorityID, nullTime(t.ExpiryDate), draft, t.Order,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), t.OwnerID)
	return err
}

func (s *Store) UpdateTask(ctx context.Context, userID, id string, upd domain.TaskUpdate) error {
	var c setClause
	if upd.Title.Set {
		c.add("title", upd.Title.Value)
	}
	if upd.Description.Set {
		c.add("description", upd.Description.Value)
	}
	if upd.CategoryID.Set {
		c.add("category_id", upd.CategoryID.Value)
	}
	if upd.PriorityID.Set {
		c.add("priority_id", upd.PriorityID.Value)
	}
	if upd.ExpiryDate.Set {
		c.add("expiry_date", nullTime(upd.ExpiryDate.Value))
	}
	if upd.Draft.Set {
		draft, err := nullJSON(upd.Draft.Value, upd.Draft.Value == nil)
		if err != nil {
			return err
		}
		c.add("draft", draft)
	}
	if upd.Order.Set {
		c.add("ord", upd.Order.Value)
	}
	if len(c.cols) > 0 {
		c.add("updated_at", formatTime(s.now()))
	}
	return s.update(ctx, "tasks", userID, id, c)
}

func (s *Store) DeleteTask(ctx context.Context, userID, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE owner_id = ? AND id = ?", userID, id)
	return err
}

func (s *Store) UpdateTaskOrder(ctx context.Context, userID string, updates []domain.OrderUpdate) error {
	return s.updateOrder(ctx, "tasks", userID, updates, true)
}

func (s *Store) ListPriorities(ctx context.Context, userID string) ([]domain.Priority, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, label, color, level, ord FROM priorities WHERE owner_id = ? ORDER BY ord, rowid", userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []domain.Priority{}
	for rows.Next() {
		p := domain.Priority{OwnerID: userID}
		var level string
		if err := rows.Scan(&p.ID, &p.Label, &p.Color, &level, &p.Order); err != nil {
			return nil, err
		}
		p.Level = domain.PriorityLevel(level)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreatePriority(ctx context.Context, p domain.Priority) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO priorities (owner_id, id, label, color, level, ord) VALUES (?, ?, ?, ?, ?, ?)",
		p.OwnerID, p.ID, p.Label, p.Color, string(p.Level), p.Order)
	return err
}

func (s *Store) UpdatePriority(ctx context.Context, userID, id string, upd domain.PriorityUpdate) error {
	var c setClause
	if upd.Label != nil {
		c.add("label", *upd.Label)
	}
	if upd.Color != nil {
		c.add("color", *upd.Color)
	}
	if upd.Level != nil {
		c.add("level", string(*upd.Level))
	}
	if upd.Order != nil {
		c.add("ord", *upd.Order)
	}
	return s.update(ctx, "priorities", userID, id, c)
}

func (s *Store) DeletePriority(ctx context.Context, userID, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM priorities WHERE owner_id = ? AND id = ?", userID, id)
	return err
}

func (s *Store) UpdatePriorityOrder(ctx context.Context, userID string, updates []domain.OrderUpdate) error {
	return s.updateOrder(ctx, "priorities", userID, updates, false)
}

func (s *Store) AddHistory(ctx context.Context, e domain.HistoryEntry) error {
	meta, err := nullJSON(e.Metadata, len(e.Metadata) == 0)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history (owner_id, id, type, action, entity_id, entity_type, previous_value, new_value, metadata, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OwnerID, e.ID, e.Type.String(), string(e.Action), e.EntityID, string(e.EntityType),
		e.PreviousValue, e.NewValue, meta, formatTime(e.Timestamp))
	return err
}

// ListHistory returns up to limit entries, newest first.
func (s *Store) ListHistory(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, action, entity_id, entity_type, previous_value, new_value, metadata, ts
		FROM history WHERE owner_id = ? ORDER BY ts DESC, seq DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []domain.HistoryEntry{}
	for rows.Next() {
		e := domain.HistoryEntry{OwnerID: userID}
		var typ, action, entityType, ts string
		var meta sql.NullString
		if err := rows.Scan(&e.ID, &typ, &action, &e.EntityID, &entityType, &e.PreviousValue, &e.NewValue, &meta, &ts); err != nil {
			return nil, err
		}
		e.Action = domain.HistoryAction(action)
		e.EntityType = domain.EntityType(entityType)
		if err := e.Type.UnmarshalText([]byte(typ)); err != nil {
			e.Type = e.Action.Type()
		}
		if meta.Valid {
			_ = sonic.UnmarshalString(meta.String, &e.Metadata)
		}
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetUser returns nil, nil for unknown users.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u := domain.User{ID: id}
	var settings string
	err := s.db.QueryRowContext(ctx,
		"SELECT email, display_name, photo_url, notification_settings FROM users WHERE id = ?", id).
		Scan(&u.Email, &u.DisplayName, &u.PhotoURL, &settings)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sonic.UnmarshalString(settings, &u.NotificationSettings) != nil {
		u.NotificationSettings = domain.DefaultNotificationSettings()
	}
	return &u, nil
}

func (s *Store) UpsertUser(ctx context.Context, u domain.User) error {
	settings, err := sonic.MarshalString(u.NotificationSettings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, photo_url, notification_settings) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email, display_name = excluded.display_name,
		photo_url = excluded.photo_url, notification_settings = excluded.notification_settings`,
		u.ID, u.Email, u.DisplayName, u.PhotoURL, settings)
	return err
}

func (s *Store) UpdateNotificationSettings(ctx context.Context, userID string, settings domain.NotificationSettings) error {
	data, err := sonic.MarshalString(settings)
	if err != nil {
		return err
	}
	return checkAffected(s.db.ExecContext(ctx, "UPDATE users SET notification_settings = ? WHERE id = ?", data, userID))
}

// EnqueueNotification appends the reminder to the local notifications table,
// which stands in for the delivery queue.
func (s *Store) EnqueueNotification(ctx context.Context, n domain.Notification) error {
	data, err := sonic.MarshalString(n)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO notifications (payload, created_at) VALUES (?, ?)", data, formatTime(s.now()))
	return err
}
