package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"estate_admin/models"
)

// SQLiteStore is the local operational database: the saved session, the
// second-level catalog page cache, the activity log and mirror bookkeeping.
type SQLiteStore struct {
	db *sql.DB

	// PageTTL bounds how old a cached page may be before LoadPage ignores it.
	// Zero keeps pages forever.
	PageTTL time.Duration
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		token TEXT NOT NULL,
		user JSON,
		updated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS catalog_pages (
		cache_key TEXT PRIMARY KEY,
		body JSON NOT NULL,
		fetched_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS activity_logs (
		id INTEGER PRIMARY KEY,
		timestamp DATETIME,
		level TEXT,
		source TEXT,
		message TEXT
	);

	CREATE TABLE IF NOT EXISTS mirror_runs (
		id INTEGER PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		pages INTEGER DEFAULT 0,
		properties INTEGER DEFAULT 0,
		images INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS mirror_state (
		name TEXT PRIMARY KEY,
		resume_page INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_activity_time ON activity_logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON mirror_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Session
// =============================================================================

func (s *SQLiteStore) LoadSession() (string, *models.User, error) {
	var token string
	var userJSON sql.NullString
	err := s.db.QueryRow(`SELECT token, user FROM session WHERE id = 1`).Scan(&token, &userJSON)
	if err == sql.ErrNoRows {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	var user *models.User
	if userJSON.Valid && userJSON.String != "" && userJSON.String != "null" {
		user = &models.User{}
		if err := json.Unmarshal([]byte(userJSON.String), user); err != nil {
			return "", nil, fmt.Errorf("decode saved user: %w", err)
		}
	}
	return token, user, nil
}

func (s *SQLiteStore) SaveSession(token string, user *models.User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO session (id, token, user, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			user = excluded.user,
			updated_at = excluded.updated_at`,
		token, string(userJSON), time.Now())
	return err
}

func (s *SQLiteStore) ClearSession() error {
	_, err := s.db.Exec(`DELETE FROM session`)
	return err
}

// =============================================================================
// Catalog pages
// =============================================================================

// LoadPage returns nil, nil on a miss or when the entry is older than PageTTL
func (s *SQLiteStore) LoadPage(ctx context.Context, key string) (*models.CatalogPage, error) {
	var body string
	var fetchedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT body, fetched_at FROM catalog_pages WHERE cache_key = ?`, key).Scan(&body, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if s.PageTTL > 0 && time.Since(fetchedAt) > s.PageTTL {
		return nil, nil
	}

	var page models.CatalogPage
	if err := json.Unmarshal([]byte(body), &page); err != nil {
		return nil, fmt.Errorf("decode cached page: %w", err)
	}
	return &page, nil
}

func (s *SQLiteStore) SavePage(ctx context.Context, key string, page *models.CatalogPage) error {
	body, err := json.Marshal(page)
	if err != nil {
		return err
	}
	fetchedAt := page.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO catalog_pages (cache_key, body, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET body = excluded.body, fetched_at = excluded.fetched_at`,
		key, string(body), fetchedAt)
	return err
}

func (s *SQLiteStore) DeletePages(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM catalog_pages`)
	return err
}

// =============================================================================
// Activity log
// =============================================================================

func (s *SQLiteStore) Log(level models.LogLevel, source, message string) error {
	_, err := s.db.Exec(`
		INSERT INTO activity_logs (timestamp, level, source, message)
		VALUES (?, ?, ?, ?)`,
		time.Now(), level, source, message)
	return err
}

// RecentActivity returns the newest entries first
func (s *SQLiteStore) RecentActivity(limit int) ([]models.ActivityLog, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, level, source, message
		FROM activity_logs ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ActivityLog
	for rows.Next() {
		var l models.ActivityLog
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Source, &l.Message); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// =============================================================================
// Mirror runs
// =============================================================================

func (s *SQLiteStore) CreateRun(run *models.MirrorRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO mirror_runs (started_at, status)
		VALUES (?, ?)`,
		run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.MirrorRun) error {
	_, err := s.db.Exec(`
		UPDATE mirror_runs SET finished_at = ?, status = ?, pages = ?, properties = ?,
			images = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.Pages, run.Properties, run.Images, run.ErrorsCount, run.ID)
	return err
}

// LastRun returns the most recent run, or nil when the mirror never ran
func (s *SQLiteStore) LastRun() (*models.MirrorRun, error) {
	var r models.MirrorRun
	var finished sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, started_at, finished_at, status, pages, properties, images, errors_count
		FROM mirror_runs ORDER BY started_at DESC, id DESC LIMIT 1`).Scan(
		&r.ID, &r.StartedAt, &finished, &r.Status, &r.Pages, &r.Properties, &r.Images, &r.ErrorsCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

func (s *SQLiteStore) GetResumePage(name string) (int, error) {
	var page int
	err := s.db.QueryRow(`
		SELECT COALESCE(resume_page, 0) FROM mirror_state WHERE name = ?`, name).Scan(&page)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return page, err
}

func (s *SQLiteStore) SetResumePage(name string, page int) error {
	_, err := s.db.Exec(`
		INSERT INTO mirror_state (name, resume_page)
		VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET resume_page = ?`, name, page, page)
	return err
}

func (s *SQLiteStore) ClearResumePage(name string) error {
	_, err := s.db.Exec(`UPDATE mirror_state SET resume_page = 0 WHERE name = ?`, name)
	return err
}
