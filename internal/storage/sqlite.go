package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

const (
	tableName     = "midias" // kept for databases created by earlier deployments
	schemaVersion = 2
)

var (
	ErrNotFound      = errors.New("storage: media record not found")
	ErrInvalidRecord = errors.New("storage: name, uri and mimeType are required")
)

// column describes one canonical column. add is the declaration used when
// the column is missing from an existing table; empty means it cannot be
// added after the fact.
type column struct {
	name   string
	create string
	add    string
}

// columns is the canonical shape, in scan order.
var columns = []column{
	{"id", "INTEGER PRIMARY KEY AUTOINCREMENT", ""},
	{"name", "TEXT NOT NULL", "TEXT NOT NULL DEFAULT ''"},
	{"uri", "TEXT NOT NULL", "TEXT NOT NULL DEFAULT ''"},
	{"mimeType", "TEXT NOT NULL", "TEXT NOT NULL DEFAULT ''"},
	{"cover", "TEXT", "TEXT"},
	{"isFavorite", "INTEGER DEFAULT 0", "INTEGER DEFAULT 0"},
	{"duration", "INTEGER DEFAULT 0", "INTEGER DEFAULT 0"},
	{"fileSize", "INTEGER DEFAULT 0", "INTEGER DEFAULT 0"},
	{"dateAdded", "TEXT DEFAULT (datetime('now'))", "TEXT"},
	{"lastAccessed", "TEXT", "TEXT"},
	{"deviceId", "TEXT", "TEXT"},
	{"deviceName", "TEXT", "TEXT"},
}

type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
	}
}

type Store struct {
	db         *sql.DB
	now        func() time.Time
	selectList string
	idCol      string // "id", or "rowid" for tables created without one
}

type Option func(*Store)

// WithClock replaces the clock used to stamp dateAdded and lastAccessed.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func Open(dbPath string, cfg Config, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = DefaultConfig().BusyTimeout
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 1
	}

	db, err := sql.Open("sqlite", dsn(dbPath, cfg))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

// dsn enables WAL and a busy timeout. Transactions begin IMMEDIATE so a
// read-then-write transaction takes the write lock up front and waits on
// busy_timeout instead of failing with SQLITE_BUSY when it upgrades.
func dsn(dbPath string, cfg Config) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		dbPath, cfg.BusyTimeout.Milliseconds())
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the table when absent and adds any canonical column an
// older table lacks. It never drops or rewrites columns.
func (s *Store) migrate(ctx context.Context) error {
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		defs = append(defs, c.name+" "+c.create)
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		%s
	);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	);
	`, tableName, strings.Join(defs, ",\n\t\t"))

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	present, err := s.tableColumns(ctx)
	if err != nil {
		return err
	}

	for _, c := range columns {
		if present[c.name] || c.add == "" {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", tableName, c.name, c.add)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", c.name, err)
		}
		present[c.name] = true
	}

	indexes := fmt.Sprintf(`
	CREATE INDEX IF NOT EXISTS idx_%[1]s_date_added ON %[1]s(dateAdded DESC);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_uri ON %[1]s(uri);
	`, tableName)
	if _, err := s.db.ExecContext(ctx, indexes); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)",
		schemaVersion, formatTime(s.now()),
	); err != nil {
		return err
	}

	s.selectList = selectColumns(present)
	s.idCol = idColumn(present)
	return nil
}

func (s *Store) tableColumns(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		present[name] = true
	}
	return present, rows.Err()
}

func idColumn(present map[string]bool) string {
	if present["id"] {
		return "id"
	}
	return "rowid"
}

// selectColumns renders the canonical column list, substituting NULL for
// columns the live table does not have so decoding falls back to defaults.
func selectColumns(present map[string]bool) string {
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		if present[c.name] {
			parts = append(parts, c.name)
		} else if c.name == "id" {
			parts = append(parts, idColumn(present))
		} else {
			parts = append(parts, "NULL")
		}
	}
	return strings.Join(parts, ", ")
}

// List returns records newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]MediaRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.FavoritesOnly {
		where = append(where, "isFavorite = 1")
	}
	if f.MimePrefix != "" {
		where = append(where, "mimeType LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(f.MimePrefix)+"%")
	}

	query := fmt.Sprintf("SELECT %s FROM %s", s.selectList, tableName)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	// datetime() normalizes the layouts older rows were written in, so they
	// compare by instant rather than as text.
	query += fmt.Sprintf(" ORDER BY datetime(dateAdded) DESC, %s DESC", s.idCol)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []MediaRecord{}
	for rows.Next() {
		m, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, m)
	}

	return records, rows.Err()
}

func (s *Store) Get(ctx context.Context, id int64) (*MediaRecord, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", s.selectList, tableName, s.idCol), id)

	m, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// Create inserts a record and returns its id.
func (s *Store) Create(ctx context.Context, r NewRecord) (int64, error) {
	if r.Name == "" || r.URI == "" || r.MimeType == "" {
		return 0, ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, uri, mimeType, cover, isFavorite, duration, fileSize, dateAdded, deviceId, deviceName)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tableName),
		r.Name, r.URI, r.MimeType, r.Cover,
		boolToInt(r.IsFavorite), r.Duration, r.FileSize,
		formatTime(s.now()), r.DeviceID, r.DeviceName,
	)
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

// Update sets name and favorite flag. A missing id is not an error here;
// callers re-read to detect it.
func (s *Store) Update(ctx context.Context, id int64, name string, isFavorite bool) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET name = ?, isFavorite = ? WHERE %s = ?", tableName, s.idCol),
		name, boolToInt(isFavorite), id)
	return err
}

// ToggleFavorite inverts the favorite flag and returns the new value.
func (s *Store) ToggleFavorite(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var current flexInt
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT isFavorite FROM %s WHERE %s = ?", tableName, s.idCol), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}

	next := current.Int64 == 0
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET isFavorite = ? WHERE %s = ?", tableName, s.idCol),
		boolToInt(next), id); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return next, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.DeleteTx(ctx, id, nil)
}

// DeleteTx removes the row and runs fn before committing. If fn fails the
// delete is rolled back. fn must not use the store.
func (s *Store) DeleteTx(ctx context.Context, id int64, fn func() error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", tableName, s.idCol), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	if fn != nil {
		if err := fn(); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// TouchAccessed stamps lastAccessed on every record pointing at uri.
func (s *Store) TouchAccessed(ctx context.Context, uri string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET lastAccessed = ? WHERE uri = ?", tableName),
		formatTime(s.now()), uri)
	return err
}

// URIs returns the uri of every record.
func (s *Store) URIs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT uri FROM %s", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uris []string
	for rows.Next() {
		var uri sql.NullString
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}
		if uri.Valid {
			uris = append(uris, uri.String)
		}
	}
	return uris, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
