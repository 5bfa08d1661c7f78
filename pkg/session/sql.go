package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// SQLStore keeps session state in a database/sql database. The table is
// created by CreateTable:
//
//	CREATE TABLE pagecycle_sessions (
//	    id         VARCHAR(64) PRIMARY KEY,
//	    data       BYTEA NOT NULL,
//	    expires_at TIMESTAMP WITH TIME ZONE NOT NULL
//	);
//
// SQLite stores expires_at as unix seconds.
type SQLStore struct {
	db      *sql.DB
	table   string
	dialect SQLDialect
	logger  *slog.Logger
	closed  atomic.Bool
	done    chan struct{}

	upsertQuery string
	loadQuery   string
	deleteQuery string
	touchQuery  string
	expireQuery string
}

// SQLDialect selects placeholder and upsert syntax.
type SQLDialect int

const (
	// DialectPostgreSQL uses $n placeholders and ON CONFLICT.
	DialectPostgreSQL SQLDialect = iota
	// DialectMySQL uses ? placeholders and ON DUPLICATE KEY.
	DialectMySQL
	// DialectSQLite uses ? placeholders and INSERT OR REPLACE.
	DialectSQLite
)

// ParseDialect maps a driver-style name to a dialect.
func ParseDialect(name string) (SQLDialect, error) {
	switch name {
	case "postgres", "postgresql", "pgx":
		return DialectPostgreSQL, nil
	case "mysql":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return 0, fmt.Errorf("session: unknown sql dialect %q", name)
}

// SQLStoreOption configures a SQLStore.
type SQLStoreOption func(*sqlStoreConfig)

type sqlStoreConfig struct {
	table           string
	dialect         SQLDialect
	cleanupInterval time.Duration
	logger          *slog.Logger
}

// WithSQLTableName sets the table name. Default: "pagecycle_sessions".
func WithSQLTableName(name string) SQLStoreOption {
	return func(c *sqlStoreConfig) { c.table = name }
}

// WithSQLDialect sets the dialect. Default: DialectPostgreSQL.
func WithSQLDialect(d SQLDialect) SQLStoreOption {
	return func(c *sqlStoreConfig) { c.dialect = d }
}

// WithSQLCleanupInterval sets how often expired rows are deleted.
// Default: 5 minutes.
func WithSQLCleanupInterval(d time.Duration) SQLStoreOption {
	return func(c *sqlStoreConfig) { c.cleanupInterval = d }
}

// WithSQLLogger sets the logger used for background cleanup failures.
func WithSQLLogger(l *slog.Logger) SQLStoreOption {
	return func(c *sqlStoreConfig) { c.logger = l }
}

// NewSQLStore creates a store on db. The store does not own db.
func NewSQLStore(db *sql.DB, opts ...SQLStoreOption) *SQLStore {
	cfg := &sqlStoreConfig{
		table:           "pagecycle_sessions",
		dialect:         DialectPostgreSQL,
		cleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	s := &SQLStore{
		db:      db,
		table:   cfg.table,
		dialect: cfg.dialect,
		logger:  cfg.logger.With("component", "session_sql_store"),
		done:    make(chan struct{}),
	}
	s.buildQueries()

	go s.cleanupLoop(cfg.cleanupInterval)
	return s
}

func (s *SQLStore) buildQueries() {
	t := s.table
	switch s.dialect {
	case DialectPostgreSQL:
		s.upsertQuery = fmt.Sprintf(`INSERT INTO %s (id, data, expires_at) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at`, t)
		s.loadQuery = fmt.Sprintf(`SELECT data FROM %s WHERE id = $1 AND expires_at > $2`, t)
		s.deleteQuery = fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t)
		s.touchQuery = fmt.Sprintf(`UPDATE %s SET expires_at = $1 WHERE id = $2`, t)
		s.expireQuery = fmt.Sprintf(`DELETE FROM %s WHERE expires_at < $1`, t)
	case DialectMySQL:
		s.upsertQuery = fmt.Sprintf(`INSERT INTO %s (id, data, expires_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE data = VALUES(data), expires_at = VALUES(expires_at)`, t)
	case DialectSQLite:
		s.upsertQuery = fmt.Sprintf(`INSERT OR REPLACE INTO %s (id, data, expires_at) VALUES (?, ?, ?)`, t)
	}
	if s.dialect != DialectPostgreSQL {
		s.loadQuery = fmt.Sprintf(`SELECT data FROM %s WHERE id = ? AND expires_at > ?`, t)
		s.deleteQuery = fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t)
		s.touchQuery = fmt.Sprintf(`UPDATE %s SET expires_at = ? WHERE id = ?`, t)
		s.expireQuery = fmt.Sprintf(`DELETE FROM %s WHERE expires_at < ?`, t)
	}
}

// stamp converts t to the column representation of the dialect.
func (s *SQLStore) stamp(t time.Time) any {
	if s.dialect == DialectSQLite {
		return t.Unix()
	}
	return t.UTC()
}

// CreateTable creates the session table if it does not exist.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	var query string
	switch s.dialect {
	case DialectPostgreSQL:
		query = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			data BYTEA NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL)`, s.table)
	case DialectMySQL:
		query = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			data BLOB NOT NULL,
			expires_at DATETIME NOT NULL)`, s.table)
	case DialectSQLite:
		query = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			expires_at INTEGER NOT NULL)`, s.table)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("session: create table %s: %w", s.table, err)
	}
	return nil
}

// Save upserts the state of one session.
func (s *SQLStore) Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx, s.upsertQuery, sessionID, data, s.stamp(expiresAt))
	return err
}

// Load returns unexpired state, or (nil, nil).
func (s *SQLStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, s.loadQuery, sessionID, s.stamp(time.Now())).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes one session row.
func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx, s.deleteQuery, sessionID)
	return err
}

// Touch moves the expiry of one session row.
func (s *SQLStore) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx, s.touchQuery, s.stamp(expiresAt), sessionID)
	return err
}

// SaveAll upserts several sessions in one transaction.
func (s *SQLStore) SaveAll(ctx context.Context, sessions map[string]Record) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if len(sessions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.upsertQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, r := range sessions {
		if _, err := stmt.ExecContext(ctx, id, r.Data, s.stamp(r.ExpiresAt)); err != nil {
			return fmt.Errorf("session: save %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Close stops background cleanup. The database handle stays open.
func (s *SQLStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	return nil
}

func (s *SQLStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.DeleteExpired(context.Background()); err != nil {
				s.logger.Warn("expired session cleanup failed", "error", err)
			}
		case <-s.done:
			return
		}
	}
}

// DeleteExpired removes every expired row and returns the first error.
func (s *SQLStore) DeleteExpired(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, s.expireQuery, s.stamp(time.Now()))
	return err
}
