// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package dedup

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"sync/atomic"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	driver    string
	migration string
	pragmas   []string
	exists    string
	insert    string
}

var (
	sqliteDialect = dialect{
		driver:    "sqlite3",
		migration: "migrations/sqlite.sql",
		pragmas: []string{
			"PRAGMA journal_mode=WAL;",
			"PRAGMA busy_timeout=5000;",
		},
		exists: `SELECT 1 FROM posted_messages WHERE message_id = ? AND channel_username = ?;`,
		insert: `INSERT OR IGNORE INTO posted_messages (message_id, channel_username) VALUES (?, ?);`,
	}
	postgresDialect = dialect{
		driver:    "postgres",
		migration: "migrations/postgres.sql",
		exists:    `SELECT 1 FROM posted_messages WHERE message_id = $1 AND channel_username = $2;`,
		insert:    `INSERT INTO posted_messages (message_id, channel_username) VALUES ($1, $2) ON CONFLICT DO NOTHING;`,
	}
)

// SQL is a [Store] backed by a SQL database.
type SQL struct {
	db      *sql.DB
	dialect dialect
	closed  atomic.Bool
}

func openSQLite(ctx context.Context, dsn string) (*SQL, error) {
	return openSQL(ctx, sqliteDialect, dsn)
}

func openPostgres(ctx context.Context, dsn string) (*SQL, error) {
	return openSQL(ctx, postgresDialect, dsn)
}

func openSQL(ctx context.Context, d dialect, dsn string) (*SQL, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, err
	}
	if d.driver == sqliteDialect.driver {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	s := &SQL{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return s, nil
}

func (s *SQL) migrate(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	for _, pragma := range s.dialect.pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return err
		}
	}
	schema, err := migrations.ReadFile(s.dialect.migration)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(schema))
	return err
}

// HasBeenRelayed implements [Store].
func (s *SQL) HasBeenRelayed(ctx context.Context, channel string, id int64) (bool, error) {
	if s.closed.Load() {
		return false, &StoreError{Op: "check", Channel: channel, ID: id, Err: ErrClosed}
	}
	var one int
	err := s.db.QueryRowContext(ctx, s.dialect.exists, id, channel).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, &StoreError{Op: "check", Channel: channel, ID: id, Err: err}
	}
	return true, nil
}

// MarkRelayed implements [Store].
func (s *SQL) MarkRelayed(ctx context.Context, channel string, id int64) error {
	if s.closed.Load() {
		return &StoreError{Op: "mark", Channel: channel, ID: id, Err: ErrClosed}
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.insert, id, channel); err != nil {
		return &StoreError{Op: "mark", Channel: channel, ID: id, Err: err}
	}
	return nil
}

// Ping implements [Pinger].
func (s *SQL) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQL) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
