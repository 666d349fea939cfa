// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package dedup records which channel posts have already been relayed.
//
// A record is keyed by (channel, message id) and is only ever added. Several
// backends are available, see [Open].
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store is a persistent set of relayed posts.
type Store interface {
	// HasBeenRelayed reports whether the post was marked as relayed.
	HasBeenRelayed(ctx context.Context, channel string, id int64) (bool, error)
	// MarkRelayed records the post as relayed. Marking a post twice is not
	// an error.
	MarkRelayed(ctx context.Context, channel string, id int64) error
	// Close releases any resources held by the store.
	Close() error
}

// Pinger is implemented by stores that can check their backend connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// StoreError wraps a backend failure of a single store operation.
type StoreError struct {
	Op      string // "check", "mark" or "open"
	Channel string
	ID      int64
	Err     error
}

func (e *StoreError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("dedup: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("dedup: %s %s/%d: %v", e.Op, e.Channel, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Kind is a store backend.
type Kind string

// Available backends.
const (
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
	KindFile     Kind = "file"
	KindMemory   Kind = "memory"
)

// DetectKind returns the backend selected by dsn:
//
//   - "postgres://…" and "postgresql://…" select PostgreSQL;
//   - paths ending in ".json", optionally prefixed by "file:", select a JSON file;
//   - ":memory:" and "mem:" select a store that lives in memory;
//   - anything else is a path or URI of a SQLite database.
func DetectKind(dsn string) Kind {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return KindPostgres
	case lower == ":memory:", strings.HasPrefix(lower, "mem:"):
		return KindMemory
	case strings.HasSuffix(lower, ".json"):
		return KindFile
	}
	return KindSQLite
}

// Open opens the store described by dsn, creating the schema if needed.
func Open(ctx context.Context, dsn string) (Store, error) {
	if dsn == "" {
		return nil, &StoreError{Op: "open", Err: errors.New("empty DSN")}
	}

	var (
		s   Store
		err error
	)
	switch DetectKind(dsn) {
	case KindPostgres:
		s, err = openPostgres(ctx, dsn)
	case KindMemory:
		s = NewMem()
	case KindFile:
		s, err = NewFile(strings.TrimPrefix(dsn, "file:"))
	default:
		s, err = openSQLite(ctx, strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite://"), "sqlite:"))
	}
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	return s, nil
}
