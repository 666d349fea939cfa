// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package dedup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"go.astrophena.name/tgrelay/internal/testutil"
)

func TestMem(t *testing.T) {
	t.Parallel()
	testStore(t, NewMem())
}

func TestFile(t *testing.T) {
	t.Parallel()
	s, err := Open(t.Context(), filepath.Join(t.TempDir(), "relayed.json"))
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, s)
}

func TestSQLite(t *testing.T) {
	t.Parallel()
	s, err := Open(t.Context(), filepath.Join(t.TempDir(), "posted_messages.db"))
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, s)
}

func TestPostgres(t *testing.T) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL is not set")
	}
	s, err := Open(t.Context(), databaseURL)
	if err != nil {
		t.Fatal(err)
	}
	sqlStore := s.(*SQL)
	if _, err := sqlStore.db.ExecContext(t.Context(), "DELETE FROM posted_messages"); err != nil {
		t.Fatal(err)
	}
	testStore(t, s)
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := t.Context()

	relayed, err := s.HasBeenRelayed(ctx, "chan", 1)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, relayed, false)

	// Marking twice is a no-op.
	for range 2 {
		if err := s.MarkRelayed(ctx, "chan", 1); err != nil {
			t.Fatal(err)
		}
	}
	relayed, err = s.HasBeenRelayed(ctx, "chan", 1)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, relayed, true)

	// Records are keyed by the pair.
	for _, tc := range []struct {
		channel string
		id      int64
	}{
		{"chan", 2},
		{"other", 1},
	} {
		relayed, err := s.HasBeenRelayed(ctx, tc.channel, tc.id)
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, relayed, false)
	}

	// Concurrent marks of distinct and equal pairs.
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.MarkRelayed(ctx, "busy", int64(i%5))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	for i := range 5 {
		relayed, err := s.HasBeenRelayed(ctx, "busy", int64(i))
		if err != nil {
			t.Fatal(err)
		}
		if !relayed {
			t.Fatalf("busy/%d is not marked", i)
		}
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()

	for name, open := range map[string]func(t *testing.T) Store{
		"file": func(t *testing.T) Store {
			s, err := NewFile(filepath.Join(t.TempDir(), "relayed.json"))
			if err != nil {
				t.Fatal(err)
			}
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := openSQLite(t.Context(), filepath.Join(t.TempDir(), "relayed.db"))
			if err != nil {
				t.Fatal(err)
			}
			return s
		},
	} {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			if err := s.Close(); err != nil {
				t.Fatal(err)
			}
			err := s.MarkRelayed(t.Context(), "chan", 7)
			var serr *StoreError
			if !errors.As(err, &serr) {
				t.Fatalf("want *StoreError, got %T (%v)", err, err)
			}
			testutil.AssertEqual(t, serr.Op, "mark")
			testutil.AssertEqual(t, serr.Channel, "chan")
			testutil.AssertEqual(t, serr.ID, int64(7))
			if !errors.Is(err, ErrClosed) {
				t.Fatalf("%v does not match ErrClosed", err)
			}
		})
	}
}

func TestFilePersistence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relayed.json")
	s1, err := NewFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{3, 1, 2} {
		if err := s1.MarkRelayed(t.Context(), "chan", id); err != nil {
			t.Fatal(err)
		}
	}
	s1.Close()

	s2, err := NewFile(path)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, relayedIDs(s2, "chan"), []int64{1, 2, 3})
}

func relayedIDs(s *File, channel string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id := range s.data.Channels[channel] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func TestSQLitePersistence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "posted_messages.db")
	s1, err := Open(t.Context(), path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.MarkRelayed(t.Context(), "chan", 10); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(t.Context(), path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	relayed, err := s2.HasBeenRelayed(t.Context(), "chan", 10)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, relayed, true)
	if err := s2.(Pinger).Ping(t.Context()); err != nil {
		t.Fatal(err)
	}
}

func TestFileCorrupted(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relayed.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Open(t.Context(), path)
	var serr *StoreError
	if !errors.As(err, &serr) || serr.Op != "open" {
		t.Fatalf("want open *StoreError, got %v", err)
	}
}

func TestDetectKind(t *testing.T) {
	t.Parallel()

	cases := map[string]Kind{
		"postgres://user@localhost/db":   KindPostgres,
		"postgresql://user@localhost/db": KindPostgres,
		"POSTGRES://host/db":             KindPostgres,
		":memory:":                       KindMemory,
		"mem:":                           KindMemory,
		"file:state/relayed.json":        KindFile,
		"/var/lib/tgrelay/relayed.json":  KindFile,
		"posted_messages.db":             KindSQLite,
		"file:posted.db?cache=shared":    KindSQLite,
		"sqlite:///tmp/x.db":             KindSQLite,
	}
	for dsn, want := range cases {
		t.Run(dsn, func(t *testing.T) {
			testutil.AssertEqual(t, DetectKind(dsn), want)
		})
	}
}

func TestStoreErrorMessage(t *testing.T) {
	t.Parallel()

	err := &StoreError{Op: "check", Channel: "chan", ID: 5, Err: fmt.Errorf("disk I/O error")}
	testutil.AssertEqual(t, err.Error(), "dedup: check chan/5: disk I/O error")
	err = &StoreError{Op: "open", Err: fmt.Errorf("boom")}
	testutil.AssertEqual(t, err.Error(), "dedup: open: boom")
}
