// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package dedup

import (
	"context"

	"go.astrophena.name/tgrelay/internal/syncx"
)

type key struct {
	channel string
	id      int64
}

// Mem is an in-memory implementation of the [Store] interface. Records are
// lost when the process exits.
type Mem struct {
	relayed *syncx.Protected[map[key]bool]
}

// NewMem returns an empty Mem store.
func NewMem() *Mem {
	return &Mem{relayed: syncx.Protect(make(map[key]bool))}
}

// HasBeenRelayed implements [Store].
func (s *Mem) HasBeenRelayed(_ context.Context, channel string, id int64) (found bool, err error) {
	s.relayed.ReadAccess(func(m map[key]bool) {
		found = m[key{channel, id}]
	})
	return found, nil
}

// MarkRelayed implements [Store].
func (s *Mem) MarkRelayed(_ context.Context, channel string, id int64) error {
	s.relayed.WriteAccess(func(m map[key]bool) {
		m[key{channel, id}] = true
	})
	return nil
}

// Close is a no-op for Mem.
func (s *Mem) Close() error { return nil }
