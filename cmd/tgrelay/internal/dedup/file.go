// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.astrophena.name/tgrelay/internal/atomicio"
)

// File is a [Store] kept in a JSON file. Every mark rewrites the file
// atomically.
type File struct {
	path string

	mu     sync.Mutex
	data   fileData
	closed bool
}

type fileData struct {
	// Channels maps a channel name to its relayed posts.
	Channels map[string]map[int64]time.Time `json:"channels"`
}

// NewFile loads the store from path, creating an empty one if the file does
// not exist yet.
func NewFile(path string) (*File, error) {
	s := &File{path: path, data: fileData{Channels: make(map[string]map[int64]time.Time)}}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, s.save()
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &s.data); err != nil {
		return nil, err
	}
	if s.data.Channels == nil {
		s.data.Channels = make(map[string]map[int64]time.Time)
	}
	return s, nil
}

// HasBeenRelayed implements [Store].
func (s *File) HasBeenRelayed(_ context.Context, channel string, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, &StoreError{Op: "check", Channel: channel, ID: id, Err: ErrClosed}
	}
	_, ok := s.data.Channels[channel][id]
	return ok, nil
}

// MarkRelayed implements [Store].
func (s *File) MarkRelayed(_ context.Context, channel string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &StoreError{Op: "mark", Channel: channel, ID: id, Err: ErrClosed}
	}
	if _, ok := s.data.Channels[channel][id]; ok {
		return nil
	}

	ids, ok := s.data.Channels[channel]
	if !ok {
		ids = make(map[int64]time.Time)
		s.data.Channels[channel] = ids
	}
	ids[id] = time.Now().UTC()
	if err := s.save(); err != nil {
		delete(ids, id)
		return &StoreError{Op: "mark", Channel: channel, ID: id, Err: err}
	}
	return nil
}

func (s *File) save() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return atomicio.WriteFile(s.path, b, 0o600)
}

// Close marks the store as closed.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
