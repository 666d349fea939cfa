// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package source reads recent posts of public Telegram channels.
//
// Two implementations are provided: [Preview] scrapes the public web preview
// at https://t.me/s/<channel>, and [Feed] reads an RSS bridge for the
// channel.
package source

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/message"
)

// Source fetches recent messages of a channel.
type Source interface {
	// Fetch returns at most limit most recent messages of ch, sorted by
	// ascending id. A channel-level failure is returned as a *FetchError.
	Fetch(ctx context.Context, ch message.Channel, limit int) (*Result, error)
}

// Result is the outcome of a successful fetch.
type Result struct {
	// Messages is sorted by ascending id.
	Messages []*message.Message
	// Skipped lists posts that could not be parsed.
	Skipped []*ParseError
}

// finish sorts the parsed messages, drops duplicates and keeps the limit most
// recent ones.
func (r *Result) finish(limit int) *Result {
	slices.SortStableFunc(r.Messages, func(a, b *message.Message) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	r.Messages = slices.CompactFunc(r.Messages, func(a, b *message.Message) bool { return a.ID == b.ID })
	if limit > 0 && len(r.Messages) > limit {
		r.Messages = r.Messages[len(r.Messages)-limit:]
	}
	return r
}

func (r *Result) skip(logger *slog.Logger, perr *ParseError) {
	logger.Warn("skipping post", "channel", perr.Channel, "post", perr.Post, "error", perr.Err)
	r.Skipped = append(r.Skipped, perr)
}

// parsePostID extracts the numeric id from references like "durov/123" or
// "https://t.me/durov/123".
func parsePostID(ref string) (int64, error) {
	ref = strings.TrimRight(strings.TrimSpace(ref), "/")
	if ref == "" {
		return 0, errNoPostID
	}
	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		ref = ref[i+1:]
	}
	ref, _, _ = strings.Cut(ref, "?")
	return strconv.ParseInt(ref, 10, 64)
}

func newLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
