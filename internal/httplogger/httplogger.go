// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package httplogger provides an [http.RoundTripper] that logs outgoing
// requests at debug level.
package httplogger

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// New wraps t, logging every request to logger. Every secret is replaced with
// "[EXPUNGED]" in logged URLs and errors. A nil t means
// [http.DefaultTransport].
func New(t http.RoundTripper, logger *slog.Logger, secrets ...string) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	lt := &loggingTransport{transport: t, slog: logger, now: time.Now}
	var oldnew []string
	for _, s := range secrets {
		if s != "" {
			oldnew = append(oldnew, s, "[EXPUNGED]")
		}
	}
	if len(oldnew) > 0 {
		lt.scrubber = strings.NewReplacer(oldnew...)
	}
	return lt
}

type loggingTransport struct {
	transport http.RoundTripper
	slog      *slog.Logger
	scrubber  *strings.Replacer
	now       func() time.Time
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if !t.slog.Enabled(r.Context(), slog.LevelDebug) {
		return t.transport.RoundTrip(r)
	}

	start := t.now()
	resp, err := t.transport.RoundTrip(r)
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("url", t.scrub(r.URL.Redacted())),
		slog.Duration("duration", t.now().Sub(start)),
	}
	if resp != nil {
		attrs = append(attrs, slog.Int("status", resp.StatusCode))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", t.scrub(err.Error())))
	}
	t.slog.LogAttrs(context.WithoutCancel(r.Context()), slog.LevelDebug, "http request", attrs...)
	return resp, err
}

func (t *loggingTransport) scrub(s string) string {
	if t.scrubber == nil {
		return s
	}
	return t.scrubber.Replace(s)
}
