// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram implements the parts of the Telegram Bot API used to
// publish relayed posts and answer commands.
package telegram

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.astrophena.name/tgrelay/internal/request"
)

const (
	// DefaultAPIURL is the Telegram Bot API endpoint.
	DefaultAPIURL = "https://api.telegram.org"

	sendRetryLimit = 5 // N attempts to make a request
	minBackoff     = time.Second
	maxBackoff     = time.Minute
)

// Config configures a Telegram client.
type Config struct {
	Token string
	// APIURL defaults to DefaultAPIURL.
	APIURL     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client makes Bot API requests, retrying transient failures.
type Client struct {
	token    string
	apiURL   string
	httpc    *http.Client
	scrubber *strings.Replacer
	slog     *slog.Logger

	makeRequest func(ctx context.Context, method string, args any) (json.RawMessage, error)
	sleep       func(context.Context, time.Duration) bool
}

// New returns a new Client. The token is scrubbed from returned errors.
func New(cfg Config) *Client {
	c := &Client{
		token:  cfg.Token,
		apiURL: strings.TrimSuffix(cmp.Or(cfg.APIURL, DefaultAPIURL), "/"),
		httpc:  cmp.Or(cfg.HTTPClient, request.DefaultClient),
		slog:   cfg.Logger,
	}
	if c.slog == nil {
		c.slog = slog.Default()
	}
	if c.token != "" {
		c.scrubber = strings.NewReplacer(c.token, "[EXPUNGED]")
	}
	c.makeRequest = c.makeTelegramRequest
	c.sleep = sleep
	return c
}

// Reason tells why a request was given up.
type Reason int

const (
	// Exhausted means that every attempt failed with a transient error.
	Exhausted Reason = iota + 1
	// Rejected means that Telegram refused the request, retrying would not
	// help.
	Rejected
)

func (r Reason) String() string {
	switch r {
	case Exhausted:
		return "exhausted"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// PublishError is returned when a Bot API request failed.
type PublishError struct {
	Method   string
	Reason   Reason
	Attempts int
	Err      error
}

func (e *PublishError) Error() string {
	if e.Reason == Exhausted {
		return fmt.Sprintf("telegram: %s failed after %d attempts: %v", e.Method, e.Attempts, e.Err)
	}
	return fmt.Sprintf("telegram: %s %s: %v", e.Method, e.Reason, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Call makes a Bot API request and returns its result. Transient failures
// are retried with exponential backoff; other failures are returned
// immediately. Both are reported as *PublishError.
func (c *Client) Call(ctx context.Context, method string, args any) (json.RawMessage, error) {
	var err error
	for attempt := range sendRetryLimit {
		var res json.RawMessage
		res, err = c.makeRequest(ctx, method, args)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		transient, retryAfter := classify(err)
		if !transient {
			return nil, &PublishError{Method: method, Reason: Rejected, Attempts: attempt + 1, Err: err}
		}
		if attempt == sendRetryLimit-1 {
			break
		}

		wait := max(backoff(attempt), retryAfter)
		c.slog.Warn("request failed, retrying", "method", method, "attempt", attempt+1, "wait", wait, "error", err)
		if !c.sleep(ctx, wait) {
			return nil, ctx.Err()
		}
	}
	return nil, &PublishError{Method: method, Reason: Exhausted, Attempts: sendRetryLimit, Err: err}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

var errNotOK = errors.New("response is not ok")

func (c *Client) makeTelegramRequest(ctx context.Context, method string, args any) (json.RawMessage, error) {
	if args == nil {
		args = struct{}{}
	}
	resp, err := request.Make[apiResponse](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        c.apiURL + "/bot" + c.token + "/" + method,
		Body:       args,
		HTTPClient: c.httpc,
		Scrubber:   c.scrubber,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("%w: %s", errNotOK, resp.Description)
	}
	return resp.Result, nil
}

// classify reports whether err is worth retrying and how long Telegram asked
// to wait before the next attempt.
func classify(err error) (transient bool, retryAfter time.Duration) {
	var statusErr *request.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return true, parseRetryAfter(statusErr.Body)
		case statusErr.StatusCode >= 500:
			return true, 0
		}
		return false, 0
	}

	// Transport failures, including timeouts and truncated responses.
	var (
		urlErr *url.Error
		netErr net.Error
	)
	switch {
	case errors.As(err, &urlErr):
		return true, 0
	case errors.As(err, &netErr) && netErr.Timeout():
		return true, 0
	case errors.Is(err, io.ErrUnexpectedEOF):
		return true, 0
	}
	return false, 0
}

func parseRetryAfter(body []byte) time.Duration {
	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(body, &errorResponse); err != nil {
		return 0
	}
	return time.Duration(errorResponse.Parameters.RetryAfter) * time.Second
}

func backoff(attempt int) time.Duration {
	if attempt >= 6 {
		return maxBackoff
	}
	return min(minBackoff<<attempt, maxBackoff)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
