// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package source

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch matches every error that prevented reading a channel or a
	// post, including [ParseError].
	ErrFetch = errors.New("fetch failed")
	// ErrParse matches errors of individual posts that could not be parsed.
	ErrParse = errors.New("parse failed")

	errUnexpectedPage = errors.New("unexpected page structure")
	errNoPostID       = errors.New("post has no id")
)

// FetchError is returned when a channel could not be read at all.
type FetchError struct {
	Channel string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %q: %v", e.Channel, e.Err)
}

func (e *FetchError) Unwrap() []error { return []error{ErrFetch, e.Err} }

// ParseError describes a single post that was skipped because it could not
// be parsed. It matches both [ErrParse] and [ErrFetch].
type ParseError struct {
	Channel string
	// Post is the raw post reference, such as "durov/123", if known.
	Post string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Post == "" {
		return fmt.Sprintf("parsing post in %q: %v", e.Channel, e.Err)
	}
	return fmt.Sprintf("parsing post %q in %q: %v", e.Post, e.Channel, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrParse, ErrFetch, e.Err} }
