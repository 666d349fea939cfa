// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package rules filters relayed posts with user-defined Starlark functions.
//
// A rules file may define two functions, both taking a post:
//
//	def block(msg):
//	    return "#ad" in msg.text
//
//	def keep(msg):
//	    return msg.channel != "noisy" or len(msg.media) > 0
//
// A post is relayed when block is not defined or returns False, and keep is
// not defined or returns True. The post is a struct with these fields:
//
//   - channel (string): source channel name
//   - id (int): post id
//   - text (string): post text without markup
//   - html (string): post text as Telegram HTML
//   - link (string): post URL
//   - media (list of strings): kinds of the post parts, like "image" or "poll"
//   - date (time or None): publication time
//
// The time module from go.starlark.net/lib/time is predeclared. Loading the
// file and every rule call are limited in the number of steps they may
// execute.
package rules

import (
	"errors"
	"fmt"
	"log/slog"

	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/message"
)

// Rules holds the compiled rule functions. A nil *Rules allows everything.
type Rules struct {
	block *starlark.Function
	keep  *starlark.Function
	slog  *slog.Logger
}

var errNoRules = errors.New("neither block nor keep is defined")

// maxSteps bounds the work of loading the file and of every rule call.
// A rule that runs out of steps fails and allows the post.
const maxSteps = 1_000_000

func newThread(name string, onPrint func(*starlark.Thread, string)) *starlark.Thread {
	thread := &starlark.Thread{Name: name, Print: onPrint}
	thread.SetMaxExecutionSteps(maxSteps)
	return thread
}

// Load executes the rules file. src is the file content; if nil, filename is
// read from disk.
func Load(filename string, src any, logger *slog.Logger) (*Rules, error) {
	if logger == nil {
		logger = slog.Default()
	}
	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{
			TopLevelControl: true,
			While:           true,
		},
		newThread("rules", func(_ *starlark.Thread, msg string) { logger.Info(msg, "source", filename) }),
		filename,
		src,
		starlark.StringDict{
			"time": starlarktime.Module,
		},
	)
	if err != nil {
		return nil, err
	}

	r := &Rules{slog: logger}
	for name, dst := range map[string]**starlark.Function{
		"block": &r.block,
		"keep":  &r.keep,
	} {
		v, ok := globals[name]
		if !ok {
			continue
		}
		fn, ok := v.(*starlark.Function)
		if !ok {
			return nil, fmt.Errorf("%s: %s must be a function, got %s", filename, name, v.Type())
		}
		if fn.NumParams() != 1 {
			return nil, fmt.Errorf("%s: %s must take exactly one parameter", filename, name)
		}
		*dst = fn
	}
	if r.block == nil && r.keep == nil {
		return nil, fmt.Errorf("%s: %w", filename, errNoRules)
	}
	return r, nil
}

// Allow reports whether msg should be relayed. Failing rules allow the post.
func (r *Rules) Allow(msg *message.Message) bool {
	if r == nil {
		return true
	}
	v := toStarlark(msg)
	if r.block != nil {
		if blocked, ok := r.apply(r.block, v, msg); ok && blocked {
			return false
		}
	}
	if r.keep != nil {
		if keep, ok := r.apply(r.keep, v, msg); ok && !keep {
			return false
		}
	}
	return true
}

func (r *Rules) apply(rule *starlark.Function, v starlark.Value, msg *message.Message) (result, ok bool) {
	val, err := starlark.Call(
		newThread(rule.Name(), func(_ *starlark.Thread, s string) { r.slog.Info(s, "rule", rule.Name()) }),
		rule,
		starlark.Tuple{v},
		nil,
	)
	if err != nil {
		r.slog.Warn("applying rule", "rule", rule.Name(), "channel", msg.Channel, "id", msg.ID, "error", err)
		return false, false
	}
	ret, ok := val.(starlark.Bool)
	if !ok {
		r.slog.Warn("rule returned non-boolean value", "rule", rule.Name(), "channel", msg.Channel, "id", msg.ID, "type", val.Type())
		return false, false
	}
	return bool(ret), true
}

func toStarlark(msg *message.Message) starlark.Value {
	var media []starlark.Value
	for _, kind := range msg.Kinds() {
		if kind == "text" {
			continue
		}
		media = append(media, starlark.String(kind))
	}
	var date starlark.Value = starlark.None
	if !msg.Date.IsZero() {
		date = starlarktime.Time(msg.Date)
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"channel": starlark.String(msg.Channel),
		"id":      starlark.MakeInt64(msg.ID),
		"text":    starlark.String(msg.PlainText()),
		"html":    starlark.String(msg.HTML()),
		"link":    starlark.String(msg.Link),
		"media":   starlark.NewList(media),
		"date":    date,
	})
}
