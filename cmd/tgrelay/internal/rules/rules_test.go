// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package rules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/message"
	"go.astrophena.name/tgrelay/internal/testutil"
)

func TestAllow(t *testing.T) {
	t.Parallel()

	ad := &message.Message{Channel: "news", ID: 1, Parts: []message.Part{message.Text{HTML: "<b>Buy</b> now #ad"}}}
	poll := &message.Message{Channel: "news", ID: 2, Parts: []message.Part{message.Other{Kind: "poll"}}}
	photo := &message.Message{Channel: "news", ID: 3, Parts: []message.Part{message.Image{URL: "x"}}, Caption: "nice"}
	old := &message.Message{Channel: "news", ID: 4, Parts: []message.Part{message.Text{HTML: "old"}}, Date: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	other := &message.Message{Channel: "other", ID: 5, Parts: []message.Part{message.Text{HTML: "hello"}}}

	cases := map[string]struct {
		src  string
		want map[*message.Message]bool
	}{
		"block": {
			src: `
def block(msg):
    return "#ad" in msg.text or "poll" in msg.media
`,
			want: map[*message.Message]bool{ad: false, poll: false, photo: true, old: true, other: true},
		},
		"keep": {
			src: `
def keep(msg):
    return msg.channel == "news" and msg.id >= 3
`,
			want: map[*message.Message]bool{ad: false, poll: false, photo: true, old: true, other: false},
		},
		"block and keep": {
			src: `
def block(msg):
    return msg.id == 3

def keep(msg):
    return msg.channel == "news"
`,
			want: map[*message.Message]bool{ad: true, poll: true, photo: false, old: true, other: false},
		},
		"date": {
			src: `
def block(msg):
    return msg.date != None and msg.date < time.parse_time("2021-01-01T00:00:00Z")
`,
			want: map[*message.Message]bool{ad: true, poll: true, photo: true, old: false, other: true},
		},
		"failing rule lets everything through": {
			src: `
def block(msg):
    fail("oops")
`,
			want: map[*message.Message]bool{ad: true, poll: true, photo: true, old: true, other: true},
		},
		"endless loop lets everything through": {
			src: `
def block(msg):
    while True:
        pass
`,
			want: map[*message.Message]bool{ad: true, poll: true, photo: true, old: true, other: true},
		},
		"non-boolean result lets everything through": {
			src: `
def keep(msg):
    return "yes"
`,
			want: map[*message.Message]bool{ad: true, poll: true, photo: true, old: true, other: true},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r, err := Load("rules.star", tc.src, nil)
			if err != nil {
				t.Fatal(err)
			}
			for msg, want := range tc.want {
				if got := r.Allow(msg); got != want {
					t.Errorf("Allow(%s/%d) = %v, want %v", msg.Channel, msg.ID, got, want)
				}
			}
		})
	}
}

func TestNilRulesAllow(t *testing.T) {
	t.Parallel()

	var r *Rules
	testutil.AssertEqual(t, r.Allow(&message.Message{}), true)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		src         string
		wantInError string
	}{
		"syntax error":    {src: "def block(msg)\n", wantInError: "rules.star:1"},
		"no rules":        {src: "x = 1\n", wantInError: errNoRules.Error()},
		"not a function":  {src: "block = True\n", wantInError: "block must be a function"},
		"wrong signature": {src: "def keep(a, b):\n    return True\n", wantInError: "keep must take exactly one parameter"},
		"endless loop":    {src: "while True:\n    pass\n", wantInError: "too many steps"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load("rules.star", tc.src, nil)
			if err == nil {
				t.Fatal("want error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantInError) {
				t.Fatalf("error %q does not contain %q", err, tc.wantInError)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.star")
	if err := os.WriteFile(path, []byte("def block(msg):\n    return True\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := Load(path, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, r.Allow(&message.Message{}), false)

	_, err = Load(filepath.Join(t.TempDir(), "missing.star"), nil, nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want os.ErrNotExist, got %v", err)
	}
}
