// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package version

import (
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	t.Parallel()

	ua := UserAgent()
	if !strings.HasPrefix(ua, "tgrelay/") {
		t.Fatalf("UserAgent() = %q, want tgrelay/ prefix", ua)
	}
}

func TestInfoString(t *testing.T) {
	t.Parallel()

	i := Info{Name: "tgrelay", Version: "v1.0.0", Go: "go1.24", OS: "linux", Arch: "amd64"}
	want := "tgrelay v1.0.0 (go1.24, linux/amd64)\n"
	if got := i.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}

	i.Commit, i.BuiltAt = "abc", "2026-01-01T00:00:00Z"
	if got := i.String(); !strings.Contains(got, "commit abc\n") {
		t.Fatalf("String() = %q, want commit line", got)
	}
}
