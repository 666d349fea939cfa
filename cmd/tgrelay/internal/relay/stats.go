// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package relay

import (
	"fmt"
	"strings"
	"time"
)

// CycleStats describes the last completed relay cycle.
type CycleStats struct {
	// Seen is the number of fetched posts.
	Seen int `json:"seen"`
	// Relayed is the number of published posts.
	Relayed int `json:"relayed"`
	// Errors counts channel, post and publish failures.
	Errors int `json:"errors"`
	// Blocked is the number of posts rejected by rules.
	Blocked int `json:"blocked"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// Process lifetime counters.
	TotalRelayed int64 `json:"total_relayed"`
	Cycles       int64 `json:"cycles"`
}

// String formats s for humans.
func (s CycleStats) String() string {
	if s.Cycles == 0 {
		return "No cycles completed yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Last cycle: %s (took %s)\n", s.StartedAt.UTC().Format(time.DateTime+" MST"), s.Duration.Round(time.Millisecond))
	fmt.Fprintf(&sb, "Seen: %d, relayed: %d, blocked: %d, errors: %d\n", s.Seen, s.Relayed, s.Blocked, s.Errors)
	fmt.Fprintf(&sb, "Total relayed: %d in %d cycles", s.TotalRelayed, s.Cycles)
	return sb.String()
}
