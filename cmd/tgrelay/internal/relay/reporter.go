// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package relay

import "go.astrophena.name/tgrelay/cmd/tgrelay/internal/message"

// Reporter exposes relay statistics to the admin.
type Reporter struct {
	r       *Relay
	adminID int64
}

// NewReporter returns a Reporter for r. An adminID of zero means that
// nobody is the admin.
func NewReporter(r *Relay, adminID int64) *Reporter {
	return &Reporter{r: r, adminID: adminID}
}

// Snapshot returns the statistics of the last completed cycle.
func (rep *Reporter) Snapshot() CycleStats { return rep.r.Stats() }

// Channels returns the configured source channels.
func (rep *Reporter) Channels() []message.Channel { return rep.r.Channels() }

// IsAdmin reports whether callerID is the configured admin.
func (rep *Reporter) IsAdmin(callerID int64) bool {
	return rep.adminID != 0 && callerID == rep.adminID
}
