// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package relay periodically copies new posts of source channels to the
// destination chat.
//
// Each cycle visits channels in their configured order and posts of a channel
// in ascending id order, so the destination receives posts in the same order
// as they appeared in each source. A post is recorded in the dedup store only
// after it was published; a post that failed to publish is retried in the
// next cycle.
package relay

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/dedup"
	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/message"
	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/source"
	"go.astrophena.name/tgrelay/internal/syncx"
)

// Publisher sends a post to the destination chat.
type Publisher interface {
	Publish(ctx context.Context, msg *message.Message) error
}

// Filter decides whether a post should be relayed.
type Filter interface {
	Allow(msg *message.Message) bool
}

// Config configures a [Relay].
type Config struct {
	Channels  []message.Channel
	Source    source.Source
	Store     dedup.Store
	Publisher Publisher
	// Filter is optional.
	Filter Filter

	// Interval is the pause between cycles.
	Interval time.Duration
	// Limit is the number of recent posts fetched per channel.
	Limit int
	// PublishDelay is the pause after each published post.
	PublishDelay time.Duration
	// DryRun disables publishing and marking.
	DryRun bool

	Logger *slog.Logger
	// Sleep acts as time.Sleep that can be interrupted by ctx, returning
	// false in that case. Can be mocked for testing.
	Sleep func(ctx context.Context, d time.Duration) bool
	// Now acts as time.Now, but can be mocked for testing.
	Now func() time.Time
}

// Relay runs relay cycles.
type Relay struct {
	cfg   Config
	slog  *slog.Logger
	sleep func(context.Context, time.Duration) bool
	now   func() time.Time
	stats *syncx.Protected[CycleStats]
}

// New returns a new Relay.
func New(cfg Config) *Relay {
	r := &Relay{
		cfg:   cfg,
		slog:  cfg.Logger,
		sleep: cfg.Sleep,
		now:   cfg.Now,
		stats: syncx.Protect(CycleStats{}),
	}
	if r.slog == nil {
		r.slog = slog.Default()
	}
	if r.sleep == nil {
		r.sleep = sleep
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Channels returns the configured source channels.
func (r *Relay) Channels() []message.Channel { return r.cfg.Channels }

// Stats returns the statistics of the last completed cycle.
func (r *Relay) Stats() CycleStats { return r.stats.Load() }

// Run runs cycles until ctx is canceled, sleeping the configured interval
// between them. It returns nil on cancellation.
func (r *Relay) Run(ctx context.Context) error {
	r.slog.Info("relay started", "channels", len(r.cfg.Channels), "interval", r.cfg.Interval, "dry_run", r.cfg.DryRun)
	for {
		r.RunCycle(ctx)
		if ctx.Err() != nil || !r.sleep(ctx, r.cfg.Interval) {
			r.slog.Info("relay stopped")
			return nil
		}
	}
}

// RunCycle performs a single cycle and returns its statistics.
func (r *Relay) RunCycle(ctx context.Context) CycleStats {
	cs := CycleStats{StartedAt: r.now()}
	for _, ch := range r.cfg.Channels {
		if ctx.Err() != nil {
			break
		}
		r.relayChannel(ctx, ch, &cs)
	}
	cs.Duration = r.now().Sub(cs.StartedAt)

	prev := r.stats.Load()
	cs.TotalRelayed = prev.TotalRelayed + int64(cs.Relayed)
	cs.Cycles = prev.Cycles + 1
	r.stats.Store(cs)

	attrs := []any{"seen", cs.Seen, "relayed", cs.Relayed, "blocked", cs.Blocked, "errors", cs.Errors, "duration", cs.Duration}
	switch {
	case ctx.Err() != nil:
		r.slog.Info("cycle interrupted", attrs...)
	case cs.Relayed > 0:
		r.slog.Info("cycle finished", attrs...)
	default:
		r.slog.Info("cycle finished, no new posts", attrs...)
	}
	return cs
}

func (r *Relay) relayChannel(ctx context.Context, ch message.Channel, cs *CycleStats) {
	res, err := r.cfg.Source.Fetch(ctx, ch, r.cfg.Limit)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		cs.Errors++
		r.slog.Error("fetching channel failed", "channel", ch.Name, "error", err)
		return
	}
	cs.Errors += len(res.Skipped)

	msgs := slices.SortedStableFunc(slices.Values(res.Messages), func(a, b *message.Message) int {
		return cmp.Compare(a.ID, b.ID)
	})
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return
		}
		cs.Seen++

		relayed, err := r.cfg.Store.HasBeenRelayed(ctx, ch.Name, msg.ID)
		if err != nil {
			cs.Errors++
			r.slog.Error("checking post failed", "channel", ch.Name, "id", msg.ID, "error", err)
			continue
		}
		if relayed {
			continue
		}

		if r.cfg.Filter != nil && !r.cfg.Filter.Allow(msg) {
			cs.Blocked++
			r.slog.Debug("post blocked by rules", "channel", ch.Name, "id", msg.ID)
			continue
		}

		if r.cfg.DryRun {
			r.slog.Debug("dry run: would relay post", "channel", ch.Name, "id", msg.ID, "link", msg.Link, "parts", msg.Kinds())
			continue
		}

		if err := r.cfg.Publisher.Publish(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			cs.Errors++
			r.slog.Error("publishing post failed", "channel", ch.Name, "id", msg.ID, "error", err)
			continue
		}

		if err := r.cfg.Store.MarkRelayed(ctx, ch.Name, msg.ID); err != nil {
			cs.Errors++
			r.slog.Error("marking post failed, it may be relayed again", "channel", ch.Name, "id", msg.ID, "error", err)
		}
		cs.Relayed++
		r.slog.Info("relayed post", "channel", ch.Name, "id", msg.ID)

		if r.cfg.PublishDelay > 0 && !r.sleep(ctx, r.cfg.PublishDelay) {
			return
		}
	}
}

// Healthy reports whether the last cycle did any useful work. It implements
// a health check function.
func (r *Relay) Healthy() (status string, ok bool) {
	s := r.Stats()
	switch {
	case s.Cycles == 0:
		return "starting", true
	case s.Errors > 0 && s.Seen == 0:
		return "last cycle failed", false
	}
	return "ok", true
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
