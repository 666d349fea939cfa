// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/dedup"
	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/message"
	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/source"
	"go.astrophena.name/tgrelay/internal/testutil"
)

// fakeSource serves posts with the given ids per channel. Channels in fail
// return a fetch error.
type fakeSource struct {
	posts   map[string][]int64
	skipped map[string]int
	fail    map[string]bool
}

func (s *fakeSource) Fetch(_ context.Context, ch message.Channel, limit int) (*source.Result, error) {
	if s.fail[ch.Name] {
		return nil, &source.FetchError{Channel: ch.Name, Err: errors.New("want 200, got 404")}
	}
	res := new(source.Result)
	for _, id := range s.posts[ch.Name] {
		res.Messages = append(res.Messages, &message.Message{
			Channel: ch.Name,
			ID:      id,
			Parts:   []message.Part{message.Text{HTML: fmt.Sprintf("post %d", id)}},
			Link:    message.Link(ch.Name, id),
		})
	}
	for range s.skipped[ch.Name] {
		res.Skipped = append(res.Skipped, &source.ParseError{Channel: ch.Name, Err: errors.New("bad post")})
	}
	return res, nil
}

type published struct {
	Channel string
	ID      int64
}

type fakePublisher struct {
	mu        sync.Mutex
	published []published
	fail      map[int64]bool
}

func (p *fakePublisher) Publish(_ context.Context, msg *message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[msg.ID] {
		return errors.New("telegram: sendMessage rejected: chat not found")
	}
	p.published = append(p.published, published{msg.Channel, msg.ID})
	return nil
}

type filterFunc func(*message.Message) bool

func (f filterFunc) Allow(msg *message.Message) bool { return f(msg) }

// failingStore fails every check of ids in checkFail and every mark of ids
// in markFail.
type failingStore struct {
	dedup.Store
	checkFail map[int64]bool
	markFail  map[int64]bool
}

func (s *failingStore) HasBeenRelayed(ctx context.Context, channel string, id int64) (bool, error) {
	if s.checkFail[id] {
		return false, &dedup.StoreError{Op: "check", Channel: channel, ID: id, Err: errors.New("disk I/O error")}
	}
	return s.Store.HasBeenRelayed(ctx, channel, id)
}

func (s *failingStore) MarkRelayed(ctx context.Context, channel string, id int64) error {
	if s.markFail[id] {
		return &dedup.StoreError{Op: "mark", Channel: channel, ID: id, Err: errors.New("disk I/O error")}
	}
	return s.Store.MarkRelayed(ctx, channel, id)
}

var epoch = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func testRelay(t *testing.T, cfg Config) *Relay {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = dedup.NewMem()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = new(fakePublisher)
	}
	if cfg.Limit == 0 {
		cfg.Limit = 20
	}
	if cfg.Sleep == nil {
		cfg.Sleep = func(context.Context, time.Duration) bool { return true }
	}
	now := epoch
	cfg.Now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return New(cfg)
}

func channels(names ...string) []message.Channel {
	var chans []message.Channel
	for i, name := range names {
		chans = append(chans, message.Channel{Name: name, Position: i})
	}
	return chans
}

func TestOrderPreservation(t *testing.T) {
	t.Parallel()

	pub := new(fakePublisher)
	r := testRelay(t, Config{
		Channels:  channels("first", "second"),
		Source:    &fakeSource{posts: map[string][]int64{"first": {3, 1, 2}, "second": {20, 10}}},
		Publisher: pub,
	})
	cs := r.RunCycle(t.Context())

	testutil.AssertEqual(t, pub.published, []published{
		{"first", 1}, {"first", 2}, {"first", 3},
		{"second", 10}, {"second", 20},
	})
	testutil.AssertEqual(t, cs.Seen, 5)
	testutil.AssertEqual(t, cs.Relayed, 5)
	testutil.AssertEqual(t, cs.Errors, 0)
}

func TestNoDuplicateRelay(t *testing.T) {
	t.Parallel()

	store := dedup.NewMem()
	if err := store.MarkRelayed(t.Context(), "chan", 10); err != nil {
		t.Fatal(err)
	}
	pub := new(fakePublisher)
	r := testRelay(t, Config{
		Channels:  channels("chan"),
		Source:    &fakeSource{posts: map[string][]int64{"chan": {9, 10, 11}}},
		Store:     store,
		Publisher: pub,
	})

	cs := r.RunCycle(t.Context())
	testutil.AssertEqual(t, pub.published, []published{{"chan", 9}, {"chan", 11}})
	testutil.AssertEqual(t, cs.Seen, 3)
	testutil.AssertEqual(t, cs.Relayed, 2)

	// The next cycle sees the same posts and relays nothing.
	cs = r.RunCycle(t.Context())
	testutil.AssertEqual(t, len(pub.published), 2)
	testutil.AssertEqual(t, cs.Relayed, 0)
	testutil.AssertEqual(t, cs.TotalRelayed, int64(2))
	testutil.AssertEqual(t, cs.Cycles, int64(2))
}

func TestPartialFailureIsolation(t *testing.T) {
	t.Parallel()

	pub := new(fakePublisher)
	r := testRelay(t, Config{
		Channels: channels("broken", "working"),
		Source: &fakeSource{
			posts: map[string][]int64{"working": {1, 2}},
			fail:  map[string]bool{"broken": true},
		},
		Publisher: pub,
	})

	cs := r.RunCycle(t.Context())
	testutil.AssertEqual(t, pub.published, []published{{"working", 1}, {"working", 2}})
	testutil.AssertEqual(t, cs.Relayed, 2)
	if cs.Errors < 1 {
		t.Fatalf("Errors = %d, want at least 1", cs.Errors)
	}
}

func TestPublishFailureNonMarking(t *testing.T) {
	t.Parallel()

	store := dedup.NewMem()
	pub := &fakePublisher{fail: map[int64]bool{2: true}}
	r := testRelay(t, Config{
		Channels:  channels("chan"),
		Source:    &fakeSource{posts: map[string][]int64{"chan": {1, 2, 3}}},
		Store:     store,
		Publisher: pub,
	})

	cs := r.RunCycle(t.Context())
	testutil.AssertEqual(t, pub.published, []published{{"chan", 1}, {"chan", 3}})
	testutil.AssertEqual(t, cs.Errors, 1)
	testutil.AssertEqual(t, cs.Relayed, 2)

	relayed, err := store.HasBeenRelayed(t.Context(), "chan", 2)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, relayed, false)

	// Once Telegram accepts the post, it is relayed in the next cycle.
	pub.fail = nil
	r.RunCycle(t.Context())
	testutil.AssertEqual(t, pub.published, []published{{"chan", 1}, {"chan", 3}, {"chan", 2}})
}

func TestStoreErrors(t *testing.T) {
	t.Parallel()

	pub := new(fakePublisher)
	store := &failingStore{
		Store:     dedup.NewMem(),
		checkFail: map[int64]bool{1: true},
		markFail:  map[int64]bool{2: true},
	}
	r := testRelay(t, Config{
		Channels:  channels("chan"),
		Source:    &fakeSource{posts: map[string][]int64{"chan": {1, 2, 3}}},
		Store:     store,
		Publisher: pub,
	})

	cs := r.RunCycle(t.Context())
	// Post 1 is skipped, post 2 is published but not marked.
	testutil.AssertEqual(t, pub.published, []published{{"chan", 2}, {"chan", 3}})
	testutil.AssertEqual(t, cs.Errors, 2)
	testutil.AssertEqual(t, cs.Relayed, 2)
}

func TestSkippedPostsCountAsErrors(t *testing.T) {
	t.Parallel()

	r := testRelay(t, Config{
		Channels: channels("chan"),
		Source: &fakeSource{
			posts:   map[string][]int64{"chan": {1}},
			skipped: map[string]int{"chan": 2},
		},
	})
	cs := r.RunCycle(t.Context())
	testutil.AssertEqual(t, cs.Errors, 2)
	testutil.AssertEqual(t, cs.Relayed, 1)
}

func TestFilter(t *testing.T) {
	t.Parallel()

	store := dedup.NewMem()
	pub := new(fakePublisher)
	r := testRelay(t, Config{
		Channels:  channels("chan"),
		Source:    &fakeSource{posts: map[string][]int64{"chan": {1, 2, 3, 4}}},
		Store:     store,
		Publisher: pub,
		Filter:    filterFunc(func(m *message.Message) bool { return m.ID%2 == 0 }),
	})

	cs := r.RunCycle(t.Context())
	testutil.AssertEqual(t, pub.published, []published{{"chan", 2}, {"chan", 4}})
	testutil.AssertEqual(t, cs.Blocked, 2)
	testutil.AssertEqual(t, cs.Relayed, 2)

	// Blocked posts are not marked.
	relayed, err := store.HasBeenRelayed(t.Context(), "chan", 1)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, relayed, false)
}

func TestDryRun(t *testing.T) {
	t.Parallel()

	store := dedup.NewMem()
	pub := new(fakePublisher)
	r := testRelay(t, Config{
		Channels:  channels("chan"),
		Source:    &fakeSource{posts: map[string][]int64{"chan": {1, 2}}},
		Store:     store,
		Publisher: pub,
		DryRun:    true,
	})

	cs := r.RunCycle(t.Context())
	testutil.AssertEqual(t, len(pub.published), 0)
	testutil.AssertEqual(t, cs.Seen, 2)
	testutil.AssertEqual(t, cs.Relayed, 0)

	relayed, err := store.HasBeenRelayed(t.Context(), "chan", 1)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, relayed, false)
}

func TestPublishDelay(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	r := testRelay(t, Config{
		Channels:     channels("chan"),
		Source:       &fakeSource{posts: map[string][]int64{"chan": {1, 2}}},
		PublishDelay: 5 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) bool {
			waits = append(waits, d)
			return true
		},
	})
	r.RunCycle(t.Context())
	testutil.AssertEqual(t, waits, []time.Duration{5 * time.Second, 5 * time.Second})
}

func TestCycleStatsTiming(t *testing.T) {
	t.Parallel()

	r := testRelay(t, Config{
		Channels: channels("chan"),
		Source:   &fakeSource{posts: map[string][]int64{"chan": {1}}},
	})
	cs := r.RunCycle(t.Context())
	testutil.AssertEqual(t, cs.StartedAt, epoch.Add(time.Second))
	testutil.AssertEqual(t, cs.Duration, time.Second)
	testutil.AssertEqual(t, r.Stats(), cs)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	var (
		intervals []time.Duration
		cycles    int
	)
	r := testRelay(t, Config{
		Channels: channels("chan"),
		Source:   &fakeSource{posts: map[string][]int64{"chan": {1}}},
		Interval: 10 * time.Minute,
		Sleep: func(ctx context.Context, d time.Duration) bool {
			intervals = append(intervals, d)
			cycles++
			if cycles == 3 {
				cancel()
				return false
			}
			return true
		},
	})

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	testutil.AssertEqual(t, intervals, []time.Duration{10 * time.Minute, 10 * time.Minute, 10 * time.Minute})
	testutil.AssertEqual(t, r.Stats().Cycles, int64(3))
	testutil.AssertEqual(t, r.Stats().TotalRelayed, int64(1))
}

func TestCanceledCycleStops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	pub := new(fakePublisher)
	r := testRelay(t, Config{
		Channels:     channels("chan", "other"),
		Source:       &fakeSource{posts: map[string][]int64{"chan": {1, 2, 3}, "other": {1}}},
		Publisher:    pub,
		PublishDelay: time.Second,
		Sleep: func(context.Context, time.Duration) bool {
			cancel()
			return false
		},
	})
	r.RunCycle(ctx)
	testutil.AssertEqual(t, pub.published, []published{{"chan", 1}})
}

func TestHealthy(t *testing.T) {
	t.Parallel()

	r := testRelay(t, Config{
		Channels: channels("broken"),
		Source:   &fakeSource{fail: map[string]bool{"broken": true}},
	})
	_, ok := r.Healthy()
	testutil.AssertEqual(t, ok, true)

	r.RunCycle(t.Context())
	status, ok := r.Healthy()
	testutil.AssertEqual(t, ok, false)
	testutil.AssertEqual(t, status, "last cycle failed")
}

func TestReporter(t *testing.T) {
	t.Parallel()

	r := testRelay(t, Config{
		Channels: channels("chan"),
		Source:   &fakeSource{posts: map[string][]int64{"chan": {1}}},
	})
	r.RunCycle(t.Context())

	rep := NewReporter(r, 12345)
	testutil.AssertEqual(t, rep.Snapshot().Relayed, 1)
	testutil.AssertEqual(t, rep.Channels(), channels("chan"))

	cases := map[int64]bool{
		12345:  true,
		0:      false,
		-12345: false,
		1:      false,
		123456: false,
	}
	for caller, want := range cases {
		testutil.AssertEqual(t, rep.IsAdmin(caller), want)
	}

	nobody := NewReporter(r, 0)
	for _, caller := range []int64{0, 12345, -1} {
		testutil.AssertEqual(t, nobody.IsAdmin(caller), false)
	}
}

func TestCycleStatsString(t *testing.T) {
	t.Parallel()

	testutil.AssertEqual(t, CycleStats{}.String(), "No cycles completed yet.")
	testutil.AssertEqual(t, CycleStats{
		Seen:         5,
		Relayed:      2,
		Errors:       1,
		Blocked:      1,
		StartedAt:    epoch,
		Duration:     1500 * time.Millisecond,
		TotalRelayed: 10,
		Cycles:       4,
	}.String(), "Last cycle: 2026-10-19 12:00:00 UTC (took 1.5s)\n"+
		"Seen: 5, relayed: 2, blocked: 1, errors: 1\n"+
		"Total relayed: 10 in 4 cycles")
}
