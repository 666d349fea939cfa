// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/bot"
	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/dedup"
	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/message"
	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/relay"
	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/rules"
	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/source"
	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/telegram"
	"go.astrophena.name/tgrelay/internal/cli"
	"go.astrophena.name/tgrelay/internal/filelock"
	"go.astrophena.name/tgrelay/internal/httplogger"
	"go.astrophena.name/tgrelay/internal/logger"
	"go.astrophena.name/tgrelay/internal/request"
	"go.astrophena.name/tgrelay/internal/systemd"
	"go.astrophena.name/tgrelay/internal/web"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const (
	defaultInterval     = 600 * time.Second
	defaultLimit        = 20
	defaultPublishDelay = 5 * time.Second
)

var errInvalidConfig = errors.New("invalid configuration")

func main() { cli.Main(new(app)) }

type app struct {
	// flags
	envFile string
	dry     bool
	once    bool

	// httpc, apiURL and previewURL can be mocked for testing.
	httpc      *http.Client
	apiURL     string
	previewURL string
	// ready is called with the HTTP server address once it listens.
	ready func(addr string)

	// initialized by Run
	relay *relay.Relay
	store dedup.Store
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.StringVar(&a.envFile, "env-file", ".env", "Load environment variables from `file`, if it exists.")
	fs.BoolVar(&a.dry, "dry", false, "Enable dry-run mode: log posts, but don't publish or remember them.")
	fs.BoolVar(&a.once, "once", false, "Run one cycle, print its statistics and exit.")
}

// config is tgrelay configuration read from the environment.
type config struct {
	token        string
	chatID       string
	adminID      int64
	channels     []message.Channel
	interval     time.Duration
	limit        int
	publishDelay time.Duration
	stateDir     string
	databaseURL  string
	sourceMode   string
	bridgeURL    string
	rulesFile    string
	addr         string
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)
	l := logger.Get(ctx)

	// Enable debug logging in dry-run mode.
	if a.dry {
		l.Level.Set(slog.LevelDebug)
	}

	getenv, err := a.loadEnvFile(env.Getenv)
	if err != nil {
		return err
	}
	cfg, err := parseConfig(getenv)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.stateDir, 0o700); err != nil {
		return err
	}
	lock, err := filelock.Acquire(cfg.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	store, err := dedup.Open(ctx, cfg.databaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	a.store = store

	var filter relay.Filter
	if cfg.rulesFile != "" {
		rs, err := rules.Load(cfg.rulesFile, nil, l.Logger)
		if err != nil {
			return fmt.Errorf("%w: RULES_FILE: %w", errInvalidConfig, err)
		}
		filter = rs
	}

	// Outgoing requests are logged in dry-run mode.
	base := cmp.Or(a.httpc, request.DefaultClient)
	httpc := &http.Client{
		Timeout:   base.Timeout,
		Transport: httplogger.New(base.Transport, l.Logger, cfg.token),
	}

	var src source.Source
	switch cfg.sourceMode {
	case "rss":
		src = source.NewFeed(source.FeedConfig{
			URLTemplate: cfg.bridgeURL,
			HTTPClient:  httpc,
			Logger:      l.Logger,
		})
	default:
		src = source.NewPreview(source.PreviewConfig{
			BaseURL:    a.previewURL,
			HTTPClient: httpc,
			Logger:     l.Logger,
		})
	}

	tc := telegram.New(telegram.Config{
		Token:      cfg.token,
		APIURL:     a.apiURL,
		HTTPClient: httpc,
		Logger:     l.Logger,
	})

	a.relay = relay.New(relay.Config{
		Channels:     cfg.channels,
		Source:       src,
		Store:        store,
		Publisher:    telegram.NewPublisher(tc, telegram.PublisherConfig{ChatID: cfg.chatID}),
		Filter:       filter,
		Interval:     cfg.interval,
		Limit:        cfg.limit,
		PublishDelay: cfg.publishDelay,
		DryRun:       a.dry,
		Logger:       l.Logger,
	})

	if a.once {
		cs := a.relay.RunCycle(ctx)
		fmt.Fprintln(env.Stdout, cs.String())
		return nil
	}

	sd := systemd.New(env.Getenv, l.Logger)
	sd.Notify(systemd.Ready, systemd.Status(fmt.Sprintf("Relaying %d channels", len(cfg.channels))))
	defer sd.Notify(systemd.Stopping)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.relay.Run(ctx) })
	g.Go(func() error { return sd.WatchdogLoop(ctx) })
	g.Go(func() error {
		return bot.New(bot.Config{
			API:      tc,
			Reporter: relay.NewReporter(a.relay, cfg.adminID),
			Logger:   l.Logger,
		}).Run(ctx)
	})
	if cfg.addr != "" {
		g.Go(func() error {
			return web.ListenAndServe(ctx, &web.ListenAndServeConfig{
				Addr:  cfg.addr,
				Mux:   a.mux(),
				Logf:  func(format string, args ...any) { l.Info(fmt.Sprintf(format, args...)) },
				Ready: a.ready,
			})
		})
	}
	return g.Wait()
}

// loadEnvFile returns a getenv function that falls back to variables from
// the -env-file file. The real environment wins.
func (a *app) loadEnvFile(getenv func(string) string) (func(string) string, error) {
	if a.envFile == "" {
		return getenv, nil
	}
	vars, err := godotenv.Read(a.envFile)
	if errors.Is(err, fs.ErrNotExist) {
		return getenv, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", a.envFile, err)
	}
	return func(key string) string {
		return cmp.Or(getenv(key), vars[key])
	}, nil
}

func (a *app) mux() *http.ServeMux {
	mux := http.NewServeMux()
	h := web.Health(mux)
	h.RegisterFunc("relay", func(context.Context) (string, bool) { return a.relay.Healthy() })
	h.RegisterFunc("dedup", func(ctx context.Context) (string, bool) {
		p, ok := a.store.(dedup.Pinger)
		if !ok {
			return "ok", true
		}
		if err := p.Ping(ctx); err != nil {
			return err.Error(), false
		}
		return "ok", true
	})
	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		web.RespondJSON(w, a.relay.Stats())
	})
	return mux
}

func parseConfig(getenv func(string) string) (*config, error) {
	cfg := &config{
		token:       getenv("BOT_TOKEN"),
		chatID:      parseChatID(getenv("PUBLISHER_CHANNEL_ID")),
		channels:    message.ParseChannels(getenv("SOURCE_CHANNELS")),
		sourceMode:  cmp.Or(getenv("SOURCE_MODE"), "preview"),
		bridgeURL:   cmp.Or(getenv("RSS_BRIDGE_URL"), source.DefaultFeedURL),
		rulesFile:   getenv("RULES_FILE"),
		addr:        getenv("ADDR"),
		databaseURL: getenv("DATABASE_URL"),
	}

	switch {
	case cfg.token == "":
		return nil, missing("BOT_TOKEN")
	case cfg.chatID == "":
		return nil, missing("PUBLISHER_CHANNEL_ID")
	case len(cfg.channels) == 0:
		return nil, missing("SOURCE_CHANNELS")
	}

	var err error
	if cfg.adminID, err = parseInt("ADMIN_CHAT_ID", getenv, 0); err != nil {
		return nil, err
	}
	interval, err := parseInt("UPDATE_INTERVAL", getenv, int64(defaultInterval/time.Second))
	if err != nil {
		return nil, err
	}
	if interval < 1 {
		return nil, invalid("UPDATE_INTERVAL", "must be at least 1 second")
	}
	cfg.interval = time.Duration(interval) * time.Second

	limit, err := parseInt("FETCH_LIMIT", getenv, defaultLimit)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, invalid("FETCH_LIMIT", "must be at least 1")
	}
	cfg.limit = int(limit)

	delay, err := parseInt("PUBLISH_DELAY", getenv, int64(defaultPublishDelay/time.Second))
	if err != nil {
		return nil, err
	}
	if delay < 0 {
		return nil, invalid("PUBLISH_DELAY", "must not be negative")
	}
	cfg.publishDelay = time.Duration(delay) * time.Second

	switch cfg.sourceMode {
	case "preview":
	case "rss":
		if !strings.Contains(cfg.bridgeURL, "{channel}") {
			return nil, invalid("RSS_BRIDGE_URL", "must contain {channel}")
		}
	default:
		return nil, invalid("SOURCE_MODE", fmt.Sprintf("unknown mode %q", cfg.sourceMode))
	}

	cfg.stateDir = getenv("STATE_DIRECTORY")
	if cfg.stateDir == "" {
		xdgStateHome := getenv("XDG_STATE_HOME")
		if xdgStateHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			xdgStateHome = filepath.Join(home, ".local", "state")
		}
		cfg.stateDir = filepath.Join(xdgStateHome, "tgrelay")
	}
	cfg.databaseURL = cmp.Or(cfg.databaseURL, filepath.Join(cfg.stateDir, "posted_messages.db"))

	return cfg, nil
}

// parseChatID accepts a numeric chat id or a channel name in any form
// understood by [message.NormalizeChannel].
func parseChatID(s string) string {
	s = strings.TrimSpace(s)
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return s
	}
	if name := message.NormalizeChannel(s); name != "" {
		return "@" + name
	}
	return ""
}

func parseInt(key string, getenv func(string) string, def int64) (int64, error) {
	s := strings.TrimSpace(getenv(key))
	if s == "" {
		return def, nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, invalid(key, fmt.Sprintf("%q is not an integer", s))
	}
	return i, nil
}

func missing(key string) error {
	return fmt.Errorf("%w: %s is required", errInvalidConfig, key)
}

func invalid(key, reason string) error {
	return fmt.Errorf("%w: %s %s", errInvalidConfig, key, reason)
}
