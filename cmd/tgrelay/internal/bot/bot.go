// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package bot answers bot commands received by long polling.
package bot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/relay"
	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/telegram"
)

const (
	defaultPollTimeout = 25 * time.Second
	errorPause         = 5 * time.Second
)

// API is the subset of the Bot API used by [Bot].
type API interface {
	GetMe(ctx context.Context) (*telegram.User, error)
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Config configures a [Bot].
type Config struct {
	API      API
	Reporter *relay.Reporter
	// PollTimeout is the long polling timeout. It should be shorter than the
	// HTTP client timeout.
	PollTimeout time.Duration
	Logger      *slog.Logger
	// Sleep can be mocked for testing.
	Sleep func(context.Context, time.Duration) bool
}

// Bot handles /start, /help and /status commands.
type Bot struct {
	api         API
	rep         *relay.Reporter
	pollTimeout time.Duration
	slog        *slog.Logger
	sleep       func(context.Context, time.Duration) bool

	username string
}

// New returns a new Bot.
func New(cfg Config) *Bot {
	b := &Bot{
		api:         cfg.API,
		rep:         cfg.Reporter,
		pollTimeout: cfg.PollTimeout,
		slog:        cfg.Logger,
		sleep:       cfg.Sleep,
	}
	if b.pollTimeout == 0 {
		b.pollTimeout = defaultPollTimeout
	}
	if b.slog == nil {
		b.slog = slog.Default()
	}
	if b.sleep == nil {
		b.sleep = sleep
	}
	return b
}

// Run polls for updates until ctx is canceled. Updates sent while the bot was
// offline are dropped.
func (b *Bot) Run(ctx context.Context) error {
	if me, err := b.api.GetMe(ctx); err != nil {
		b.slog.Warn("getting bot info failed, commands addressed to any bot will be handled", "error", err)
	} else {
		b.username = me.Username
	}

	offset := b.dropPending(ctx)
	b.slog.Info("command handler started", "bot", b.username)

	for {
		updates, err := b.api.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.slog.Warn("polling updates failed", "error", err)
			if !b.sleep(ctx, errorPause) {
				return nil
			}
			continue
		}
		for _, u := range updates {
			offset = max(offset, u.UpdateID+1)
			b.Handle(ctx, u)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// dropPending returns the offset following the last pending update.
func (b *Bot) dropPending(ctx context.Context) int64 {
	updates, err := b.api.GetUpdates(ctx, -1, 0)
	if err != nil || len(updates) == 0 {
		return 0
	}
	return updates[len(updates)-1].UpdateID + 1
}

// Handle answers a single update. Anything that is not a known command is
// ignored.
func (b *Bot) Handle(ctx context.Context, u telegram.Update) {
	msg := u.Message
	if msg == nil {
		return
	}
	cmd, ok := b.parseCommand(msg.Text)
	if !ok {
		return
	}

	var callerID int64
	if msg.From != nil {
		callerID = msg.From.ID
	}

	var reply string
	switch cmd {
	case "start":
		reply = "Bot is running. Relaying channels: " + b.channelList() + "."
	case "help":
		reply = "This bot copies posts from channels: " + b.channelList() + "\n" +
			"Commands:\n" +
			"/start - bot status\n" +
			"/help - this help\n" +
			"/status - relay statistics (admin only)"
	case "status":
		if !b.rep.IsAdmin(callerID) {
			reply = "Access denied."
			break
		}
		reply = b.rep.Snapshot().String()
	default:
		return
	}

	b.slog.Debug("handling command", "command", cmd, "chat_id", msg.Chat.ID, "user_id", callerID)
	if err := b.api.SendMessage(ctx, msg.Chat.ID, reply); err != nil {
		b.slog.Error("replying to command failed", "command", cmd, "chat_id", msg.Chat.ID, "error", err)
	}
}

// parseCommand extracts the command name from text like "/status@relay_bot
// args". Commands addressed to other bots are ignored.
func (b *Bot) parseCommand(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	cmd, target, _ := strings.Cut(strings.TrimPrefix(fields[0], "/"), "@")
	if target != "" && b.username != "" && !strings.EqualFold(target, b.username) {
		return "", false
	}
	return strings.ToLower(cmd), cmd != ""
}

func (b *Bot) channelList() string {
	var names []string
	for _, ch := range b.rep.Channels() {
		names = append(names, "@"+ch.Name)
	}
	return strings.Join(names, ", ")
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
