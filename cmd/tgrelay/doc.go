// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Tgrelay copies new posts from public Telegram channels into one channel of
yours.

It reads the web preview of every source channel (https://t.me/s/<channel>),
remembers which posts it has already copied and republishes the new ones
through a bot, oldest first. Text keeps its formatting, photos and videos are
sent as media (grouped into albums when a post has several), and everything
else is replaced with a link to the original post.

# Usage

	$ tgrelay [flags]

tgrelay runs until interrupted. With -once it runs a single cycle, prints its
statistics and exits.

# Configuration

tgrelay is configured with environment variables. Variables can also be put
into a .env file (see the -env-file flag); the real environment takes
precedence over the file.

  - BOT_TOKEN: Telegram bot token (required). The bot must be an administrator
    of the destination channel.
  - PUBLISHER_CHANNEL_ID: destination channel, either @name or a numeric id
    (required).
  - SOURCE_CHANNELS: comma-separated list of source channels (required). Posts
    are copied in the order channels are listed. Names may be given as "name",
    "@name" or "https://t.me/name".
  - ADMIN_CHAT_ID: Telegram user id allowed to use /status. If unset, nobody
    is.
  - UPDATE_INTERVAL: seconds between cycles (default 600).
  - FETCH_LIMIT: how many recent posts of each channel to look at (default 20).
  - PUBLISH_DELAY: seconds to wait after each copied post (default 5).
  - STATE_DIRECTORY: where state is kept (default $XDG_STATE_HOME/tgrelay).
  - DATABASE_URL: where copied posts are remembered. A postgres:// URL selects
    PostgreSQL, a path ending in .json selects a JSON file, ":memory:" keeps
    them in memory only, and anything else is an SQLite database file
    (default $STATE_DIRECTORY/posted_messages.db).
  - SOURCE_MODE: "preview" (default) reads t.me/s pages, "rss" reads channels
    through an RSS bridge.
  - RSS_BRIDGE_URL: bridge URL with a {channel} placeholder used in rss mode
    (default https://tg.i-c-a.su/rss/{channel}).
  - RULES_FILE: Starlark file with rules that decide which posts are copied.
  - ADDR: address for the HTTP endpoints, for example localhost:8080. If
    unset, no HTTP server is started.

Only one tgrelay process can use a state directory at a time.

# Rules

A rules file defines block(msg), keep(msg) or both. A post is copied when
block returns False and keep returns True; a missing function does not filter
anything. msg has the following fields:

  - channel: source channel name
  - id: post number in the channel
  - text: post text without formatting
  - html: post text as sent to Telegram
  - link: link to the original post
  - media: list of attachment kinds ("image", "video", "document", ...)
  - date: post time, or None if unknown

For example:

	def block(msg):
	    return "#ad" in msg.text

	def keep(msg):
	    return len(msg.media) > 0 or len(msg.text) > 100

A rule that fails lets the post through and logs a warning.

# Bot Commands

  - /start: tells that the bot is running and lists source channels.
  - /help: lists commands.
  - /status: statistics of the last cycle. Only the admin gets an answer.

# HTTP Endpoints

  - GET /health: JSON health report. Fails when the last cycle produced only
    errors or the database is unreachable.
  - GET /api/stats: statistics of the last cycle as JSON.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/tgrelay/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
