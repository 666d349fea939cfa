// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package message defines the channel message model shared by sources, the
// dedup store and the publisher.
package message

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Channel is a configured source channel.
type Channel struct {
	// Name is the public handle, without a leading "@" or t.me prefix.
	Name string
	// Position is the ordinal of the channel in the configuration list.
	Position int
}

// String returns the channel handle.
func (c Channel) String() string { return c.Name }

// NormalizeChannel strips the "@" sigil and the t.me URL prefixes from a
// channel handle.
func NormalizeChannel(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, prefix)
	}
	for _, prefix := range []string{"t.me/s/", "t.me/", "telegram.me/s/", "telegram.me/"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			s = rest
			break
		}
	}
	s = strings.TrimPrefix(s, "@")
	s, _, _ = strings.Cut(s, "/")
	s, _, _ = strings.Cut(s, "?")
	return s
}

// ParseChannels parses a comma-separated list of channel handles. Empty
// entries are ignored, duplicates are dropped keeping the first occurrence.
func ParseChannels(list string) []Channel {
	var (
		chans []Channel
		seen  = make(map[string]bool)
	)
	for raw := range strings.SplitSeq(list, ",") {
		name := NormalizeChannel(raw)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		chans = append(chans, Channel{Name: name, Position: len(chans)})
	}
	return chans
}

// Message is one post read from a source channel.
type Message struct {
	Channel string
	ID      int64
	Parts   []Part
	// Caption is Telegram HTML accompanying media parts.
	Caption string
	Link    string
	Date    time.Time
}

// Link returns the public URL of a post.
func Link(channel string, id int64) string {
	return fmt.Sprintf("https://t.me/%s/%d", channel, id)
}

// IsEmpty reports whether m has nothing to relay.
func (m *Message) IsEmpty() bool {
	if strings.TrimSpace(m.Caption) != "" {
		return false
	}
	for _, p := range m.Parts {
		if t, ok := p.(Text); ok && strings.TrimSpace(t.HTML) == "" {
			continue
		}
		return false
	}
	return true
}

// HTML returns the text parts and the caption of m joined by blank lines.
func (m *Message) HTML() string {
	var texts []string
	for _, p := range m.Parts {
		if t, ok := p.(Text); ok && strings.TrimSpace(t.HTML) != "" {
			texts = append(texts, strings.TrimSpace(t.HTML))
		}
	}
	if c := strings.TrimSpace(m.Caption); c != "" {
		texts = append(texts, c)
	}
	return strings.Join(texts, "\n\n")
}

// PlainText returns [Message.HTML] with markup removed and entities
// unescaped.
func (m *Message) PlainText() string {
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(m.HTML()))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.TextToken:
			sb.Write(z.Text())
		}
	}
}

// Kinds returns the kind of every part of m, in order.
func (m *Message) Kinds() []string {
	kinds := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		kinds = append(kinds, KindOf(p))
	}
	return kinds
}

// Part is a piece of message content. The set of implementations is closed:
// [Text], [Image], [Video], [Document] and [Other].
type Part interface {
	kind() string
}

// KindOf returns a short lowercase name of the part type: "text", "image",
// "video", "document" or, for [Other], its Kind.
func KindOf(p Part) string { return p.kind() }

// Text is formatted text in Telegram HTML.
type Text struct{ HTML string }

// Image is a photo available at URL.
type Image struct{ URL string }

// Video is a video file available at URL.
type Video struct{ URL string }

// Document is an attached file. FileURL is set when the file itself can be
// downloaded, URL points at the post otherwise.
type Document struct {
	Name    string
	URL     string
	FileURL string
}

// Other is media that cannot be relayed as is, such as stickers, polls or
// voice messages. URL points at the original post.
type Other struct {
	Kind string
	URL  string
}

func (Text) kind() string     { return "text" }
func (Image) kind() string    { return "image" }
func (Video) kind() string    { return "video" }
func (Document) kind() string { return "document" }

func (o Other) kind() string {
	if o.Kind == "" {
		return "other"
	}
	return o.Kind
}
