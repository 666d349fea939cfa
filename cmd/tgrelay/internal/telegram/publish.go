// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"strings"

	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/message"
)

const maxGroupSize = 10

// PublisherConfig configures a [Publisher].
type PublisherConfig struct {
	// ChatID is the destination channel handle ("@name") or numeric id.
	ChatID string
	// NoGroups sends every media item of a post on its own instead of
	// albums.
	NoGroups bool
	// DisableLinkPreview turns off link previews of text messages.
	DisableLinkPreview bool
}

// Publisher republishes channel posts to a destination chat.
type Publisher struct {
	c                  *Client
	chatID             string
	noGroups           bool
	disableLinkPreview bool
}

// NewPublisher returns a Publisher sending through c.
func NewPublisher(c *Client, cfg PublisherConfig) *Publisher {
	return &Publisher{
		c:                  c,
		chatID:             cfg.ChatID,
		noGroups:           cfg.NoGroups,
		disableLinkPreview: cfg.DisableLinkPreview,
	}
}

type linkPreviewOptions struct {
	IsDisabled bool `json:"is_disabled"`
}

type sendMessageArgs struct {
	ChatID             string              `json:"chat_id"`
	Text               string              `json:"text"`
	ParseMode          string              `json:"parse_mode,omitempty"`
	LinkPreviewOptions *linkPreviewOptions `json:"link_preview_options,omitempty"`
}

type sendMediaArgs struct {
	ChatID    string `json:"chat_id"`
	Photo     string `json:"photo,omitempty"`
	Video     string `json:"video,omitempty"`
	Document  string `json:"document,omitempty"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type inputMedia struct {
	Type      string `json:"type"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendMediaGroupArgs struct {
	ChatID string       `json:"chat_id"`
	Media  []inputMedia `json:"media"`
}

// Publish sends msg to the destination chat. A post without content is
// treated as published.
func (p *Publisher) Publish(ctx context.Context, msg *message.Message) error {
	if msg.IsEmpty() {
		p.c.slog.Debug("nothing to publish", slog.String("channel", msg.Channel), slog.Int64("id", msg.ID))
		return nil
	}

	body, media := plan(msg)
	if len(media) == 0 {
		return p.sendText(ctx, body)
	}

	caption := body
	if visibleLen(caption) > maxCaptionLen {
		caption = ""
	}

	if err := p.sendAllMedia(ctx, media, caption); err != nil {
		// Telegram refuses some media URLs it cannot fetch. The post is
		// still relayed as text with a link to the original.
		var perr *PublishError
		if !errors.As(err, &perr) || perr.Reason != Rejected {
			return err
		}
		p.c.slog.Warn("media rejected, sending as text",
			slog.String("channel", msg.Channel),
			slog.Int64("id", msg.ID),
			slog.Any("error", err),
		)
		return p.sendText(ctx, withLink(body, msg.Link))
	}

	if caption == "" && body != "" {
		return p.sendText(ctx, body)
	}
	return nil
}

func (p *Publisher) sendAllMedia(ctx context.Context, media []message.Part, caption string) error {
	if len(media) == 1 || p.noGroups {
		for i, m := range media {
			c := ""
			if i == 0 {
				c = caption
			}
			if err := p.sendMedia(ctx, m, c); err != nil {
				return err
			}
		}
		return nil
	}
	for i, group := range groupMedia(media) {
		c := ""
		if i == 0 {
			c = caption
		}
		if err := p.sendGroup(ctx, group, c); err != nil {
			return err
		}
	}
	return nil
}

func withLink(body, url string) string {
	if url == "" {
		return body
	}
	return strings.TrimSpace(body + "\n\n" + link(url, url))
}

// plan returns the Telegram HTML body of msg and the media that can be
// uploaded by URL. Parts that cannot be uploaded become links in the body.
func plan(msg *message.Message) (body string, media []message.Part) {
	var (
		texts []string
		links []string
	)
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case message.Text:
			texts = append(texts, p.HTML)
		case message.Image, message.Video:
			media = append(media, p)
		case message.Document:
			if p.FileURL != "" {
				media = append(media, p)
				continue
			}
			links = append(links, link(p.URL, "📄 "+p.Name))
		case message.Other:
			links = append(links, link(p.URL, "["+message.KindOf(p)+"]"))
		}
	}
	texts = append(texts, msg.Caption)
	texts = append(texts, strings.Join(links, "\n"))

	var nonEmpty []string
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			nonEmpty = append(nonEmpty, t)
		}
	}
	return strings.Join(nonEmpty, "\n\n"), media
}

func link(url, label string) string {
	if url == "" {
		return html.EscapeString(label)
	}
	return `<a href="` + html.EscapeString(url) + `">` + html.EscapeString(label) + `</a>`
}

// groupMedia splits media into albums. Photos and videos can share an album,
// documents go to their own ones.
func groupMedia(media []message.Part) [][]message.Part {
	var (
		groups [][]message.Part
		cur    []message.Part
	)
	for _, m := range media {
		if len(cur) > 0 && (len(cur) == maxGroupSize || isDocument(cur[0]) != isDocument(m)) {
			groups = append(groups, cur)
			cur = nil
		}
		cur = append(cur, m)
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

func isDocument(p message.Part) bool {
	_, ok := p.(message.Document)
	return ok
}

func (p *Publisher) sendText(ctx context.Context, text string) error {
	for _, chunk := range splitHTML(text, maxMessageLen) {
		args := &sendMessageArgs{
			ChatID:    p.chatID,
			Text:      chunk,
			ParseMode: "HTML",
		}
		if p.disableLinkPreview {
			args.LinkPreviewOptions = &linkPreviewOptions{IsDisabled: true}
		}
		if _, err := p.c.Call(ctx, "sendMessage", args); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) sendMedia(ctx context.Context, m message.Part, caption string) error {
	args := &sendMediaArgs{ChatID: p.chatID, Caption: caption}
	if caption != "" {
		args.ParseMode = "HTML"
	}

	var method string
	switch m := m.(type) {
	case message.Image:
		method, args.Photo = "sendPhoto", m.URL
	case message.Video:
		method, args.Video = "sendVideo", m.URL
	case message.Document:
		method, args.Document = "sendDocument", m.FileURL
	default:
		return nil
	}
	_, err := p.c.Call(ctx, method, args)
	return err
}

func (p *Publisher) sendGroup(ctx context.Context, group []message.Part, caption string) error {
	// Albums must have at least two items.
	if len(group) == 1 {
		return p.sendMedia(ctx, group[0], caption)
	}

	args := &sendMediaGroupArgs{ChatID: p.chatID}
	for i, m := range group {
		im := inputMedia{}
		switch m := m.(type) {
		case message.Image:
			im.Type, im.Media = "photo", m.URL
		case message.Video:
			im.Type, im.Media = "video", m.URL
		case message.Document:
			im.Type, im.Media = "document", m.FileURL
		}
		if i == 0 && caption != "" {
			im.Caption, im.ParseMode = caption, "HTML"
		}
		args.Media = append(args.Media, im)
	}
	_, err := p.c.Call(ctx, "sendMediaGroup", args)
	return err
}
