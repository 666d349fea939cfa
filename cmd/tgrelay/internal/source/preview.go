// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package source

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/message"
	"go.astrophena.name/tgrelay/internal/request"
)

// DefaultPreviewURL is the base URL of public channel previews.
const DefaultPreviewURL = "https://t.me/s/"

// PreviewConfig configures a [Preview] source.
type PreviewConfig struct {
	// BaseURL is prepended to the channel name. Defaults to DefaultPreviewURL.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Preview reads channels from their public web preview pages.
type Preview struct {
	baseURL string
	httpc   *http.Client
	slog    *slog.Logger
}

// NewPreview returns a new Preview source.
func NewPreview(cfg PreviewConfig) *Preview {
	return &Preview{
		baseURL: cmp.Or(cfg.BaseURL, DefaultPreviewURL),
		httpc:   cmp.Or(cfg.HTTPClient, request.DefaultClient),
		slog:    newLogger(cfg.Logger),
	}
}

// Media elements of a post, in the order they appear on the page.
const mediaSelector = "a.tgme_widget_message_photo_wrap, " +
	".tgme_widget_message_video_player, " +
	".tgme_widget_message_roundvideo_player, " +
	".tgme_widget_message_document_wrap, " +
	".tgme_widget_message_sticker_wrap, " +
	".tgme_widget_message_voice_player, " +
	".tgme_widget_message_poll, " +
	".tgme_widget_message_location_wrap, " +
	".message_media_not_supported"

var backgroundImageRe = regexp.MustCompile(`background-image:\s*url\(['"]?([^'")]+)['"]?\)`)

// Fetch implements [Source].
func (p *Preview) Fetch(ctx context.Context, ch message.Channel, limit int) (*Result, error) {
	body, err := request.Make[request.Bytes](ctx, request.Params{
		Method:     http.MethodGet,
		URL:        p.baseURL + ch.Name,
		HTTPClient: p.httpc,
	})
	if err != nil {
		return nil, &FetchError{Channel: ch.Name, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Channel: ch.Name, Err: err}
	}

	posts := doc.Find("div.tgme_widget_message")
	if posts.Length() == 0 && doc.Find(".tgme_channel_info").Length() == 0 {
		// Unknown or renamed channels redirect to a landing page.
		return nil, &FetchError{Channel: ch.Name, Err: errUnexpectedPage}
	}

	res := new(Result)
	posts.Each(func(_ int, s *goquery.Selection) {
		msg, err := parsePost(ch.Name, s)
		if err != nil {
			post, _ := s.Attr("data-post")
			res.skip(p.slog, &ParseError{Channel: ch.Name, Post: post, Err: err})
			return
		}
		res.Messages = append(res.Messages, msg)
	})

	p.slog.Debug("fetched channel", "channel", ch.Name, "messages", len(res.Messages), "skipped", len(res.Skipped))
	return res.finish(limit), nil
}

func parsePost(channel string, s *goquery.Selection) (*message.Message, error) {
	post, ok := s.Attr("data-post")
	if !ok {
		return nil, errNoPostID
	}
	id, err := parsePostID(post)
	if err != nil {
		return nil, fmt.Errorf("invalid post id: %w", err)
	}

	msg := &message.Message{
		Channel: channel,
		ID:      id,
		Link:    message.Link(channel, id),
	}
	if dt, ok := s.Find(".tgme_widget_message_date time").Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			msg.Date = t
		}
	}

	// Quoted replies carry their own text block.
	textSel := s.Find(".tgme_widget_message_text").FilterFunction(func(_ int, t *goquery.Selection) bool {
		return t.ParentsFiltered(".tgme_widget_message_reply").Length() == 0
	}).First()
	var text string
	if textSel.Length() > 0 {
		text = renderHTML(textSel.Nodes[0])
	}

	s.Find(mediaSelector).Each(func(_ int, m *goquery.Selection) {
		if part := parseMedia(msg.Link, m); part != nil {
			msg.Parts = append(msg.Parts, part)
		}
	})

	switch {
	case len(msg.Parts) > 0:
		msg.Caption = text
	case text != "":
		msg.Parts = []message.Part{message.Text{HTML: text}}
	}
	return msg, nil
}

func parseMedia(link string, m *goquery.Selection) message.Part {
	switch {
	case m.HasClass("tgme_widget_message_photo_wrap"):
		style, _ := m.Attr("style")
		if match := backgroundImageRe.FindStringSubmatch(style); match != nil {
			return message.Image{URL: match[1]}
		}
		return message.Other{Kind: "photo", URL: link}
	case m.HasClass("tgme_widget_message_video_player"):
		if src, ok := m.Find("video").Attr("src"); ok && src != "" {
			return message.Video{URL: src}
		}
		return message.Other{Kind: "video", URL: link}
	case m.HasClass("tgme_widget_message_roundvideo_player"):
		return message.Other{Kind: "roundvideo", URL: link}
	case m.HasClass("tgme_widget_message_document_wrap"):
		name := strings.TrimSpace(m.Find(".tgme_widget_message_document_title").Text())
		return message.Document{Name: cmp.Or(name, "document"), URL: link}
	case m.HasClass("tgme_widget_message_sticker_wrap"):
		return message.Other{Kind: "sticker", URL: link}
	case m.HasClass("tgme_widget_message_voice_player"):
		return message.Other{Kind: "voice", URL: link}
	case m.HasClass("tgme_widget_message_poll"):
		return message.Other{Kind: "poll", URL: link}
	case m.HasClass("tgme_widget_message_location_wrap"):
		return message.Other{Kind: "location", URL: link}
	case m.HasClass("message_media_not_supported"):
		return message.Other{Kind: "unsupported", URL: link}
	}
	return nil
}
