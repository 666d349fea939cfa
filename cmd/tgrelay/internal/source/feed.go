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
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"go.astrophena.name/tgrelay/cmd/tgrelay/internal/message"
	"go.astrophena.name/tgrelay/internal/request"
)

// DefaultFeedURL is the default RSS bridge URL template.
const DefaultFeedURL = "https://tg.i-c-a.su/rss/{channel}"

// FeedConfig configures a [Feed] source.
type FeedConfig struct {
	// URLTemplate is the bridge URL with a "{channel}" placeholder.
	// Defaults to DefaultFeedURL.
	URLTemplate string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Feed reads channels through an RSS bridge.
type Feed struct {
	tmpl  string
	httpc *http.Client
	slog  *slog.Logger
}

// NewFeed returns a new Feed source.
func NewFeed(cfg FeedConfig) *Feed {
	return &Feed{
		tmpl:  cmp.Or(cfg.URLTemplate, DefaultFeedURL),
		httpc: cmp.Or(cfg.HTTPClient, request.DefaultClient),
		slog:  newLogger(cfg.Logger),
	}
}

// Fetch implements [Source].
func (f *Feed) Fetch(ctx context.Context, ch message.Channel, limit int) (*Result, error) {
	body, err := request.Make[request.Bytes](ctx, request.Params{
		Method:     http.MethodGet,
		URL:        strings.ReplaceAll(f.tmpl, "{channel}", ch.Name),
		HTTPClient: f.httpc,
	})
	if err != nil {
		return nil, &FetchError{Channel: ch.Name, Err: err}
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Channel: ch.Name, Err: err}
	}

	res := new(Result)
	for _, item := range feed.Items {
		msg, err := parseItem(ch.Name, item)
		if err != nil {
			res.skip(f.slog, &ParseError{Channel: ch.Name, Post: item.Link, Err: err})
			continue
		}
		res.Messages = append(res.Messages, msg)
	}

	f.slog.Debug("fetched feed", "channel", ch.Name, "items", len(feed.Items), "skipped", len(res.Skipped))
	return res.finish(limit), nil
}

func parseItem(channel string, item *gofeed.Item) (*message.Message, error) {
	link := item.Link
	if link == "" && item.GUID != "" && strings.Contains(item.GUID, "/") {
		link = item.GUID
	}
	id, err := parsePostID(link)
	if err != nil {
		return nil, fmt.Errorf("invalid item link: %w", err)
	}

	msg := &message.Message{
		Channel: channel,
		ID:      id,
		Link:    message.Link(channel, id),
	}
	if item.PublishedParsed != nil {
		msg.Date = *item.PublishedParsed
	}

	seen := make(map[string]bool)
	add := func(p message.Part, url string) {
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		msg.Parts = append(msg.Parts, p)
	}

	var text string
	if desc := cmp.Or(item.Content, item.Description); desc != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(desc))
		if err != nil {
			return nil, err
		}
		doc.Find("img[src], video[src]").Each(func(_ int, s *goquery.Selection) {
			src, _ := s.Attr("src")
			if goquery.NodeName(s) == "video" {
				add(message.Video{URL: src}, src)
			} else {
				add(message.Image{URL: src}, src)
			}
		}).Remove()
		if body := doc.Find("body"); body.Length() > 0 {
			text = renderHTML(body.Nodes[0])
		}
	}

	for _, enc := range item.Enclosures {
		switch {
		case strings.HasPrefix(enc.Type, "image/"):
			add(message.Image{URL: enc.URL}, enc.URL)
		case strings.HasPrefix(enc.Type, "video/"):
			add(message.Video{URL: enc.URL}, enc.URL)
		default:
			add(message.Document{Name: path.Base(enc.URL), URL: msg.Link, FileURL: enc.URL}, enc.URL)
		}
	}

	switch {
	case len(msg.Parts) > 0:
		msg.Caption = text
	case text != "":
		msg.Parts = []message.Part{message.Text{HTML: text}}
	}
	return msg, nil
}
