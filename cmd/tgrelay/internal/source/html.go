// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package source

import (
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// Tags supported by Telegram HTML parse mode, keyed by the source tag name.
var allowedTags = map[string]string{
	"b":          "b",
	"strong":     "b",
	"i":          "i",
	"em":         "i",
	"u":          "u",
	"ins":        "u",
	"s":          "s",
	"strike":     "s",
	"del":        "s",
	"code":       "code",
	"pre":        "pre",
	"blockquote": "blockquote",
	"tg-spoiler": "tg-spoiler",
}

// renderHTML converts the children of n to Telegram HTML. Unsupported
// elements are replaced by their content.
func renderHTML(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(&sb, c)
	}
	return strings.TrimSpace(strings.ReplaceAll(sb.String(), "\u00a0", " "))
}

func renderNode(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(html.EscapeString(n.Data))
		return
	case html.ElementNode:
	default:
		return
	}

	renderChildren := func() {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			renderNode(sb, c)
		}
	}

	switch {
	case n.Data == "br":
		sb.WriteByte('\n')
	case n.Data == "i" && hasClass(n, "emoji"):
		sb.WriteString(html.EscapeString(textContent(n)))
	case n.Data == "span" && hasClass(n, "tg-spoiler"):
		sb.WriteString("<tg-spoiler>")
		renderChildren()
		sb.WriteString("</tg-spoiler>")
	case n.Data == "a":
		href := attr(n, "href")
		if href == "" {
			renderChildren()
			return
		}
		sb.WriteString(`<a href="` + html.EscapeString(href) + `">`)
		renderChildren()
		sb.WriteString("</a>")
	case n.Data == "code" && strings.HasPrefix(attr(n, "class"), "language-"):
		sb.WriteString(`<code class="` + html.EscapeString(attr(n, "class")) + `">`)
		renderChildren()
		sb.WriteString("</code>")
	default:
		tag, ok := allowedTags[n.Data]
		if !ok {
			renderChildren()
			return
		}
		sb.WriteString("<" + tag + ">")
		renderChildren()
		sb.WriteString("</" + tag + ">")
	}
}

// textContent returns the text of n and its descendants, with line breaks
// for br elements.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			sb.WriteString(n.Data)
		case n.Type == html.ElementNode && n.Data == "br":
			sb.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	return slices.Contains(strings.Fields(attr(n, "class")), class)
}
