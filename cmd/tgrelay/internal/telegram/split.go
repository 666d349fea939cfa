// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	maxMessageLen = 4096
	maxCaptionLen = 1024
)

// splitMessage splits text into chunks of at most limit runes, preferring
// to break at newlines, then at other whitespace.
func splitMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= limit {
			chunks = append(chunks, text)
			break
		}

		var (
			lastNewline    = -1
			lastWhitespace = -1
			byteCap        = len(text)
			runeCount      int
		)

		for i, r := range text {
			if runeCount == limit {
				byteCap = i
				break
			}
			runeCount++

			if r == '\n' {
				lastNewline = i
				continue
			}
			if unicode.IsSpace(r) {
				lastWhitespace = i
			}
		}

		splitAt := byteCap
		switch {
		case lastNewline > 0:
			splitAt = lastNewline
		case lastWhitespace > 0:
			splitAt = lastWhitespace
		}

		chunk := strings.TrimSpace(text[:splitAt])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[splitAt:])
	}

	return chunks
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// splitHTML splits Telegram HTML into chunks with at most limit runes of
// visible text each. Tags open at a cut are closed at the end of the chunk
// and reopened at the start of the next one, so every chunk parses on its
// own. Cuts never fall inside a tag or an entity.
func splitHTML(text string, limit int) []string {
	s := &htmlSplitter{limit: limit}
	z := html.NewTokenizer(strings.NewReader(strings.TrimSpace(text)))
	for {
		switch z.Next() {
		case html.ErrorToken:
			s.flush()
			return s.chunks
		case html.TextToken:
			s.text(string(z.Text()))
		case html.StartTagToken:
			// TagName lowercases the buffer in place, copy the raw tag first.
			raw := string(z.Raw())
			name, _ := z.TagName()
			s.open(string(name), raw)
		case html.EndTagToken:
			name, _ := z.TagName()
			s.close(string(name))
		case html.SelfClosingTagToken:
			s.buf.Write(z.Raw())
		}
	}
}

// visibleLen returns the number of runes Telegram counts for text after
// parsing its HTML.
func visibleLen(text string) int {
	var n int
	z := html.NewTokenizer(strings.NewReader(text))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return n
		case html.TextToken:
			n += utf8.RuneCount(z.Text())
		}
	}
}

type openTag struct{ name, raw string }

type htmlSplitter struct {
	limit   int
	chunks  []string
	buf     strings.Builder
	n       int  // visible runes in buf
	visible bool // buf has non-space text
	stack   []openTag
}

func (s *htmlSplitter) open(name, raw string) {
	s.buf.WriteString(raw)
	s.stack = append(s.stack, openTag{name: name, raw: raw})
}

func (s *htmlSplitter) close(name string) {
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i].name != name {
			continue
		}
		for j := len(s.stack) - 1; j >= i; j-- {
			s.buf.WriteString("</" + s.stack[j].name + ">")
		}
		s.stack = s.stack[:i]
		return
	}
	// Stray end tags are dropped.
}

func (s *htmlSplitter) text(t string) {
	for t != "" {
		room := s.limit - s.n
		if utf8.RuneCountInString(t) <= room {
			s.write(t)
			return
		}
		cut, skip := breakPoint(t, room)
		if cut < 0 {
			if s.n > 0 {
				s.flush()
				continue
			}
			cut, skip = runeOffset(t, room), 0
		}
		s.write(t[:cut])
		s.flush()
		t = t[cut+skip:]
	}
}

func (s *htmlSplitter) write(t string) {
	s.buf.WriteString(textEscaper.Replace(t))
	s.n += utf8.RuneCountInString(t)
	if strings.TrimSpace(t) != "" {
		s.visible = true
	}
}

// flush finishes the current chunk and starts the next one with the tags
// that are still open.
func (s *htmlSplitter) flush() {
	if s.visible {
		chunk := s.buf.String()
		for i := len(s.stack) - 1; i >= 0; i-- {
			chunk += "</" + s.stack[i].name + ">"
		}
		s.chunks = append(s.chunks, strings.TrimSpace(chunk))
	}
	s.buf.Reset()
	s.n, s.visible = 0, false
	for _, t := range s.stack {
		s.buf.WriteString(t.raw)
	}
}

// breakPoint returns the byte offset of the last newline among the first
// room+1 runes of t, or of the last other whitespace if there is no newline,
// and the size of the rune found there. It returns -1 if there is neither.
func breakPoint(t string, room int) (cut, size int) {
	lastNewline, lastSpace := -1, -1
	var runeCount int
	for i, r := range t {
		if runeCount > room {
			break
		}
		runeCount++
		switch {
		case r == '\n':
			lastNewline = i
		case unicode.IsSpace(r):
			lastSpace = i
		}
	}
	switch {
	case lastNewline >= 0:
		return lastNewline, 1
	case lastSpace >= 0:
		_, size := utf8.DecodeRuneInString(t[lastSpace:])
		return lastSpace, size
	}
	return -1, 0
}

// runeOffset returns the byte offset of the n-th rune of t.
func runeOffset(t string, n int) int {
	for i := range t {
		if n == 0 {
			return i
		}
		n--
	}
	return len(t)
}
