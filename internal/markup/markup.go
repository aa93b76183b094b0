// Package markup turns user text into safe HTML: markdown for course pages
// and announcements, escaped and linkified plain text for comments.
package markup

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"mvdan.cc/xurls/v2"
)

// Raw HTML in the source is omitted, since staff-written markdown still ends
// up on every student's page.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

var urlRegex = xurls.Strict()

// Markdown renders source as HTML
func Markdown(source string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(source), &buf); err != nil {
		log.Error().Err(err).Msg("Failed to render markdown")
		return Linkify(source)
	}
	return template.HTML(buf.String())
}

// Linkify escapes text and turns bare http(s) URLs into links. Newlines
// become <br>.
func Linkify(text string) template.HTML {
	var b strings.Builder
	last := 0
	for _, m := range urlRegex.FindAllStringIndex(text, -1) {
		b.WriteString(escapeText(text[last:m[0]]))

		href := text[m[0]:m[1]]
		if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
			esc := template.HTMLEscapeString(href)
			b.WriteString(`<a href="` + esc + `" rel="nofollow noopener" target="_blank">` + esc + `</a>`)
		} else {
			b.WriteString(escapeText(href))
		}
		last = m[1]
	}
	b.WriteString(escapeText(text[last:]))
	return template.HTML(b.String())
}

func escapeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(template.HTMLEscapeString(s), "\n", "<br>\n")
}
