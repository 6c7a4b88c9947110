package web

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"

	"github.com/leonardcser/sw-cache/internal/cache"
)

// MaxRenderSize caps the body handed to the Markdown converter.
const MaxRenderSize = 1 * 1024 * 1024 // 1MB

// PageSummary is a cached page rendered for reading.
type PageSummary struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Text        string `json:"text"`
}

// RenderEntry turns a cached entry into a readable summary. HTML is stripped
// of non-visible elements and chrome, then converted to Markdown; other text
// types are returned as is; binary bodies are described, not rendered.
func RenderEntry(e *cache.Entry) (*PageSummary, error) {
	ps := &PageSummary{URL: e.URL}
	ct := strings.ToLower(e.Header.Get("Content-Type"))
	body := e.Body
	if len(body) > MaxRenderSize {
		body = append(body[:MaxRenderSize:MaxRenderSize], []byte("... [response trimmed due to size]")...)
	}

	switch {
	case strings.Contains(ct, "text/html"):
	case strings.HasPrefix(ct, "text/"), strings.Contains(ct, "json"), strings.Contains(ct, "javascript"):
		ps.Text = string(body)
		return ps, nil
	default:
		ps.Text = fmt.Sprintf("[binary %s, %d bytes]", ctOrUnknown(ct), len(e.Body))
		return ps, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	// Remove non-visible elements
	doc.Find("script, style, noscript, iframe, object, embed, img, video, picture, svg, canvas, audio, source, track, map, area, form, label, input, button, select, textarea, progress").Remove()

	ps.Title = strings.TrimSpace(doc.Find("head > title").First().Text())
	ps.Description = strings.TrimSpace(doc.Find("meta[name=description]").AttrOr("content", ""))

	// Site chrome repeats on every page.
	doc.Find("header, footer, aside, nav").Remove()

	htmlStr, err := doc.Html()
	if err != nil {
		return nil, err
	}
	markdown, err := htmltomarkdown.ConvertString(htmlStr)
	if err != nil {
		ps.Text = strings.Join(strings.Fields(doc.Find("body").Text()), " ")
		return ps, nil
	}
	ps.Text = markdown
	return ps, nil
}

// Format renders a summary the way the admin tools print it.
func (ps *PageSummary) Format() string {
	var sb strings.Builder
	if ps.Title != "" {
		sb.WriteString("# ")
		sb.WriteString(ps.Title)
		sb.WriteString("\n\n")
	}
	if ps.Description != "" {
		sb.WriteString(ps.Description)
		sb.WriteString("\n\n")
	}
	sb.WriteString(ps.Text)
	return sb.String()
}

func ctOrUnknown(ct string) string {
	if ct == "" {
		return "unknown type"
	}
	return ct
}
