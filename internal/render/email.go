// Package render turns plain campaign step content into the HTML document
// the email provider receives. Line breaks become paragraph breaks; an
// optional call-to-action renders as a styled button.
package render

import (
	"html"
	"strings"
)

// EmailHTML wraps content in a minimal responsive document. Content is
// treated as plain text and escaped; blank-line separated blocks become
// paragraphs, single line breaks stay line breaks.
func EmailHTML(content, callToAction, callToActionURL string) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><body style="margin:0;padding:0;background-color:#f4f4f5;">`)
	b.WriteString(`<div style="max-width:600px;margin:0 auto;padding:32px 24px;font-family:Arial,Helvetica,sans-serif;color:#27272a;background-color:#ffffff;">`)

	for _, block := range strings.Split(normalizeNewlines(content), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		b.WriteString(`<p style="font-size:16px;line-height:1.6;margin:0 0 16px;">`)
		b.WriteString(strings.ReplaceAll(html.EscapeString(block), "\n", "<br>"))
		b.WriteString(`</p>`)
	}

	if callToAction != "" && callToActionURL != "" {
		b.WriteString(`<div style="text-align:center;margin:28px 0;"><a href="`)
		b.WriteString(html.EscapeString(callToActionURL))
		b.WriteString(`" style="display:inline-block;padding:12px 28px;background-color:#7c3aed;color:#ffffff;text-decoration:none;border-radius:6px;font-size:16px;">`)
		b.WriteString(html.EscapeString(callToAction))
		b.WriteString(`</a></div>`)
	}

	b.WriteString(`</div></body></html>`)
	return b.String()
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}
