package domain

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// quotedSelectors are the containers providers wrap quoted history in.
const quotedSelectors = "blockquote, .gmail_quote, #divRplyFwdMsg"

// HTMLToText reduces an HTML body to plain text: markup, script and
// style content and quoted history are removed, whitespace collapsed.
func HTMLToText(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return collapseWhitespace(src)
	}

	doc.Find("script, style, head").Remove()
	doc.Find(quotedSelectors).Remove()

	return collapseWhitespace(doc.Text())
}

// collapseQuoted drops ">"-quoted history lines from a plain text body.
func collapseQuoted(s string) string {
	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
