// Package extract turns rendered HTML into the plain article text stored in
// roundup records.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultLimit is the maximum number of characters kept per article.
	DefaultLimit = 5000

	// TruncationMarker is appended when text is cut at the limit.
	TruncationMarker = "..."

	paragraphSeparator = "\n\n"
	textSelector       = "p"
)

// ArticleText collects every non-empty paragraph in document order, joins them
// with a blank line, and truncates the result to limit characters.
func ArticleText(html string, limit int) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var parts []string
	doc.Find(textSelector).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return Truncate(strings.Join(parts, paragraphSeparator), limit), nil
}

// Truncate cuts text to limit runes and appends TruncationMarker when it was
// longer. A non-positive limit falls back to DefaultLimit.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + TruncationMarker
}
