package roundup

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidLink is returned for story entries that are not absolute http(s) URLs.
var ErrInvalidLink = errors.New("link must be an absolute http or https URL")

// ValidateLink rejects links that must never be dispatched to a worker.
func ValidateLink(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%w: empty link", ErrInvalidLink)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLink, raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: %q has no host", ErrInvalidLink, raw)
	}
	return nil
}
