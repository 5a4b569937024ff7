package roundup

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// KeyFromPath derives the stable record key from an input file name.
func KeyFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// HeadlineFromKey renders a dash-separated key as a title-cased headline,
// e.g. "a-sample-file" becomes "A Sample File".
func HeadlineFromKey(key string) string {
	caser := cases.Title(language.Und)
	words := strings.Split(key, "-")
	for i, w := range words {
		words[i] = caser.String(w)
	}
	return strings.Join(words, " ")
}

// NormalizeHeadline folds a headline for the legacy title comparison used on
// records persisted without a key. The match is fuzzy: two different inputs
// whose file stems title-case to the same headline are indistinguishable.
func NormalizeHeadline(headline string) string {
	return strings.ToLower(strings.Join(strings.Fields(headline), " "))
}
