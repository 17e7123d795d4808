package canonical

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

var genericTitles = map[string]struct{}{
	"news":               {},
	"news release":       {},
	"press release":      {},
	"press releases":     {},
	"director's letters": {},
	"directors letters":  {},
	"announcement":       {},
	"notice":             {},
	"release":            {},
	"executive orders":   {},
	"proclamations":      {},
	"newsroom":           {},
}

// IsGenericTitle reports boilerplate section labels that must never be used as a title.
func IsGenericTitle(title string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	if t == "" {
		return true
	}
	if _, ok := genericTitles[t]; ok {
		return true
	}
	return !strings.Contains(t, " ") && utf8.RuneCountInString(t) <= 8
}

var titleSeparators = []string{" | ", " – ", " — ", " - "}

// StripSiteSuffix drops a trailing " | Site Name" style suffix.
func StripSiteSuffix(title string) string {
	cut := -1
	for _, sep := range titleSeparators {
		if i := strings.LastIndex(title, sep); i > cut {
			cut = i
		}
	}
	if cut <= 0 {
		return title
	}
	return strings.TrimSpace(title[:cut])
}

// ResolveTitle runs the title chain: social preview metadata, the longest
// non-generic h1/h2, the <title> element without its site suffix, the
// fallback label, and finally a label derived from the URL slug.
func ResolveTitle(doc *Document, fallback, rawURL string) string {
	if doc != nil {
		for _, key := range []string{"og:title", "twitter:title"} {
			if t := CleanText(doc.Meta(key)); !IsGenericTitle(t) {
				return SoftCaps(t)
			}
		}
		if t := longestHeading(doc.DOM); t != "" {
			return SoftCaps(t)
		}
		if t := StripSiteSuffix(CleanText(doc.DOM.Find("title").First().Text())); !IsGenericTitle(t) {
			return SoftCaps(t)
		}
	}
	if t := CleanText(fallback); t != "" {
		return SoftCaps(t)
	}
	return SlugTitle(rawURL)
}

func longestHeading(dom *goquery.Document) string {
	best := ""
	dom.Find("h1, h2").Each(func(_ int, s *goquery.Selection) {
		t := CleanText(s.Text())
		if IsGenericTitle(t) {
			return
		}
		if utf8.RuneCountInString(t) > utf8.RuneCountInString(best) {
			best = t
		}
	})
	return best
}
