package canonical

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// NormalizeURL standardizes a URL so the same document always yields the same
// identity. It lowercases scheme and host, drops default ports and fragments,
// and either strips the query or sorts its parameters.
func NormalizeURL(rawURL string, keepQuery bool) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	if keepQuery {
		u.RawQuery = u.Query().Encode()
	} else {
		u.RawQuery = ""
		u.ForceQuery = false
	}
	return u.String(), nil
}

// ResolveURL resolves href against base. It returns "" for unusable links.
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(strings.ToLower(href), "javascript:") ||
		strings.HasPrefix(strings.ToLower(href), "mailto:") {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}

var urlDatePath = regexp.MustCompile(`/(\d{4})/(\d{1,2})/(\d{1,2})(?:/|$)`)

// DateFromURL extracts a /YYYY/MM/DD/ path date at UTC midnight.
func DateFromURL(rawURL string) *time.Time {
	m := urlDatePath.FindStringSubmatch(rawURL)
	if m == nil {
		return nil
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	return validDate(year, month, day)
}

var urlYear = regexp.MustCompile(`/((?:19|20)\d{2})(?:/|-|$)`)

// YearHint returns the first plausible /YYYY/ segment in rawURL, or 0.
func YearHint(rawURL string) int {
	m := urlYear.FindStringSubmatch(rawURL)
	if m == nil {
		return 0
	}
	year, _ := strconv.Atoi(m[1])
	return year
}

// SlugTitle turns the last path segment of a URL (or file name) into a label.
// A URL with no path segment yields its host name.
func SlugTitle(rawURL string) string {
	p := rawURL
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.TrimPrefix(u.Hostname(), "www.")
		if u.Path != "" || host != "" {
			p = u.Path
		}
	}
	base := path.Base(strings.TrimRight(p, "/"))
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	words := strings.FieldsFunc(base, func(r rune) bool {
		return r == '-' || r == '_' || r == '+' || unicode.IsSpace(r)
	})
	if len(words) == 0 {
		return host
	}
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(w string) string {
	if w == "" {
		return w
	}
	r := []rune(w)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func validDate(year, month, day int) *time.Time {
	if year < 1900 || month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return nil
	}
	return &t
}
