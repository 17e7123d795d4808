package canonical

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// DateSignals are the inputs to the publish-date chain. Any may be empty.
type DateSignals struct {
	// Text is the document's plain text (page body or extracted PDF text).
	Text string
	// Doc is the parsed page, when the document is HTML.
	Doc *Document
	// Hint is a date found next to the locator on the listing page.
	Hint *time.Time
	URL  string
	// LastModified is the raw transport header.
	LastModified string
	Now          time.Time
}

// ResolveDate runs the publish-date chain: signature block, structured
// metadata, listing hint, prose "Month DD, YYYY" text, URL path, Last-Modified.
// It returns nil when every signal is missing or implausible.
func ResolveDate(sig DateSignals) *time.Time {
	now := sig.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	steps := []func() *time.Time{
		func() *time.Time { return SignatureDate(sig.Text) },
		func() *time.Time {
			if sig.Doc == nil {
				return nil
			}
			return MetadataDate(sig.Doc)
		},
		func() *time.Time { return sig.Hint },
		func() *time.Time { return ProseDate(sig.Text, sig.URL) },
		func() *time.Time { return DateFromURL(sig.URL) },
		func() *time.Time { return lastModified(sig.LastModified) },
	}
	for _, step := range steps {
		if t := step(); t != nil && ingest.PlausibleDate(*t, now) {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

const monthNames = `january|february|march|april|may|june|july|august|september|october|november|december`

var signatureBlock = regexp.MustCompile(`(?i)\b(?:this|the)\s+(\d{1,2})(?:st|nd|rd|th)?\s+day\s+of\s+(` + monthNames + `)` +
	`\s*,?\s*(?:in\s+the\s+year\s+(?:of\s+our\s+lord\s+)?)?(?:a\.?\s?d\.?\s*,?\s*)?` +
	`(\d{4}|(?:two\s+thousand|nineteen|twenty)[a-z\- ]*)`)

// SignatureDate parses notarization-style clauses such as "signed this 3rd
// day of March, two thousand and twenty-four". The last clause in the text
// wins since signature blocks close the document.
func SignatureDate(text string) *time.Time {
	if text == "" {
		return nil
	}
	flat := strings.Join(strings.Fields(text), " ")
	matches := signatureBlock.FindAllStringSubmatch(flat, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		day, _ := strconv.Atoi(m[1])
		month := monthNumber(m[2])
		year, ok := YearFromWords(m[3])
		if !ok || month == 0 {
			continue
		}
		if t := validDate(year, month, day); t != nil {
			return t
		}
	}
	return nil
}

var metaDateKeys = []string{
	"article:published_time", "og:published_time", "datePublished",
	"publish-date", "publication_date", "dc.date", "DC.date.issued", "date",
}

// MetadataDate reads machine-readable publish times: meta tags, JSON-LD
// blocks (including @graph), then <time datetime>.
func MetadataDate(doc *Document) *time.Time {
	if v := doc.Meta(metaDateKeys...); v != "" {
		if t := ParseDate(v); t != nil {
			return t
		}
	}
	var found *time.Time
	doc.DOM.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		found = jsonLDDate(data)
		return found == nil
	})
	if found != nil {
		return found
	}
	doc.DOM.Find("time[datetime]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = ParseDate(s.AttrOr("datetime", ""))
		return found == nil
	})
	return found
}

func jsonLDDate(node any) *time.Time {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			if t := jsonLDDate(item); t != nil {
				return t
			}
		}
	case map[string]any:
		for _, key := range []string{"datePublished", "dateCreated", "dateModified"} {
			if s, ok := v[key].(string); ok {
				if t := ParseDate(s); t != nil {
					return t
				}
			}
		}
		if graph, ok := v["@graph"]; ok {
			return jsonLDDate(graph)
		}
	}
	return nil
}

var proseDate = regexp.MustCompile(`(?i)\b(` + monthNames + `|jan|feb|mar|apr|jun|jul|aug|sept?|oct|nov|dec)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)

// ProseDate finds "Month DD, YYYY" dates in text. When several appear, the
// one whose year matches a /YYYY/ segment of rawURL wins, else the first.
func ProseDate(text, rawURL string) *time.Time {
	if text == "" {
		return nil
	}
	var candidates []*time.Time
	for _, m := range proseDate.FindAllStringSubmatch(text, 20) {
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if t := validDate(year, monthNumber(m[1]), day); t != nil {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	if hint := YearHint(rawURL); hint != 0 {
		for _, t := range candidates {
			if t.Year() == hint {
				return t
			}
		}
	}
	return candidates[0]
}

var (
	usShortDate = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	isoLayouts  = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		time.DateOnly,
		time.RFC1123Z,
		time.RFC1123,
	}
)

// ParseDate accepts ISO-like timestamps, "January 2, 2006", "Jan 2, 2006"
// and US "1/2/2006" forms. Results are UTC.
func ParseDate(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	if m := usShortDate.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		return validDate(year, month, day)
	}
	if len(s) > 10 {
		if t, err := time.Parse(time.DateOnly, s[:10]); err == nil {
			return &t
		}
	}
	return ProseDate(s, "")
}

func lastModified(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := http.ParseTime(raw)
	if err != nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func monthNumber(name string) int {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	if len(name) < 3 {
		return 0
	}
	for i, full := range strings.Split(monthNames, "|") {
		if strings.HasPrefix(full, name[:3]) {
			return i + 1
		}
	}
	return 0
}
