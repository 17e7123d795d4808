package canonical

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// DefaultSummaryChars caps summaries before persistence.
const DefaultSummaryChars = 700

var quoteReplacer = strings.NewReplacer(
	"\u2018", "'", "\u2019", "'", "\u201a", "'", "\u201b", "'",
	"\u201c", `"`, "\u201d", `"`, "\u201e", `"`, "\u201f", `"`,
	"\u00a0", " ",
)

// CleanText unescapes entities, straightens quotes, strips control characters
// (including NUL) and collapses all whitespace to single spaces.
func CleanText(s string) string {
	return strings.Join(strings.Fields(stripControl(normalize(s))), " ")
}

// CleanBody is CleanText for multi-line bodies: newlines survive, runs of
// blank lines collapse to one.
func CleanBody(s string) string {
	s = stripControl(normalize(s))
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func normalize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return quoteReplacer.Replace(html.UnescapeString(s))
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case unicode.IsControl(r), r == '\ufeff', r == '\u200b':
			return -1
		}
		return r
	}, s)
}

// Truncate caps s at max runes, cutting at a word boundary and appending "…".
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:max])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " .,;:") + "…"
}

// SanitizeRecord cleans every text field in place and caps the summary.
// Raw payload strings are stripped of NUL, which the store rejects.
func SanitizeRecord(rec *ingest.Record, maxSummary int) {
	rec.Title = CleanText(rec.Title)
	rec.Summary = Truncate(CleanText(rec.Summary), maxSummary)
	rec.URL = strings.TrimSpace(rec.URL)
	rec.Jurisdiction = CleanText(rec.Jurisdiction)
	rec.Agency = CleanText(rec.Agency)
	rec.Status = CleanText(rec.Status)
	if rec.Status == "" {
		rec.Status = ingest.DefaultStatus
	}
	if rec.Raw != nil {
		rec.Raw = stripNulMap(rec.Raw)
	}
}

func stripNulMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[strings.ReplaceAll(k, "\x00", "")] = stripNulValue(v)
	}
	return out
}

func stripNulValue(v any) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, "\x00", "")
	case map[string]any:
		return stripNulMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = stripNulValue(item)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, item := range t {
			out[i] = strings.ReplaceAll(item, "\x00", "")
		}
		return out
	default:
		return v
	}
}

var acronyms = map[string]struct{}{
	"US": {}, "USA": {}, "U.S.": {}, "U.S.A.": {}, "DHS": {}, "HHS": {}, "EPA": {},
	"FBI": {}, "CIA": {}, "NATO": {}, "AI": {}, "FEMA": {}, "IRS": {}, "DOJ": {},
}

// SoftCaps rewrites runs of three or more ALL-CAPS words into Title Case,
// keeping known acronyms.
func SoftCaps(s string) string {
	words := strings.Split(s, " ")
	start := -1
	flush := func(end int) {
		if start >= 0 && end-start >= 3 {
			for i := start; i < end; i++ {
				if _, ok := acronyms[words[i]]; ok {
					continue
				}
				words[i] = titleWord(words[i])
			}
		}
		start = -1
	}
	for i, w := range words {
		if isShouted(w) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(words))
	return strings.Join(words, " ")
}

func isShouted(w string) bool {
	letters := 0
	for _, r := range w {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters > 0
}

func titleWord(w string) string {
	runes := []rune(strings.ToLower(w))
	for i, r := range runes {
		if unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			break
		}
	}
	return string(runes)
}
