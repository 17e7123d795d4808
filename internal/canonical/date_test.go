package canonical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func mustDoc(t *testing.T, html, pageURL string) *Document {
	t.Helper()
	doc, err := ParseHTML([]byte(html), "text/html; charset=utf-8", pageURL)
	require.NoError(t, err)
	return doc
}

func TestResolveDateSpelledOutSignature(t *testing.T) {
	t.Parallel()

	text := "IN WITNESS WHEREOF, I have hereunto set my hand, signed this 3rd day of March, two thousand and twenty-four, at Olympia."
	got := ResolveDate(DateSignals{Text: text, Now: testNow})
	require.NotNil(t, got)
	require.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), *got)
}

func TestSignatureDateVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want time.Time
	}{
		{
			name: "anno domini with capitalized words",
			text: "Signed and sealed with the official seal on this 18th day of December, AD, Two Thousand and Twenty-Five, at Olympia, Washington.",
			want: time.Date(2025, 12, 18, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "dotted A.D. without and",
			text: "this 24th day of January A.D., Two Thousand Twenty Four at Olympia",
			want: time.Date(2024, 1, 24, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "numeric year",
			text: "given under my hand this 5 day of June, 2023.",
			want: time.Date(2023, 6, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "in the year of our lord",
			text: "done this 1st day of July in the year of our Lord two thousand and nineteen",
			want: time.Date(2019, 7, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "last clause wins",
			text: "Order of this 2nd day of May, 2020 is amended. Signed this 9th day of May, 2021.",
			want: time.Date(2021, 5, 9, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SignatureDate(tt.text)
			require.NotNil(t, got)
			require.Equal(t, tt.want, *got)
		})
	}
	require.Nil(t, SignatureDate("no clause here"))
	require.Nil(t, SignatureDate("this 31st day of February, 2024"))
}

func TestResolveDateMetadataBeforeProse(t *testing.T) {
	t.Parallel()

	html := `<html><head>
<meta property="article:published_time" content="2024-05-06T14:30:00-04:00">
</head><body><p>Posted January 2, 2023.</p></body></html>`
	doc := mustDoc(t, html, "https://gov.example.gov/news/a")
	got := ResolveDate(DateSignals{Text: doc.BodyText(), Doc: doc, URL: doc.URL, Now: testNow})
	require.NotNil(t, got)
	require.Equal(t, time.Date(2024, 5, 6, 18, 30, 0, 0, time.UTC), *got)
}

func TestMetadataDateJSONLDGraph(t *testing.T) {
	t.Parallel()

	html := `<html><head><script type="application/ld+json">
{"@context":"https://schema.org","@graph":[{"@type":"WebPage"},{"@type":"NewsArticle","datePublished":"2024-08-22T09:00:00Z"}]}
</script></head><body></body></html>`
	got := MetadataDate(mustDoc(t, html, "https://gov.example.gov/x"))
	require.NotNil(t, got)
	require.Equal(t, time.Date(2024, 8, 22, 9, 0, 0, 0, time.UTC), *got)
}

func TestMetadataDateTimeElement(t *testing.T) {
	t.Parallel()

	got := MetadataDate(mustDoc(t, `<p><time datetime="2024-02-10">Feb 10</time></p>`, ""))
	require.NotNil(t, got)
	require.Equal(t, time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), *got)
}

func TestResolveDateFallsThroughChain(t *testing.T) {
	t.Parallel()

	hint := time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC)
	future := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sig  DateSignals
		want *time.Time
	}{
		{
			name: "listing hint",
			sig:  DateSignals{Hint: &hint, Text: "August 1, 2020"},
			want: &hint,
		},
		{
			name: "future hint skipped for prose",
			sig:  DateSignals{Hint: &future, Text: "Released March 3, 2024 by the office."},
			want: ptr(time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)),
		},
		{
			name: "url path",
			sig:  DateSignals{URL: "https://gov.example.gov/2023/11/05/statement/"},
			want: ptr(time.Date(2023, 11, 5, 0, 0, 0, 0, time.UTC)),
		},
		{
			name: "last modified header",
			sig:  DateSignals{LastModified: "Tue, 02 Jan 2024 10:00:00 GMT"},
			want: ptr(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)),
		},
		{
			name: "nothing",
			sig:  DateSignals{Text: "no dates"},
			want: nil,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.sig.Now = testNow
			require.Equal(t, tt.want, ResolveDate(tt.sig))
		})
	}
}

func TestProseDateURLYearTieBreak(t *testing.T) {
	t.Parallel()

	text := "Updated January 5, 2025. Originally released December 30, 2024."
	got := ProseDate(text, "https://gov.example.gov/2024/news/release")
	require.Equal(t, time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC), *got)
	got = ProseDate(text, "https://gov.example.gov/news/release")
	require.Equal(t, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), *got)
}

func TestParseDateForms(t *testing.T) {
	t.Parallel()

	want := time.Date(2024, 8, 22, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"2024-08-22", "August 22, 2024", "Aug. 22, 2024", "8/22/2024", "2024-08-22T00:00:00Z"} {
		got := ParseDate(raw)
		require.NotNil(t, got, raw)
		require.Equal(t, want, *got, raw)
	}
	require.Nil(t, ParseDate(""))
	require.Nil(t, ParseDate("soon"))
}

func ptr(t time.Time) *time.Time { return &t }
