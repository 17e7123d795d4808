package canonical

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

func TestCleanTextRemovesNul(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Executive Order 24-01", CleanText("Exec\x00utive Order 24-01"))
	require.Equal(t, "A B", CleanText("A\x00 \x00B"))
}

func TestCleanTextNormalizes(t *testing.T) {
	t.Parallel()

	require.Equal(t, `Governor's "Plan" & Budget`, CleanText("Governor’s “Plan” &amp; \n\t Budget"))
	require.Equal(t, "zero width", CleanText("zero\u200b width\ufeff"))
}

func TestCleanBodyKeepsParagraphs(t *testing.T) {
	t.Parallel()

	require.Equal(t, "one two\n\nthree", CleanBody("one   two\n\n\n\n three \r\n"))
}

func TestTruncateAtWordBoundary(t *testing.T) {
	t.Parallel()

	require.Equal(t, "short", Truncate("short", 10))
	require.Equal(t, "alpha beta…", Truncate("alpha beta gamma", 12))

	long := strings.Repeat("word ", 300)
	out := Truncate(long, DefaultSummaryChars)
	require.LessOrEqual(t, utf8.RuneCountInString(out), DefaultSummaryChars+1)
	require.True(t, strings.HasSuffix(out, "…"))
}

func TestSanitizeRecord(t *testing.T) {
	t.Parallel()

	rec := ingest.Record{
		Title:   "Title\x00 With Nul",
		Summary: strings.Repeat("sentence ", 200),
		Agency:  " Office  of the Governor ",
		Raw:     map[string]any{"body": "x\x00y", "nested": map[string]any{"k": []any{"a\x00"}}},
	}
	SanitizeRecord(&rec, 100)
	require.Equal(t, "Title With Nul", rec.Title)
	require.LessOrEqual(t, utf8.RuneCountInString(rec.Summary), 101)
	require.Equal(t, "Office of the Governor", rec.Agency)
	require.Equal(t, ingest.DefaultStatus, rec.Status)
	require.Equal(t, "xy", rec.Raw["body"])
	require.Equal(t, []any{"a"}, rec.Raw["nested"].(map[string]any)["k"])
}

func TestSoftCaps(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Governor Announces FEMA Disaster Declaration", SoftCaps("GOVERNOR ANNOUNCES FEMA DISASTER DECLARATION"))
	require.Equal(t, "The EPA and U.S. rules", SoftCaps("The EPA and U.S. rules"))
	require.Equal(t, "Executive Order 24-01", SoftCaps("Executive Order 24-01"))
}
