package canonical

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var (
	eoPreamble   = regexp.MustCompile(`(?is)^\s*by the authority vested in me.*?it is hereby ordered:?`)
	breadcrumb   = regexp.MustCompile(`(?i)^(briefings\s*&\s*statements|fact\s*sheets|news|the white house|articles)\b`)
	sentenceEnd  = regexp.MustCompile(`[.!?]["')\]]?\s+`)
	numbersMoney = regexp.MustCompile(`(?i)(\$[\d,]+|\b\d{1,3}(?:,\d{3})+(?:\.\d+)?\b|\b\d+%|\b(million|billion|thousand)\b)`)
	attribution  = regexp.MustCompile(`(?i)\b(said|according to|stated|noted|added)\b`)
	promoLine    = regexp.MustCompile(`(?i)(^(icymi|what you need to know)|\bin\s20\d\d,\s*voters approved\b|\bhas signed into law\b)`)
	emoji        = regexp.MustCompile(`[\x{2600}-\x{27BF}\x{E000}-\x{F8FF}\x{1F300}-\x{1FAFF}]`)
	wordToken    = regexp.MustCompile(`[a-zA-Z0-9']+`)
)

var keyVerbs = []string{"directs", "orders", "establishes", "requires", "designates", "amends", "revokes", "implements"}

var bulletPrefixes = []string{"•", "-", "–", "—", "✅", "✔", "▪", "►", "○", "●", "*"}

const minSentenceChars = 25

// Summarize builds the extractive summary for an HTML page body: noise lines
// and executive-order preambles are dropped, sentences are scored, and the
// best two are kept in document order.
func Summarize(text string, maxChars int) string {
	sentences := candidateSentences(prepare(text))
	if len(sentences) == 0 {
		return ""
	}
	type scored struct {
		idx   int
		score [4]int
	}
	ranked := make([]scored, len(sentences))
	for i, s := range sentences {
		ranked[i] = scored{idx: i, score: sentenceScore(s, i)}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		for k := range ranked[a].score {
			if ranked[a].score[k] != ranked[b].score[k] {
				return ranked[a].score[k] > ranked[b].score[k]
			}
		}
		return false
	})
	return joinTop(sentences, indexes(ranked, 2, func(s scored) int { return s.idx }), maxChars)
}

// SummarizeDocument summarizes plain text from binary documents with a small
// TextRank over sentence similarity, keeping the top three.
func SummarizeDocument(text string, maxChars int) string {
	sentences := candidateSentences(prepare(text))
	if len(sentences) == 0 {
		return ""
	}
	ranks := textRank(sentences, 20, 0.85)
	order := make([]int, len(sentences))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return ranks[order[a]] > ranks[order[b]] })
	return joinTop(sentences, indexes(order, 3, func(i int) int { return i }), maxChars)
}

func prepare(text string) string {
	text = CleanBody(text)
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line == "" || (len(line) < 80 && breadcrumb.MatchString(line)) {
			continue
		}
		kept = append(kept, line)
	}
	text = strings.Join(kept, "\n")
	return strings.TrimSpace(eoPreamble.ReplaceAllString(text, ""))
}

func candidateSentences(text string) []string {
	var parts []string
	for _, line := range strings.Split(text, "\n") {
		parts = append(parts, splitSentences(line)...)
	}
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		s = strings.TrimSpace(s)
		if len(s) < minSentenceChars || looksLikeQuote(s) || isBullet(s) || isPromo(s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func splitSentences(line string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(line, -1) {
		// Only split when the next sentence starts with an upper-case letter or digit.
		if loc[1] < len(line) {
			next := line[loc[1]]
			if !(next >= 'A' && next <= 'Z') && !(next >= '0' && next <= '9') {
				continue
			}
		}
		out = append(out, line[start:loc[1]])
		start = loc[1]
	}
	return append(out, line[start:])
}

func sentenceScore(s string, idx int) [4]int {
	lower := strings.ToLower(s)
	verb := 0
	for _, v := range keyVerbs {
		if strings.Contains(lower, v) {
			verb = 1
			break
		}
	}
	num := 0
	if numbersMoney.MatchString(s) {
		num = 1
	}
	return [4]int{verb, num, len(s), -idx}
}

func looksLikeQuote(s string) bool {
	if strings.HasPrefix(s, `"`) || strings.HasPrefix(s, "'") || strings.HasPrefix(s, "“") {
		return true
	}
	quoted := strings.Contains(s, "“") || strings.Count(s, `"`) >= 2
	if quoted && attribution.MatchString(s) {
		return true
	}
	return quoted && (strings.HasSuffix(s, `"`) || strings.HasSuffix(s, "”"))
}

func isBullet(s string) bool {
	for _, p := range bulletPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func isPromo(s string) bool {
	if promoLine.MatchString(s) {
		return true
	}
	return emoji.MatchString(s) && len(s) < 220
}

func indexes[T any](items []T, n int, idx func(T) int) []int {
	if len(items) < n {
		n = len(items)
	}
	out := make([]int, 0, n)
	for _, item := range items[:n] {
		out = append(out, idx(item))
	}
	sort.Ints(out)
	return out
}

func joinTop(sentences []string, picked []int, maxChars int) string {
	chosen := make([]string, 0, len(picked))
	for _, i := range picked {
		chosen = append(chosen, sentences[i])
	}
	out := strings.Join(strings.Fields(strings.Join(chosen, " ")), " ")
	if maxChars <= 0 {
		maxChars = DefaultSummaryChars
	}
	return SoftCaps(Truncate(out, maxChars))
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "if": {}, "while": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "for": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "it": {},
	"that": {}, "this": {}, "with": {}, "as": {}, "by": {}, "at": {}, "from": {}, "we": {}, "our": {},
	"their": {}, "his": {}, "her": {}, "they": {}, "them": {}, "you": {}, "your": {},
}

func bagOfWords(s string) map[string]float64 {
	bag := map[string]float64{}
	for _, w := range wordToken.FindAllString(strings.ToLower(s), -1) {
		if _, stop := stopWords[w]; !stop {
			bag[w]++
		}
	}
	return bag
}

func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for w, v := range a {
		dot += v * b[w]
		na += v * v
	}
	for _, v := range b {
		nb += v * v
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func textRank(sentences []string, iterations int, damping float64) []float64 {
	n := len(sentences)
	bags := make([]map[string]float64, n)
	for i, s := range sentences {
		bags[i] = bagOfWords(s)
	}
	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			c := cosine(bags[i], bags[j])
			sim[i][j], sim[j][i] = c, c
		}
	}
	for i := range sim {
		var total float64
		for _, v := range sim[i] {
			total += v
		}
		if total > 0 {
			for j := range sim[i] {
				sim[i][j] /= total
			}
		}
	}
	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1 / float64(n)
	}
	base := (1 - damping) / float64(n)
	for it := 0; it < iterations; it++ {
		next := make([]float64, n)
		for i := 0; i < n; i++ {
			sum := 0.0
			for j := 0; j < n; j++ {
				sum += sim[j][i] * rank[j]
			}
			next[i] = base + damping*sum
		}
		rank = next
	}
	return rank
}
