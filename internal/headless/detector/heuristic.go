// Package detector decides when a statically fetched page is only a script
// shell and must be rendered in a browser to expose its listing.
package detector

import (
	"bytes"
	"strings"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

const defaultThreshold = 2048

// Heuristic flags empty bodies, single-page-app mount points and small
// script-dominated documents.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a detector. A zero threshold uses 2 KiB.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote reports whether resp needs a rendered refetch. Only 2xx HTML
// responses qualify; binaries and failures never do.
func (h *Heuristic) ShouldPromote(resp ingest.Response) bool {
	if !resp.OK() {
		return false
	}
	if ct := resp.ContentType(); ct != "" && !strings.Contains(ct, "html") {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptShare(body) >= 25 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptShare is the percentage of body bytes inside <script> elements.
func scriptShare(body []byte) int {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return 0
	}
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], "<script")
		if rel < 0 {
			break
		}
		start := pos + rel
		end := strings.Index(lower[start:], "</script>")
		if end < 0 {
			// unterminated: the rest of the document is script
			covered += total - start
			break
		}
		next := start + end + len("</script>")
		covered += next - start
		pos = next
	}
	return covered * 100 / total
}
