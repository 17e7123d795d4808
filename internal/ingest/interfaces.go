package ingest

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a single resilient GET. It never returns an error;
// exhausted retries surface as a StatusFetchFailed response.
type Fetcher interface {
	Fetch(ctx context.Context, request Request) Response
}

// Adapter is the per-source-family extraction strategy.
type Adapter interface {
	// Start returns the first listing step.
	Start(ctx context.Context) (Step, error)
	// ListLocators parses one fetched listing page.
	ListLocators(ctx context.Context, step Step, resp Response) (Listing, error)
	// Extract turns a locator (and an optional fetched document) into a record
	// or a nested fetch request.
	Extract(ctx context.Context, loc Locator, doc *Response) (Extraction, error)
	// Classify maps free text onto the source's status vocabulary.
	Classify(text string) string
}

// Reauthenticator is implemented by adapters whose listing requests carry
// credentials that can expire mid-crawl.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context, step Step) (Step, bool)
}

// Store persists sources and records.
type Store interface {
	EnsureSource(ctx context.Context, source Source) (Source, error)
	CountItems(ctx context.Context, sourceID int64) (int64, error)
	FilterNew(ctx context.Context, sourceID int64, externalIDs []string) ([]string, error)
	Upsert(ctx context.Context, record Record) (UpsertResult, error)
}

// Enricher is the external summarization and impact-scoring collaborator.
type Enricher interface {
	Summarize(ctx context.Context, title, body string) (string, error)
	ExtractDate(ctx context.Context, body, urlHint string) (*time.Time, error)
	// ScoreImpact returns nil when there is nothing to score.
	ScoreImpact(ctx context.Context, title, url, summary string) (*Impact, error)
}

// TextExtractor pulls plain text out of binary documents. It returns "" on failure.
type TextExtractor interface {
	ExtractText(data []byte) string
}

// BlobStore archives raw payloads and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes commit events downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore persists run metadata.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, runID string, status RunStatus, errText string, summary RunSummary) error
	GetRun(ctx context.Context, runID string) (Run, error)
}

// RunQueue provides enqueue/dequeue semantics for runs.
type RunQueue interface {
	Enqueue(ctx context.Context, request RunRequest) error
	Dequeue(ctx context.Context) (RunRequest, error)
}

// Hasher computes digests for identities and archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// DetailRequester is implemented by adapters that shape the request used to
// fetch a locator's document (longer read windows for binaries, auth headers).
type DetailRequester interface {
	DetailRequest(loc Locator) Request
}
