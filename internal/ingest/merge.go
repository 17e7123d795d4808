package ingest

import "time"

// FutureSlack is how far past "now" a publish date may be before it is
// treated as a bad parse.
const FutureSlack = 48 * time.Hour

// PlausibleDate reports whether t is not implausibly in the future.
func PlausibleDate(t time.Time, now time.Time) bool {
	return !t.After(now.Add(FutureSlack))
}

// MergePublishedAt applies the conflict policy for published_at: the incoming
// value wins when present, unless it is itself implausible and the stored one
// is not. A stored implausible value always yields to a new valid one.
func MergePublishedAt(existing, incoming *time.Time, now time.Time) *time.Time {
	if incoming == nil {
		return existing
	}
	if existing != nil && !PlausibleDate(*incoming, now) && PlausibleDate(*existing, now) {
		return existing
	}
	return incoming
}

// Namespaced prefixes an identity with its source when ids are not globally unique.
func Namespaced(source, externalID string) string {
	return source + ":" + externalID
}
