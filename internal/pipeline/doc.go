// Package pipeline runs one logical source end to end: select the sync mode,
// crawl the listing, drop identities the store already holds, extract the
// survivors in parallel, commit each record and enrich the new ones.
//
// Failures are contained per locator. A run that partially fails still
// commits everything it extracted and reports partial counts.
package pipeline
