// Package enrich forwards newly committed records to an external
// summarization model. Every failure degrades to the record as extracted:
// enrichment never blocks or fails ingestion.
package enrich
