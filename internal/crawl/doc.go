// Package crawl walks a source's paginated listing and yields candidate
// locators until a termination condition fires.
//
// Pages are fetched sequentially: the next step is only known after the
// current page is parsed. Within one crawl, locators are deduplicated by
// normalized identity, independently of the store.
package crawl
