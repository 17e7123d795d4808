package canonical

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"
)

// Document is a parsed HTML page plus the transport signals around it.
type Document struct {
	URL     string
	Headers http.Header
	DOM     *goquery.Document
	raw     []byte
}

// ParseHTML decodes body to UTF-8 using the Content-Type hint and parses it.
func ParseHTML(body []byte, contentType, pageURL string) (*Document, error) {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		reader = bytes.NewReader(body)
	}
	dom, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{URL: pageURL, DOM: dom, raw: body}, nil
}

// ParseFragment parses an HTML fragment such as an AJAX payload.
func ParseFragment(fragment, pageURL string) (*Document, error) {
	dom, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	return &Document{URL: pageURL, DOM: dom, raw: []byte(fragment)}, nil
}

// Meta returns the first non-empty content of the named meta tags, matched
// by property, name or itemprop.
func (d *Document) Meta(keys ...string) string {
	for _, key := range keys {
		for _, attr := range []string{"property", "name", "itemprop"} {
			sel := d.DOM.Find(fmt.Sprintf(`meta[%s="%s"]`, attr, key))
			if v := strings.TrimSpace(sel.First().AttrOr("content", "")); v != "" {
				return v
			}
		}
	}
	return ""
}

var noiseSelectors = "script, style, noscript, nav, header, footer, aside, form, .breadcrumb, .breadcrumbs"

// BodyText returns the main text of the page: <article>, then <main>, then
// a readability extraction, then the whole body.
func (d *Document) BodyText() string {
	for _, sel := range []string{"article", "main", "[role=main]"} {
		if node := d.DOM.Find(sel).First(); node.Length() > 0 {
			if text := blockText(node); len(text) > 80 {
				return text
			}
		}
	}
	if text := d.readable(); text != "" {
		return text
	}
	return blockText(d.DOM.Find("body"))
}

func (d *Document) readable() string {
	if len(d.raw) == 0 {
		return ""
	}
	parsed, err := url.Parse(d.URL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(bytes.NewReader(d.raw), parsed)
	if err != nil || article.Content == "" {
		return ""
	}
	dom, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return ""
	}
	return blockText(dom.Selection)
}

// blockText renders a selection as text with one line per block element.
func blockText(sel *goquery.Selection) string {
	clone := sel.Clone()
	clone.Find(noiseSelectors).Remove()
	clone.Find("br").ReplaceWithHtml("\n")
	clone.Find("p, div, li, h1, h2, h3, h4, h5, h6, tr, section").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return CleanBody(clone.Text())
}
