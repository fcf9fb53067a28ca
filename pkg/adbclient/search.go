package adbclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// SearchOptions configures a metadata search.
type SearchOptions struct {
	// Query is an ElasticSearch query string. Empty means "*".
	Query string

	// Fields restricts returned fields (dot notation allowed).
	Fields []string

	// Latest restricts results to latest versions.
	Latest bool

	// PageSize is the server page size. Zero lets the server decide.
	PageSize int
}

type searchPage struct {
	Results []map[string]any `json:"results"`
	Count   int              `json:"count"`
	Total   int              `json:"total"`
	Next    string           `json:"next"`
}

// SearchIterator lazily walks search results page by page.
type SearchIterator struct {
	client *Client
	next   string
	buf    []map[string]any
	done   bool
	total  int
}

// Search returns an iterator over matching metadata documents. No request
// is sent until the first call to Next.
func (c *Client) Search(opts SearchOptions) *SearchIterator {
	q := strings.TrimSpace(opts.Query)
	if q == "" {
		q = "*"
	}
	params := url.Values{}
	params.Set("q", q)
	if len(opts.Fields) > 0 {
		params.Set("fields", strings.Join(opts.Fields, ","))
	}
	if opts.Latest {
		params.Set("latest", "true")
	}
	if opts.PageSize > 0 {
		params.Set("size", strconv.Itoa(opts.PageSize))
	}
	return &SearchIterator{client: c, next: "/search?" + params.Encode()}
}

// Next returns the next document, or io.EOF when results are exhausted.
func (it *SearchIterator) Next(ctx context.Context) (map[string]any, error) {
	for len(it.buf) == 0 {
		if it.done || it.next == "" {
			return nil, io.EOF
		}
		var page searchPage
		if err := it.client.DoJSON(ctx, http.MethodGet, it.next, nil, &page); err != nil {
			return nil, err
		}
		it.buf = page.Results
		it.total = page.Total
		if page.Next == "" || len(page.Results) == 0 {
			it.done = true
		}
		it.next = page.Next
	}
	doc := it.buf[0]
	it.buf = it.buf[1:]
	return doc, nil
}

// Total returns the total hit count reported by the last fetched page.
func (it *SearchIterator) Total() int {
	return it.total
}
