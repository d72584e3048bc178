// Package listing holds the product record produced by store scrapers and the
// capability every scraper implements.
package listing

import (
	"context"
	"math"
)

// Record is one product listing found by one scraper. Records are treated as
// immutable once a fetcher returns them.
type Record struct {
	Store    string   `json:"store"`
	Name     string   `json:"name"`
	Price    *float64 `json:"price"`
	Currency string   `json:"currency"`
	URL      string   `json:"url"`
	ImageURL string   `json:"imageUrl,omitempty"`
}

// HasPrice reports whether the record carries a usable price. NaN and
// infinities count as absent.
func (r Record) HasPrice() bool {
	return r.Price != nil && !math.IsNaN(*r.Price) && !math.IsInf(*r.Price, 0)
}

// Fetcher is the scraper capability: fetch the first results page for a
// query on one site.
type Fetcher interface {
	Name() string
	FetchListings(ctx context.Context, query string) ([]Record, error)
}

// FetcherFunc adapts a plain function into a Fetcher.
type FetcherFunc struct {
	Source string
	Fn     func(ctx context.Context, query string) ([]Record, error)
}

func (f FetcherFunc) Name() string { return f.Source }

func (f FetcherFunc) FetchListings(ctx context.Context, query string) ([]Record, error) {
	return f.Fn(ctx, query)
}

// Price returns a pointer suitable for Record.Price.
func Price(v float64) *float64 { return &v }
