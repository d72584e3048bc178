package scrape

import (
	"context"
	"fmt"

	"pricecompare/internal/core/listing"
	"pricecompare/internal/logger"

	"github.com/gocolly/colly"
)

// StaticFetcher downloads server-rendered result pages with colly. It suits
// stores whose search page does not need JavaScript.
type StaticFetcher struct {
	site Site
	log  *logger.Logger
}

func NewStaticFetcher(site Site) *StaticFetcher {
	return &StaticFetcher{site: site, log: logger.New("Scraper").With("store", site.Name)}
}

func (f *StaticFetcher) Name() string { return f.site.Name }

func (f *StaticFetcher) FetchListings(ctx context.Context, query string) ([]listing.Record, error) {
	profile := GetHeaderProfile(f.site.Strategy)
	c := colly.NewCollector(colly.UserAgent(profile.UserAgent))
	c.SetRequestTimeout(f.site.NavigationTimeout)

	var (
		records  []listing.Record
		fetchErr error
	)
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		for k, v := range profile.Headers() {
			r.Headers.Set(k, v)
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("fetch %s: status %d: %w", r.Request.URL, r.StatusCode, err)
	})
	c.OnHTML("html", func(e *colly.HTMLElement) {
		records = Extract(e.DOM, f.site, e.Request.URL.String())
	})

	target := f.site.URLFor(query)
	f.log.LogDebugf("fetching %s", target)
	if err := c.Visit(target); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	f.log.LogInfof("found %d listings for %q", len(records), query)
	return records, nil
}
