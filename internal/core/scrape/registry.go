package scrape

import (
	"time"

	"pricecompare/internal/core/artifacts"
	"pricecompare/internal/core/listing"
)

type Options struct {
	// Artifacts receives debug snapshots from browser fetchers; nil disables them.
	Artifacts artifacts.Sink
	// Cache wraps every fetcher when set together with a positive CacheTTL.
	Cache    Cache
	CacheTTL time.Duration
}

// BuildFetchers returns one fetcher per site, in site order.
func BuildFetchers(sites []Site, opts Options) []listing.Fetcher {
	out := make([]listing.Fetcher, 0, len(sites))
	for _, s := range sites {
		var f listing.Fetcher
		switch s.Engine {
		case EngineStatic:
			f = NewStaticFetcher(s)
		default:
			f = NewBrowserFetcher(s, opts.Artifacts)
		}
		if opts.Cache != nil && opts.CacheTTL > 0 {
			f = NewCachedFetcher(f, opts.Cache, opts.CacheTTL)
		}
		out = append(out, f)
	}
	return out
}
