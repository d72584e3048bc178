package scrape

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"pricecompare/internal/core/artifacts"
	"pricecompare/internal/core/listing"
	"pricecompare/internal/logger"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"
)

var blockedHosts = []string{
	"googlesyndication.com", "doubleclick.net", "googleadservices.com", "googletagmanager.com",
	"google-analytics.com", "facebook.net", "hotjar.com", "cookiebot.com", "onetrust.com",
	"cookielaw.org", "intercom.io", "zendesk.com",
}

// BrowserFetcher renders the search page in headless Chromium and extracts
// listings from the final DOM.
type BrowserFetcher struct {
	site      Site
	artifacts artifacts.Sink
	log       *logger.Logger
}

func NewBrowserFetcher(site Site, sink artifacts.Sink) *BrowserFetcher {
	return &BrowserFetcher{site: site, artifacts: sink, log: logger.New("Scraper").With("store", site.Name)}
}

func (f *BrowserFetcher) Name() string { return f.site.Name }

func (f *BrowserFetcher) FetchListings(ctx context.Context, query string) ([]listing.Record, error) {
	target := f.site.URLFor(query)
	f.log.LogDebugf("navigating to %s", target)

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("playwright initialization failed: %w", err)
	}
	defer pw.Stop()

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-gpu",
			"--disable-blink-features=AutomationControlled",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("browser launch failed: %w", err)
	}
	defer browser.Close()

	// Closing the browser unblocks any pending playwright call.
	stop := context.AfterFunc(ctx, func() { _ = browser.Close() })
	defer stop()

	profile := GetHeaderProfile(f.site.Strategy)
	opts := playwright.BrowserNewContextOptions{
		UserAgent:        playwright.String(profile.UserAgent),
		ExtraHttpHeaders: profile.Headers(),
		Viewport:         &playwright.Size{Width: 1366, Height: 768},
	}
	if f.site.Strategy == StrategyMobile {
		opts.Viewport = &playwright.Size{Width: 390, Height: 844}
		opts.IsMobile = playwright.Bool(true)
		opts.HasTouch = playwright.Bool(true)
	}
	bctx, err := browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("browser context creation failed: %w", err)
	}
	defer bctx.Close()

	if err := bctx.Route("**/*", func(route playwright.Route) {
		req := route.Request()
		if req.ResourceType() == "font" || req.ResourceType() == "media" || isBlocked(req.URL()) {
			_ = route.Abort("blockedbyclient")
			return
		}
		_ = route.Continue()
	}); err != nil {
		f.log.LogWarnf("Failed to set up resource blocking: %v", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("page creation failed: %w", err)
	}

	resp, err := page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: waitUntil(f.site.WaitUntil),
		Timeout:   playwright.Float(float64(f.site.NavigationTimeout.Milliseconds())),
	})
	if err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("navigate %s: %w", target, err))
	}
	if resp != nil && resp.Status() >= 400 {
		return nil, fmt.Errorf("navigate %s: status %d", target, resp.Status())
	}

	f.dismissConsent(page)

	if f.site.WaitFor != "" {
		err := page.Locator(f.site.WaitFor).First().WaitFor(playwright.LocatorWaitForOptions{
			Timeout: playwright.Float(float64(f.site.WaitTimeout.Milliseconds())),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// No product cards rendered: the store found nothing.
			f.log.LogInfof("no results for %q", query)
			f.snapshot(ctx, page, query)
			return nil, nil
		}
	}
	if f.site.SettleDelay > 0 {
		select {
		case <-time.After(f.site.SettleDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	html, err := page.Content()
	if err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("read page content: %w", err))
	}
	f.snapshot(ctx, page, query)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	records := Extract(doc.Selection, f.site, page.URL())
	f.log.LogInfof("found %d listings for %q", len(records), query)
	return records, nil
}

// dismissConsent clicks the first visible cookie banner button matching the
// site's consent texts. Failures are ignored.
func (f *BrowserFetcher) dismissConsent(page playwright.Page) {
	if len(f.site.ConsentTexts) == 0 {
		return
	}
	quoted := make([]string, len(f.site.ConsentTexts))
	for i, t := range f.site.ConsentTexts {
		quoted[i] = regexp.QuoteMeta(t)
	}
	re := regexp.MustCompile("(?i)" + strings.Join(quoted, "|"))

	button := page.Locator("button").Filter(playwright.LocatorFilterOptions{HasText: re}).First()
	if err := button.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(2000)}); err != nil {
		f.log.LogDebugf("no consent button: %v", err)
		return
	}
	f.log.LogDebug("dismissed cookie banner")
}

// snapshot stores the page HTML and a screenshot when a sink is configured.
func (f *BrowserFetcher) snapshot(ctx context.Context, page playwright.Page, query string) {
	if f.artifacts == nil {
		return
	}
	now := time.Now()
	if html, err := page.Content(); err == nil {
		if where, err := f.artifacts.Save(ctx, artifacts.Name(f.site.Name, query, "html", now), "text/html", []byte(html)); err != nil {
			f.log.LogWarnf("save html snapshot: %v", err)
		} else {
			f.log.LogDebugf("html snapshot at %s", where)
		}
	}
	if png, err := page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)}); err == nil {
		if where, err := f.artifacts.Save(ctx, artifacts.Name(f.site.Name, query, "png", now), "image/png", png); err != nil {
			f.log.LogWarnf("save screenshot: %v", err)
		} else {
			f.log.LogDebugf("screenshot at %s", where)
		}
	}
}

func waitUntil(s string) *playwright.WaitUntilState {
	switch s {
	case "load":
		return playwright.WaitUntilStateLoad
	case "domcontentloaded":
		return playwright.WaitUntilStateDomcontentloaded
	case "commit":
		return playwright.WaitUntilStateCommit
	default:
		return playwright.WaitUntilStateNetworkidle
	}
}

func isBlocked(u string) bool {
	for _, h := range blockedHosts {
		if strings.Contains(u, h) {
			return true
		}
	}
	return false
}

// ctxErr prefers the context error once the caller has given up, since the
// playwright error is then only a side effect of closing the browser.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
