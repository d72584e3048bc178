package scrape

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"pricecompare/internal/core/listing"

	"github.com/PuerkitoBio/goquery"
)

var priceNumber = regexp.MustCompile(`\d[\d\s\p{Zs}.,]*`)

// Extract pulls listing records out of a parsed results page. pageURL is used
// to resolve relative links when the site has no base_url.
func Extract(root *goquery.Selection, site Site, pageURL string) []listing.Record {
	base := resolveBase(site.BaseURL, pageURL)
	imageBase := base
	if site.ImageBaseURL != "" {
		imageBase = resolveBase(site.ImageBaseURL, pageURL)
	}

	sel := site.Selectors
	seen := make(map[string]bool)
	var out []listing.Record

	root.Find(sel.Item).Each(func(_ int, item *goquery.Selection) {
		card := item
		if sel.Container != "" {
			card = item.Closest(sel.Container)
			if card.Length() == 0 {
				return
			}
		}

		link := pick(card, item, sel.Link)
		href, _ := link.Attr("href")
		u := absolute(base, href)
		if u == "" || seen[u] {
			return
		}

		name := nameOf(pick(card, link, sel.Name))
		if name == "" {
			return
		}

		rec := listing.Record{
			Store:    site.Name,
			Name:     name,
			Currency: site.Currency,
			URL:      u,
		}
		if p, ok := priceOf(card, site); ok {
			rec.Price = listing.Price(p)
		} else if site.RequirePrice {
			return
		}
		rec.ImageURL = imageOf(card, sel.Image, imageBase)

		seen[u] = true
		out = append(out, rec)
	})
	return out
}

// pick returns the first match of selector inside card, or fallback when the
// selector is empty.
func pick(card, fallback *goquery.Selection, selector string) *goquery.Selection {
	if selector == "" {
		return fallback
	}
	return card.Find(selector).First()
}

func nameOf(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	if t := clean(s.Text()); t != "" {
		return t
	}
	if t, ok := s.Attr("title"); ok && clean(t) != "" {
		return clean(t)
	}
	if alt, ok := s.Find("img").First().Attr("alt"); ok {
		return clean(alt)
	}
	return ""
}

func priceOf(card *goquery.Selection, site Site) (float64, bool) {
	var (
		price float64
		found bool
	)
	if site.Selectors.Price != "" {
		card.Find(site.Selectors.Price).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			price, found = ParsePrice(s.Text())
			return !found
		})
	}
	if !found && site.pricePattern != nil {
		m := site.pricePattern.FindStringSubmatch(card.Text())
		if m != nil {
			text := m[0]
			if len(m) > 1 {
				text = m[1]
			}
			price, found = ParsePrice(text)
		}
	}
	return price, found
}

func imageOf(card *goquery.Selection, selector string, base *url.URL) string {
	if selector == "" {
		selector = "img"
	}
	img := card.Find(selector).First()
	for _, attr := range []string{"src", "data-src"} {
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(v, "data:") {
			return absolute(base, v)
		}
	}
	return ""
}

// ParsePrice reads the first number in text. Both "1 234,56" and "1,234.56"
// style separators are accepted; a lone comma is a decimal separator.
func ParsePrice(text string) (float64, bool) {
	m := priceNumber.FindString(text)
	m = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, m)
	m = strings.TrimRight(m, ".,")
	if m == "" {
		return 0, false
	}

	dot, comma := strings.LastIndex(m, "."), strings.LastIndex(m, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			m = strings.ReplaceAll(m, ".", "")
			m = strings.Replace(m, ",", ".", 1)
		} else {
			m = strings.ReplaceAll(m, ",", "")
		}
	case comma >= 0:
		if strings.Count(m, ",") > 1 {
			m = strings.ReplaceAll(m, ",", "")
		} else {
			m = strings.Replace(m, ",", ".", 1)
		}
	case dot >= 0:
		if strings.Count(m, ".") > 1 {
			m = strings.ReplaceAll(m, ".", "")
		}
	}

	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// clean collapses whitespace runs, &nbsp; included, into single spaces.
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolveBase(raw, fallback string) *url.URL {
	if raw == "" {
		raw = fallback
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}
	return u
}

func absolute(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	if base == nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
