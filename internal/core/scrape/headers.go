package scrape

import "math/rand"

// HeaderProfile is a consistent set of request headers for one
// browser/device combination. Mixing values from different profiles is an
// easy bot signal, so profiles are always used whole.
type HeaderProfile struct {
	UserAgent       string
	Accept          string
	AcceptLanguage  string
	SecFetchDest    string
	SecFetchMode    string
	SecFetchSite    string
	SecFetchUser    string
	SecChUa         string
	SecChUaMobile   string
	SecChUaPlatform string
}

type HeaderStrategy string

const (
	StrategyDesktop HeaderStrategy = "desktop"
	StrategyMobile  HeaderStrategy = "mobile"
)

const (
	acceptHTML     = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"
	acceptLanguage = "en-US,en;q=0.9,lv;q=0.8"
	chromeSecChUa  = `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`
)

var desktopProfiles = []HeaderProfile{
	{
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Accept:          acceptHTML,
		AcceptLanguage:  acceptLanguage,
		SecFetchDest:    "document",
		SecFetchMode:    "navigate",
		SecFetchSite:    "none",
		SecFetchUser:    "?1",
		SecChUa:         chromeSecChUa,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"Windows"`,
	},
	{
		UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Accept:          acceptHTML,
		AcceptLanguage:  acceptLanguage,
		SecFetchDest:    "document",
		SecFetchMode:    "navigate",
		SecFetchSite:    "none",
		SecFetchUser:    "?1",
		SecChUa:         chromeSecChUa,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"macOS"`,
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Safari/605.1.15",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		AcceptLanguage: acceptLanguage,
		SecFetchDest:   "document",
		SecFetchMode:   "navigate",
		SecFetchSite:   "none",
	},
}

var mobileProfiles = []HeaderProfile{
	{
		UserAgent:       "Mozilla/5.0 (iPhone; CPU iPhone OS 18_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Mobile/15E148 Safari/604.1",
		Accept:          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		AcceptLanguage:  acceptLanguage,
		SecFetchDest:    "document",
		SecFetchMode:    "navigate",
		SecFetchSite:    "none",
		SecChUaMobile:   "?1",
		SecChUaPlatform: `"iOS"`,
	},
	{
		UserAgent:       "Mozilla/5.0 (Linux; Android 14; Pixel 8 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36",
		Accept:          acceptHTML,
		AcceptLanguage:  acceptLanguage,
		SecFetchDest:    "document",
		SecFetchMode:    "navigate",
		SecFetchSite:    "none",
		SecFetchUser:    "?1",
		SecChUa:         chromeSecChUa,
		SecChUaMobile:   "?1",
		SecChUaPlatform: `"Android"`,
	},
}

// GetHeaderProfile returns a random header profile for the given strategy
func GetHeaderProfile(strategy HeaderStrategy) HeaderProfile {
	switch strategy {
	case StrategyMobile:
		return mobileProfiles[rand.Intn(len(mobileProfiles))]
	default:
		return desktopProfiles[rand.Intn(len(desktopProfiles))]
	}
}

// Headers returns the extra request headers for the profile. The user agent
// is set separately by each engine.
func (p HeaderProfile) Headers() map[string]string {
	h := map[string]string{
		"Accept":                    p.Accept,
		"Accept-Language":           p.AcceptLanguage,
		"Upgrade-Insecure-Requests": "1",
	}
	if p.SecFetchDest != "" {
		h["Sec-Fetch-Dest"] = p.SecFetchDest
		h["Sec-Fetch-Mode"] = p.SecFetchMode
		h["Sec-Fetch-Site"] = p.SecFetchSite
		if p.SecFetchUser != "" {
			h["Sec-Fetch-User"] = p.SecFetchUser
		}
	}
	if p.SecChUa != "" {
		h["Sec-Ch-Ua"] = p.SecChUa
	}
	if p.SecChUaMobile != "" {
		h["Sec-Ch-Ua-Mobile"] = p.SecChUaMobile
		h["Sec-Ch-Ua-Platform"] = p.SecChUaPlatform
	}
	return h
}
