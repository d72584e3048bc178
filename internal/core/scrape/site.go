package scrape

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed sites.yaml
var defaultSites []byte

type Engine string

const (
	// EngineBrowser renders the page in headless Chromium.
	EngineBrowser Engine = "browser"
	// EngineStatic fetches server-rendered HTML without a browser.
	EngineStatic Engine = "static"
)

// Selectors locate product cards and their fields. An empty Link or Name
// selector means the item element itself.
type Selectors struct {
	Item      string `yaml:"item"`
	Container string `yaml:"container"`
	Name      string `yaml:"name"`
	Link      string `yaml:"link"`
	Price     string `yaml:"price"`
	Image     string `yaml:"image"`
}

// Site describes how to search one store.
type Site struct {
	Name              string         `yaml:"name"`
	Engine            Engine         `yaml:"engine"`
	Strategy          HeaderStrategy `yaml:"header_strategy"`
	SearchURL         string         `yaml:"search_url"`
	BaseURL           string         `yaml:"base_url"`
	ImageBaseURL      string         `yaml:"image_base_url"`
	Currency          string         `yaml:"currency"`
	WaitUntil         string         `yaml:"wait_until"`
	NavigationTimeout time.Duration  `yaml:"navigation_timeout"`
	WaitFor           string         `yaml:"wait_for"`
	WaitTimeout       time.Duration  `yaml:"wait_timeout"`
	SettleDelay       time.Duration  `yaml:"settle_delay"`
	ConsentTexts      []string       `yaml:"consent_texts"`
	PricePattern      string         `yaml:"price_pattern"`
	RequirePrice      bool           `yaml:"require_price"`
	Disabled          bool           `yaml:"disabled"`
	Selectors         Selectors      `yaml:"selectors"`

	pricePattern *regexp.Regexp
}

type sitesFile struct {
	Sites []Site `yaml:"sites"`
}

// LoadSites reads site definitions from path, or the embedded defaults when
// path is empty. Disabled sites are dropped.
func LoadSites(path string) ([]Site, error) {
	data := defaultSites
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read sites file: %w", err)
		}
		data = b
	}
	return ParseSites(data)
}

func ParseSites(data []byte) ([]Site, error) {
	var f sitesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sites: %w", err)
	}
	out := make([]Site, 0, len(f.Sites))
	seen := make(map[string]bool)
	for _, s := range f.Sites {
		if s.Disabled {
			continue
		}
		if err := s.prepare(); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("site %q defined twice", s.Name)
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	return out, nil
}

func (s *Site) prepare() error {
	if s.Name == "" {
		return fmt.Errorf("site without name")
	}
	if !strings.Contains(s.SearchURL, "{query}") {
		return fmt.Errorf("site %s: search_url must contain {query}", s.Name)
	}
	if s.Selectors.Item == "" {
		return fmt.Errorf("site %s: selectors.item is required", s.Name)
	}
	switch s.Engine {
	case "":
		s.Engine = EngineBrowser
	case EngineBrowser, EngineStatic:
	default:
		return fmt.Errorf("site %s: unknown engine %q", s.Name, s.Engine)
	}
	if s.Strategy == "" {
		s.Strategy = StrategyDesktop
	}
	if s.Currency == "" {
		s.Currency = "EUR"
	}
	if s.NavigationTimeout <= 0 {
		s.NavigationTimeout = 30 * time.Second
	}
	if s.WaitTimeout <= 0 {
		s.WaitTimeout = 15 * time.Second
	}
	if s.PricePattern != "" {
		re, err := regexp.Compile(s.PricePattern)
		if err != nil {
			return fmt.Errorf("site %s: price_pattern: %w", s.Name, err)
		}
		s.pricePattern = re
	}
	return nil
}

// URLFor builds the search URL for query.
func (s Site) URLFor(query string) string {
	return strings.ReplaceAll(s.SearchURL, "{query}", url.PathEscape(strings.TrimSpace(query)))
}
