// Package grouping clusters product records from different stores into offer
// groups keyed by a normalized product name.
package grouping

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"pricecompare/internal/core/listing"
	"pricecompare/internal/logger"

	"github.com/google/uuid"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// ErrGrouping is returned by TryGroup when grouping faults on its input.
var ErrGrouping = errors.New("grouping failed")

// OfferGroup is a cluster of records judged to be the same product. GroupID
// is fresh on every computation and must not be used to track a group
// between polls.
type OfferGroup struct {
	GroupID string           `json:"groupId"`
	Name    string           `json:"name"`
	Image   string           `json:"image,omitempty"`
	Offers  []listing.Record `json:"offers"`

	key string
}

var (
	punctuation = strings.NewReplacer(".", " ", ",", " ", "-", " ", "(", " ", ")", " ", "/", " ")

	log = logger.New("Grouper")
)

// Normalize lowercases and trims name, turns the separators . , - ( ) / into
// spaces and collapses whitespace runs, Unicode spaces such as U+00A0
// included.
func Normalize(name string) string {
	n := punctuation.Replace(strings.ToLower(name))
	return strings.Join(strings.Fields(n), " ")
}

// Group clusters records by exact normalized name. Records without a name are
// dropped. The first record seen for a key names the group; offers are sorted
// by ascending price with priceless offers last, and the group image comes
// from the cheapest offer. Groups are ordered by name.
func Group(records []listing.Record) []OfferGroup {
	if len(records) == 0 {
		return []OfferGroup{}
	}

	groups := make([]OfferGroup, 0)
	index := make(map[string]int)
	skipped := 0

	for _, r := range records {
		if strings.TrimSpace(r.Name) == "" {
			skipped++
			log.Warn().Str("store", r.Store).Str("url", r.URL).Msg("skipping record with missing name")
			continue
		}
		key := Normalize(r.Name)
		if i, ok := index[key]; ok {
			groups[i].Offers = append(groups[i].Offers, r)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, OfferGroup{
			GroupID: uuid.New().String(),
			Name:    r.Name,
			Image:   r.ImageURL,
			Offers:  []listing.Record{r},
			key:     key,
		})
	}

	for i := range groups {
		sortOffers(groups[i].Offers)
		groups[i].Image = groups[i].Offers[0].ImageURL
	}

	sortGroups(groups)

	log.Debug().Int("records", len(records)).Int("groups", len(groups)).Int("skipped", skipped).Msg("grouped records")
	return groups
}

// TryGroup runs Group and converts a panic into ErrGrouping so callers can
// fall back to the raw records.
func TryGroup(records []listing.Record, group func([]listing.Record) []OfferGroup) (groups []OfferGroup, err error) {
	if group == nil {
		group = Group
	}
	defer func() {
		if r := recover(); r != nil {
			groups = nil
			err = fmt.Errorf("%w: %v", ErrGrouping, r)
		}
	}()
	return group(records), nil
}

// Flatten returns every offer in group order.
func Flatten(groups []OfferGroup) []listing.Record {
	out := make([]listing.Record, 0)
	for _, g := range groups {
		out = append(out, g.Offers...)
	}
	return out
}

// Key is the normalized name the group was built from.
func (g OfferGroup) Key() string { return g.key }

func sortOffers(offers []listing.Record) {
	sort.SliceStable(offers, func(i, j int) bool {
		a, b := offers[i], offers[j]
		switch {
		case !a.HasPrice():
			return false
		case !b.HasPrice():
			return true
		default:
			return *a.Price < *b.Price
		}
	})
}

// sortGroups orders by a root-locale collation so accented and mixed-case
// names sort the way shoppers expect; byte order breaks collation ties.
func sortGroups(groups []OfferGroup) {
	c := collate.New(language.Und)
	sort.SliceStable(groups, func(i, j int) bool {
		if cmp := c.CompareString(groups[i].Name, groups[j].Name); cmp != 0 {
			return cmp < 0
		}
		return groups[i].Name < groups[j].Name
	})
}
