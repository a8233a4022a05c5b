// Package filter holds the typed per-game listing filters and the registry
// that builds them from configuration.
package filter

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// GameFilter narrows a game's catalog. Query feeds the marketplace request;
// Apply re-checks each returned listing locally.
type GameFilter interface {
	Game() domain.Game
	Apply(l domain.Listing) bool
	Query() url.Values
}

// PriceRange bounds listing prices in minor units. Zero means unbounded.
type PriceRange struct {
	Min int64
	Max int64
}

// Contains reports whether price falls inside the range.
func (r PriceRange) Contains(price int64) bool {
	if r.Min > 0 && price < r.Min {
		return false
	}
	if r.Max > 0 && price > r.Max {
		return false
	}
	return true
}

func (r PriceRange) validate() error {
	if r.Min < 0 || r.Max < 0 {
		return fmt.Errorf("%w: negative price bound", domain.ErrInvalidFilter)
	}
	if r.Max > 0 && r.Min > r.Max {
		return fmt.Errorf("%w: min_price %d above max_price %d", domain.ErrInvalidFilter, r.Min, r.Max)
	}
	return nil
}

func (r PriceRange) addQuery(q url.Values) {
	if r.Min > 0 {
		q.Set("priceFrom", strconv.FormatInt(r.Min, 10))
	}
	if r.Max > 0 {
		q.Set("priceTo", strconv.FormatInt(r.Max, 10))
	}
}

// set is a case-insensitive string set. An empty set matches everything.
type set []string

func (s set) matches(v string) bool {
	if len(s) == 0 {
		return true
	}
	for _, want := range s {
		if strings.EqualFold(want, v) {
			return true
		}
	}
	return false
}

func (s set) addTreeFilter(q url.Values, key string) {
	for _, v := range s {
		q.Add("treeFilters", key+"[]="+strings.ToLower(v))
	}
}

// CS2Filter filters Counter-Strike 2 skins.
type CS2Filter struct {
	PriceRange
	Exteriors  []string
	Rarities   []string
	Categories []string
	StatTrak   *bool
}

func (f CS2Filter) Game() domain.Game { return domain.GameCS2 }

func (f CS2Filter) Apply(l domain.Listing) bool {
	if !f.Contains(l.Price) {
		return false
	}
	if !set(f.Exteriors).matches(l.Attr("exterior")) || !set(f.Rarities).matches(l.Attr("rarity")) {
		return false
	}
	if !set(f.Categories).matches(l.Attr("category")) {
		return false
	}
	if f.StatTrak != nil && *f.StatTrak != (l.Attr("stattrak") == "true") {
		return false
	}
	return true
}

func (f CS2Filter) Query() url.Values {
	q := url.Values{}
	f.addQuery(q)
	set(f.Exteriors).addTreeFilter(q, "exterior")
	set(f.Rarities).addTreeFilter(q, "rarity")
	set(f.Categories).addTreeFilter(q, "category")
	if f.StatTrak != nil && *f.StatTrak {
		q.Add("treeFilters", "category_0[]=stattrak™")
	}
	return q
}

// Dota2Filter filters Dota 2 items.
type Dota2Filter struct {
	PriceRange
	Heroes    []string
	Rarities  []string
	Qualities []string
}

func (f Dota2Filter) Game() domain.Game { return domain.GameDota2 }

func (f Dota2Filter) Apply(l domain.Listing) bool {
	return f.Contains(l.Price) &&
		set(f.Heroes).matches(l.Attr("hero")) &&
		set(f.Rarities).matches(l.Attr("rarity")) &&
		set(f.Qualities).matches(l.Attr("quality"))
}

func (f Dota2Filter) Query() url.Values {
	q := url.Values{}
	f.addQuery(q)
	set(f.Heroes).addTreeFilter(q, "hero")
	set(f.Rarities).addTreeFilter(q, "rarity")
	set(f.Qualities).addTreeFilter(q, "quality")
	return q
}

// RustFilter filters Rust skins.
type RustFilter struct {
	PriceRange
	Categories []string
}

func (f RustFilter) Game() domain.Game { return domain.GameRust }

func (f RustFilter) Apply(l domain.Listing) bool {
	return f.Contains(l.Price) && set(f.Categories).matches(l.Attr("category"))
}

func (f RustFilter) Query() url.Values {
	q := url.Values{}
	f.addQuery(q)
	set(f.Categories).addTreeFilter(q, "category")
	return q
}

// TF2Filter filters Team Fortress 2 items.
type TF2Filter struct {
	PriceRange
	Qualities []string
	Classes   []string
}

func (f TF2Filter) Game() domain.Game { return domain.GameTF2 }

func (f TF2Filter) Apply(l domain.Listing) bool {
	return f.Contains(l.Price) &&
		set(f.Qualities).matches(l.Attr("quality")) &&
		set(f.Classes).matches(l.Attr("class"))
}

func (f TF2Filter) Query() url.Values {
	q := url.Values{}
	f.addQuery(q)
	set(f.Qualities).addTreeFilter(q, "quality")
	set(f.Classes).addTreeFilter(q, "class")
	return q
}
