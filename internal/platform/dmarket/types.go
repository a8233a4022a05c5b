package dmarket

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// gameIDs maps our game identifiers to the marketplace's catalog ids.
var gameIDs = map[domain.Game]string{
	domain.GameCS2:   "a8db",
	domain.GameDota2: "9a92",
	domain.GameRust:  "rust",
	domain.GameTF2:   "tf2",
}

// GameID returns the marketplace catalog id for g.
func GameID(g domain.Game) (string, error) {
	id, ok := gameIDs[g]
	if !ok {
		return "", fmt.Errorf("dmarket: %w: %q", domain.ErrUnknownGame, g)
	}
	return id, nil
}

// apiPrice holds per-currency prices encoded as decimal strings of cents.
type apiPrice struct {
	USD string `json:"USD"`
}

type apiExtra struct {
	Exterior     string  `json:"exterior"`
	Quality      string  `json:"quality"`
	Rarity       string  `json:"rarity"`
	Category     string  `json:"category"`
	CategoryPath string  `json:"categoryPath"`
	Hero         string  `json:"heroName"`
	Class        string  `json:"class"`
	FloatValue   float64 `json:"floatValue"`
	TradeLock    int     `json:"tradeLockDuration"`
}

// APIItem is a listing as returned by the market items endpoint.
type APIItem struct {
	ItemID         string   `json:"itemId"`
	Title          string   `json:"title"`
	GameID         string   `json:"gameId"`
	Price          apiPrice `json:"price"`
	SuggestedPrice apiPrice `json:"suggestedPrice"`
	Extra          apiExtra `json:"extra"`
}

type apiItemsResponse struct {
	Objects []APIItem `json:"objects"`
	Total   struct {
		Items int64 `json:"items"`
	} `json:"total"`
	Cursor string `json:"cursor"`
}

type apiAggregatedPrice struct {
	Title          string `json:"title"`
	OrderBestPrice string `json:"orderBestPrice"`
	OrderCount     int    `json:"orderCount"`
	OfferBestPrice string `json:"offerBestPrice"`
	OfferCount     int    `json:"offerCount"`
}

type apiAggregatedResponse struct {
	AggregatedPrices []apiAggregatedPrice `json:"aggregatedPrices"`
	NextCursor       string               `json:"nextCursor"`
}

// parseCents parses a cents string. Empty strings yield 0.
func parseCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dmarket: invalid price %q: %w", s, err)
	}
	return v, nil
}

// ToListing converts an API item into a domain listing.
func (it APIItem) ToListing(game domain.Game) (domain.Listing, error) {
	price, err := parseCents(it.Price.USD)
	if err != nil {
		return domain.Listing{}, err
	}
	attrs := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			attrs[k] = v
		}
	}
	set("exterior", it.Extra.Exterior)
	set("quality", it.Extra.Quality)
	set("rarity", it.Extra.Rarity)
	set("category", it.Extra.Category)
	set("category_path", it.Extra.CategoryPath)
	set("hero", it.Extra.Hero)
	set("class", it.Extra.Class)
	set("suggested_price", it.SuggestedPrice.USD)
	if it.Extra.FloatValue > 0 {
		attrs["float"] = strconv.FormatFloat(it.Extra.FloatValue, 'f', -1, 64)
	}
	if it.Extra.TradeLock > 0 {
		attrs["trade_lock"] = strconv.Itoa(it.Extra.TradeLock)
	}
	if strings.Contains(it.Title, "StatTrak™") {
		attrs["stattrak"] = "true"
	}
	return domain.Listing{
		ItemID:     it.ItemID,
		Title:      it.Title,
		Price:      price,
		Game:       game,
		Attributes: attrs,
	}, nil
}
