// Package dmarket is the REST client for the skin marketplace API.
package dmarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/skinbot/internal/crypto"
	"github.com/alanyoungcy/skinbot/internal/domain"
)

// Endpoint names used as rate limiter keys.
const (
	EndpointMarketItems      = "market_items"
	EndpointAggregatedPrices = "aggregated_prices"
)

const (
	marketItemsPath      = "/exchange/v1/market/items"
	aggregatedPricesPath = "/price-aggregator/v1/aggregated-prices"
	maxErrorBody         = 1 << 10
)

// MaxLimit is the most offers the market items endpoint returns per request.
const MaxLimit = 100

// APIError is a non-2xx response from the marketplace.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dmarket: http %d: %s", e.StatusCode, e.Body)
}

// Client talks to the marketplace API. A nil signer sends unsigned requests,
// which the public catalog endpoints accept.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.RequestSigner
}

// NewClient creates a client.
//
// baseURL is the API root, e.g. "https://api.dmarket.com".
func NewClient(baseURL string, signer *crypto.RequestSigner, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
	}
}

// FetchListings returns one page of offers for game. An empty cursor
// requests the first page; an empty Page.Cursor means no more pages. limit
// is clamped to MaxLimit.
func (c *Client) FetchListings(ctx context.Context, game domain.Game, query url.Values, cursor string, limit int) (domain.Page, error) {
	gameID, err := GameID(game)
	if err != nil {
		return domain.Page{}, err
	}
	params := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	params.Set("gameId", gameID)
	params.Set("currency", "USD")
	params.Set("limit", strconv.Itoa(min(max(limit, 1), MaxLimit)))
	if params.Get("orderBy") == "" {
		params.Set("orderBy", "price")
		params.Set("orderDir", "asc")
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	body, err := c.do(ctx, http.MethodGet, marketItemsPath+"?"+params.Encode(), nil)
	if err != nil {
		return domain.Page{}, fmt.Errorf("dmarket: fetch listings: %w", err)
	}

	var resp apiItemsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Page{}, fmt.Errorf("dmarket: decode listings: %w", err)
	}

	page := domain.Page{Items: make([]domain.Listing, 0, len(resp.Objects))}
	for _, obj := range resp.Objects {
		l, err := obj.ToListing(game)
		if err != nil {
			return domain.Page{}, fmt.Errorf("dmarket: item %s: %w", obj.ItemID, err)
		}
		page.Items = append(page.Items, l)
	}
	if resp.Total.Items > 0 {
		total := resp.Total.Items
		page.Total = &total
	}
	// The API may hand out a cursor past the last offer; an empty page ends
	// the walk.
	if len(resp.Objects) > 0 {
		page.Cursor = resp.Cursor
	}
	return page, nil
}

// FetchReferencePrice returns the aggregated sell-side reference price for
// title: the best buy order when one exists, otherwise the best offer.
func (c *Client) FetchReferencePrice(ctx context.Context, game domain.Game, title string) (int64, error) {
	gameID, err := GameID(game)
	if err != nil {
		return 0, err
	}
	params := url.Values{}
	params.Set("Titles", title)
	params.Set("gameId", gameID)
	params.Set("Limit", "1")

	body, err := c.do(ctx, http.MethodGet, aggregatedPricesPath+"?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("dmarket: fetch reference price: %w", err)
	}

	var resp apiAggregatedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("dmarket: decode aggregated prices: %w", err)
	}
	for _, p := range resp.AggregatedPrices {
		if p.Title != title {
			continue
		}
		order, err := parseCents(p.OrderBestPrice)
		if err != nil {
			return 0, err
		}
		if order > 0 {
			return order, nil
		}
		offer, err := parseCents(p.OfferBestPrice)
		if err != nil {
			return 0, err
		}
		if offer > 0 {
			return offer, nil
		}
	}
	return 0, fmt.Errorf("dmarket: reference price %q: %w", title, domain.ErrNotFound)
}

func (c *Client) do(ctx context.Context, method, pathQuery string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathQuery, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		for k, v := range c.signer.Headers(method, pathQuery, string(payload)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				apiErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, apiErr
	}
	return data, nil
}
