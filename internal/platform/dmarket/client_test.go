package dmarket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinbot/internal/crypto"
	"github.com/alanyoungcy/skinbot/internal/domain"
)

func TestFetchListings(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, marketItemsPath, r.URL.Path)
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{
			"objects": [
				{"itemId": "i1", "title": "AK-47 | Redline (Field-Tested)", "price": {"USD": "100"},
				 "suggestedPrice": {"USD": "150"}, "extra": {"exterior": "field-tested", "rarity": "classified"}},
				{"itemId": "i2", "title": "AK-47 | Redline (Field-Tested)", "price": {"USD": "120"}}
			],
			"total": {"items": 42},
			"cursor": "next-1"
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, 0)
	page, err := c.FetchListings(context.Background(), domain.GameCS2, url.Values{"priceFrom": {"50"}}, "abc", 2)

	require.NoError(t, err)
	assert.Equal(t, "a8db", gotQuery.Get("gameId"))
	assert.Equal(t, "abc", gotQuery.Get("cursor"))
	assert.Equal(t, "50", gotQuery.Get("priceFrom"))
	assert.Equal(t, "2", gotQuery.Get("limit"))
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(100), page.Items[0].Price)
	assert.Equal(t, "field-tested", page.Items[0].Attr("exterior"))
	assert.Equal(t, "150", page.Items[0].Attr("suggested_price"))
	assert.Equal(t, domain.GameCS2, page.Items[1].Game)
	require.NotNil(t, page.Total)
	assert.Equal(t, int64(42), *page.Total)
	assert.Equal(t, "next-1", page.Cursor)
}

func TestFetchListings_Paging(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		limit      int
		wantLimit  string
		wantCursor string
	}{
		{
			name:       "short page keeps the cursor",
			body:       `{"objects":[{"itemId":"i1","title":"x","price":{"USD":"5"}}],"cursor":"more"}`,
			limit:      100,
			wantLimit:  "100",
			wantCursor: "more",
		},
		{
			name:      "empty page ends the walk",
			body:      `{"objects":[],"cursor":"stale"}`,
			limit:     100,
			wantLimit: "100",
		},
		{
			name:      "missing cursor ends the walk",
			body:      `{"objects":[{"itemId":"i1","title":"x","price":{"USD":"5"}}]}`,
			limit:     50,
			wantLimit: "50",
		},
		{
			name:       "limit above the cap is clamped",
			body:       fullPage(MaxLimit, "next"),
			limit:      200,
			wantLimit:  "100",
			wantCursor: "next",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotLimit string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotLimit = r.URL.Query().Get("limit")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			page, err := NewClient(srv.URL, nil, 0).FetchListings(context.Background(), domain.GameRust, nil, "", tt.limit)

			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, gotLimit)
			assert.Equal(t, tt.wantCursor, page.Cursor)
			assert.Equal(t, tt.wantCursor == "", page.Exhausted())
		})
	}
}

func fullPage(n int, cursor string) string {
	objs := make([]string, n)
	for i := range objs {
		objs[i] = fmt.Sprintf(`{"itemId":"i%d","title":"x","price":{"USD":"5"}}`, i)
	}
	return fmt.Sprintf(`{"objects":[%s],"total":{"items":5000},"cursor":%q}`, strings.Join(objs, ","), cursor)
}

func TestFetchListings_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"too many requests"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil, 0).FetchListings(context.Background(), domain.GameCS2, nil, "", 10)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, int64(3), int64(apiErr.RetryAfter.Seconds()))
}

func TestFetchListings_UnknownGame(t *testing.T) {
	_, err := NewClient("http://unused", nil, 0).FetchListings(context.Background(), "minecraft", nil, "", 10)
	require.ErrorIs(t, err, domain.ErrUnknownGame)
}

func TestFetchListings_SignsRequests(t *testing.T) {
	key, err := crypto.ParseSecretKey("9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60")
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pub", r.Header.Get(crypto.HeaderAPIKey))
		assert.NotEmpty(t, r.Header.Get(crypto.HeaderSignDate))
		assert.Contains(t, r.Header.Get(crypto.HeaderSignature), "dmar ed25519 ")
		_, _ = w.Write([]byte(`{"objects":[]}`))
	}))
	defer srv.Close()

	_, err = NewClient(srv.URL, crypto.NewRequestSigner("pub", key), 0).
		FetchListings(context.Background(), domain.GameTF2, nil, "", 10)
	require.NoError(t, err)
}

func TestFetchReferencePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("Titles") {
		case "with order":
			_, _ = w.Write([]byte(`{"aggregatedPrices":[{"title":"with order","orderBestPrice":"140","offerBestPrice":"150"}]}`))
		case "offers only":
			_, _ = w.Write([]byte(`{"aggregatedPrices":[{"title":"offers only","orderBestPrice":"","offerBestPrice":"150"}]}`))
		default:
			_, _ = w.Write([]byte(`{"aggregatedPrices":[]}`))
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, nil, 0)
	ctx := context.Background()

	p, err := c.FetchReferencePrice(ctx, domain.GameCS2, "with order")
	require.NoError(t, err)
	assert.Equal(t, int64(140), p)

	p, err = c.FetchReferencePrice(ctx, domain.GameCS2, "offers only")
	require.NoError(t, err)
	assert.Equal(t, int64(150), p)

	_, err = c.FetchReferencePrice(ctx, domain.GameCS2, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
