package exchange

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"polyweather/internal/config"
	"polyweather/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, srv *httptest.Server, dryRun bool) *Client {
	t.Helper()
	cfg := &config.Config{DryRun: dryRun}
	cfg.API.CLOBBaseURL = srv.URL
	cfg.API.GammaBaseURL = srv.URL
	cfg.API.DataBaseURL = srv.URL
	return NewClient(cfg, nil, testLogger())
}

func TestPlaceLimitDryRun(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("dry-run must not hit the venue")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, true)
	res, err := c.PlaceLimit(context.Background(), "tok1", types.BUY, 0.45, 20, types.OrderTypeGTC)
	if err != nil {
		t.Fatalf("PlaceLimit: %v", err)
	}
	if !res.Success || res.OrderID == "" {
		t.Errorf("dry-run result = %+v", res)
	}
}

func TestOrderBook(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" || r.URL.Query().Get("token_id") != "tok1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.OrderBook{
			AssetID: "tok1",
			Bids:    []types.PriceLevel{{Price: "0.44", Size: "150"}},
			Asks:    []types.PriceLevel{{Price: "0.46", Size: "80"}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, true)
	book, err := c.OrderBook(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("OrderBook: %v", err)
	}
	price, size, ok := book.BestBid()
	if !ok || price != 0.44 || size != 150 {
		t.Errorf("BestBid = %v/%v/%v", price, size, ok)
	}
}

func TestPricesBatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prices" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]map[string]string{
			"tok1": {"BUY": "0.42"},
			"tok2": {"BUY": "0.11"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, true)
	prices, err := c.Prices(context.Background(), []string{"tok1", "tok2"})
	if err != nil {
		t.Fatalf("Prices: %v", err)
	}
	if prices["tok1"] != 0.42 || prices["tok2"] != 0.11 {
		t.Errorf("prices = %v", prices)
	}
}

func TestListWeatherEventsPagination(t *testing.T) {
	t.Parallel()

	// First page full (returns catalogPageSize events), second short.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			http.NotFound(w, r)
			return
		}
		offset := r.URL.Query().Get("offset")
		var page []types.CatalogEvent
		n := 1
		if offset == "0" {
			n = catalogPageSize
		}
		for i := 0; i < n; i++ {
			page = append(page, types.CatalogEvent{Slug: offset + "-" + string(rune('a'+i%26))})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, true)
	events, err := c.ListWeatherEvents(context.Background())
	if err != nil {
		t.Fatalf("ListWeatherEvents: %v", err)
	}
	if len(events) != catalogPageSize+1 {
		t.Errorf("events = %d, want %d", len(events), catalogPageSize+1)
	}
}

func TestPricesEmptyInput(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("empty input must not hit the venue")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, true)
	prices, err := c.Prices(context.Background(), nil)
	if err != nil {
		t.Fatalf("Prices: %v", err)
	}
	if len(prices) != 0 {
		t.Errorf("prices = %v, want empty", prices)
	}
}
