package market

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"polyweather/pkg/types"
)

func newTestFeed(t *testing.T) (*Feed, *Registry, chan types.WSBookEvent, chan types.WSPriceChangeEvent) {
	t.Helper()

	reg := NewRegistry()
	reg.Upsert(mkMarket("0xc1", time.Date(2026, 1, 15, 4, 59, 59, 0, time.UTC)))

	books := make(chan types.WSBookEvent, 4)
	changes := make(chan types.WSPriceChangeEvent, 4)
	f := NewFeed(books, changes, reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.now = func() time.Time { return time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC) }
	return f, reg, books, changes
}

func TestFeedAppliesBookSnapshot(t *testing.T) {
	t.Parallel()

	f, reg, _, _ := newTestFeed(t)
	tok := reg.ActiveTokenIDs()[0]

	f.applyBook(types.WSBookEvent{
		AssetID: tok,
		Bids:    []types.PriceLevel{{Price: "0.40", Size: "100"}},
		Asks:    []types.PriceLevel{{Price: "0.44", Size: "50"}},
	})

	price, at, ok := reg.Price(tok)
	if !ok || price != 0.42 {
		t.Errorf("price = %v/%v, want 0.42", price, ok)
	}
	if at.IsZero() {
		t.Error("update timestamp not recorded")
	}
}

func TestFeedOneSidedBookUsesSurvivingSide(t *testing.T) {
	t.Parallel()

	f, reg, _, _ := newTestFeed(t)
	tok := reg.ActiveTokenIDs()[0]

	f.applyBook(types.WSBookEvent{
		AssetID: tok,
		Bids:    []types.PriceLevel{{Price: "0.38", Size: "10"}},
	})

	if price, _, _ := reg.Price(tok); price != 0.38 {
		t.Errorf("price = %v, want 0.38", price)
	}
}

func TestFeedAppliesPriceChange(t *testing.T) {
	t.Parallel()

	f, reg, _, _ := newTestFeed(t)
	tok := reg.ActiveTokenIDs()[0]

	f.applyPriceChange(types.WSPriceChangeEvent{
		PriceChanges: []types.WSPriceChange{
			{AssetID: tok, BestBid: "0.50", BestAsk: "0.52"},
			{AssetID: "untracked-token", BestBid: "0.90", BestAsk: "0.92"},
		},
	})

	if price, _, _ := reg.Price(tok); price != 0.51 {
		t.Errorf("price = %v, want 0.51", price)
	}
	if _, _, ok := reg.Price("untracked-token"); ok {
		t.Error("untracked token must not enter the cache")
	}
}

func TestFeedIgnoresUntrackedBook(t *testing.T) {
	t.Parallel()

	f, reg, _, _ := newTestFeed(t)

	f.applyBook(types.WSBookEvent{
		AssetID: "someone-elses-token",
		Bids:    []types.PriceLevel{{Price: "0.40", Size: "1"}},
		Asks:    []types.PriceLevel{{Price: "0.42", Size: "1"}},
	})

	if _, _, ok := reg.Price("someone-elses-token"); ok {
		t.Error("untracked token must not enter the cache")
	}
}

func TestFeedEmptyBookIsNoop(t *testing.T) {
	t.Parallel()

	f, reg, _, _ := newTestFeed(t)
	tok := reg.ActiveTokenIDs()[0]

	f.applyBook(types.WSBookEvent{AssetID: tok})

	if _, _, ok := reg.Price(tok); ok {
		t.Error("empty snapshot must not record a price")
	}
}
