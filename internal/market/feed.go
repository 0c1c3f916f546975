package market

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"polyweather/pkg/types"
)

// Feed drains market-channel WebSocket events into the registry's price
// cache so the monitor sees fresher prices than the batch refresh alone
// provides. Book snapshots contribute a midpoint where both sides exist,
// price_change deltas contribute their embedded best bid/ask.
type Feed struct {
	books    <-chan types.WSBookEvent
	changes  <-chan types.WSPriceChangeEvent
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewFeed wires WebSocket event channels to the registry.
func NewFeed(books <-chan types.WSBookEvent, changes <-chan types.WSPriceChangeEvent, registry *Registry, logger *slog.Logger) *Feed {
	return &Feed{
		books:    books,
		changes:  changes,
		registry: registry,
		logger:   logger.With("component", "price_feed"),
		now:      time.Now,
	}
}

// Run consumes events until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-f.books:
			f.applyBook(evt)
		case evt := <-f.changes:
			f.applyPriceChange(evt)
		}
	}
}

func (f *Feed) applyBook(evt types.WSBookEvent) {
	price, ok := bookMid(evt)
	if !ok {
		return
	}
	if _, tracked := f.registry.ByToken(evt.AssetID); !tracked {
		return
	}
	f.registry.SetPrice(evt.AssetID, price, f.now())
}

func (f *Feed) applyPriceChange(evt types.WSPriceChangeEvent) {
	at := f.now()
	for _, pc := range evt.PriceChanges {
		if _, tracked := f.registry.ByToken(pc.AssetID); !tracked {
			continue
		}
		price, ok := changeMid(pc)
		if !ok {
			continue
		}
		f.registry.SetPrice(pc.AssetID, price, at)
	}
}

// bookMid derives a price from a full snapshot: midpoint when both sides
// exist, the surviving side otherwise.
func bookMid(evt types.WSBookEvent) (float64, bool) {
	var bid, ask float64
	if len(evt.Bids) > 0 {
		bid = parseLevel(evt.Bids[0].Price)
	}
	if len(evt.Asks) > 0 {
		ask = parseLevel(evt.Asks[0].Price)
	}
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2, true
	case bid > 0:
		return bid, true
	case ask > 0:
		return ask, true
	}
	return 0, false
}

func changeMid(pc types.WSPriceChange) (float64, bool) {
	bid := parseLevel(pc.BestBid)
	ask := parseLevel(pc.BestAsk)
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2, true
	case bid > 0:
		return bid, true
	case ask > 0:
		return ask, true
	}
	return 0, false
}

func parseLevel(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
