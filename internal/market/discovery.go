package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"polyweather/pkg/types"
)

// Catalog is the venue surface discovery needs: the weather-tagged event
// list and batch token prices.
type Catalog interface {
	ListWeatherEvents(ctx context.Context) ([]types.CatalogEvent, error)
	Prices(ctx context.Context, tokenIDs []string) (map[string]float64, error)
}

// Discovery fetches the venue catalog and keeps the registry current. The
// monitor loop decides when a pass is due.
type Discovery struct {
	catalog       Catalog
	parser        *Parser
	registry      *Registry
	minConfidence float64
	logger        *slog.Logger
	now           func() time.Time
}

func NewDiscovery(catalog Catalog, parser *Parser, registry *Registry, minConfidence float64, logger *slog.Logger) *Discovery {
	return &Discovery{
		catalog:       catalog,
		parser:        parser,
		registry:      registry,
		minConfidence: minConfidence,
		logger:        logger.With("component", "discovery"),
		now:           time.Now,
	}
}

// SetNow overrides the clock used to expire markets; tests use it to pin
// the discovery pass to a fixed time.
func (d *Discovery) SetNow(now func() time.Time) {
	d.now = now
}

// Discover fetches the catalog, parses each event, upserts admitted markets
// and expires stale ones. Idempotent: identical source data leaves the
// registry unchanged. Per-event parse failures are skipped, never fatal.
func (d *Discovery) Discover(ctx context.Context) error {
	events, err := d.catalog.ListWeatherEvents(ctx)
	if err != nil {
		return fmt.Errorf("list weather events: %w", err)
	}

	admitted, rejected := 0, 0
	for _, ev := range events {
		m, err := d.parser.Parse(ev)
		if err != nil {
			d.logger.Warn("parse event", "slug", ev.Slug, "error", err)
			rejected++
			continue
		}
		if m == nil || len(m.Bins) == 0 || m.Confidence < d.minConfidence {
			rejected++
			continue
		}
		d.registry.Upsert(m)
		admitted++
	}

	expired := d.registry.MarkExpired(d.now())

	d.logger.Info("discovery pass complete",
		"events", len(events),
		"admitted", admitted,
		"rejected", rejected,
		"expired", expired,
		"tracked", d.registry.Len(),
	)
	return nil
}

// RefreshPrices batch-fetches current prices for every bin of the given
// markets and stores them in the registry. Returns conditionId → tokenId →
// price for the markets that had at least one quote.
func (d *Discovery) RefreshPrices(ctx context.Context, markets []*types.Market) (map[string]map[string]float64, error) {
	var tokens []string
	for _, m := range markets {
		for _, b := range m.Bins {
			tokens = append(tokens, b.TokenID)
		}
	}
	if len(tokens) == 0 {
		return map[string]map[string]float64{}, nil
	}

	prices, err := d.catalog.Prices(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}

	at := d.now()
	out := make(map[string]map[string]float64, len(markets))
	for _, m := range markets {
		for _, b := range m.Bins {
			p, ok := prices[b.TokenID]
			if !ok {
				continue
			}
			d.registry.SetPrice(b.TokenID, p, at)
			if out[m.ConditionID] == nil {
				out[m.ConditionID] = make(map[string]float64, len(m.Bins))
			}
			out[m.ConditionID][b.TokenID] = p
		}
	}
	return out, nil
}
