// Package executor consumes trade signals and turns them into venue orders.
//
// Signals are processed in FIFO order. Each one is re-checked against the
// risk manager (exposure may have moved since generation), priced inside
// the fair value so resting orders capture part of the edge, and either
// submitted as a good-till-cancelled limit order or, in dry-run mode,
// recorded as a paper fill with a pessimistic spread adjustment. Signals
// older than five minutes are dropped unexecuted.
package executor

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"polyweather/internal/market"
	"polyweather/internal/monitor"
	"polyweather/internal/notify"
	"polyweather/internal/risk"
	"polyweather/pkg/types"
)

const (
	staleSignalAge = 5 * time.Minute
	pollJitter     = 0.20

	// priceImprove shades the order inside fair value, and doubles as the
	// pessimistic fill adjustment for paper trades.
	priceImprove = 0.01

	minPrice = 0.01
	maxPrice = 0.99
)

// Venue places orders. Satisfied by *exchange.Client.
type Venue interface {
	PlaceLimit(ctx context.Context, tokenID string, side types.Side, price, size float64, orderType types.OrderType) (*types.OrderResult, error)
}

// Notifier publishes agent events. Satisfied by *notify.Notifier.
type Notifier interface {
	Event(ctx context.Context, kind notify.Kind, payload map[string]any)
}

// Config controls the consumer loop.
type Config struct {
	PollInterval time.Duration
	DryRun       bool
}

// Executor drains the signal queue into orders.
type Executor struct {
	cfg      Config
	queue    *monitor.Queue
	registry *market.Registry
	risk     *risk.Manager
	venue    Venue
	paper    *PaperLedger // nil in live mode
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func New(cfg Config, queue *monitor.Queue, registry *market.Registry, riskMgr *risk.Manager, venue Venue, paper *PaperLedger, notifier Notifier, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		queue:    queue,
		registry: registry,
		risk:     riskMgr,
		venue:    venue,
		paper:    paper,
		notifier: notifier,
		logger:   logger.With("component", "executor"),
		now:      time.Now,
	}
}

// Run processes pending signals until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	for {
		e.Process(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(e.cfg.PollInterval, pollJitter)):
		}
	}
}

// Process handles every currently pending signal once.
func (e *Executor) Process(ctx context.Context) {
	if h := e.risk.IsHealthy(); !h.Healthy {
		e.logger.Debug("skipping execution", "paused", h.Paused, "reason", h.PauseReason)
		return
	}

	for _, sig := range e.queue.Pending() {
		if ctx.Err() != nil {
			return
		}
		e.execute(ctx, sig)
	}
}

func (e *Executor) execute(ctx context.Context, sig types.TradeSignal) {
	if e.now().Sub(sig.GeneratedAt) > staleSignalAge {
		e.logger.Info("dropping stale signal", "slug", sig.Slug, "bin", sig.BinLabel,
			"age", e.now().Sub(sig.GeneratedAt).Round(time.Second))
		e.queue.Remove(sig.Key())
		return
	}

	mkt, ok := e.registry.Get(sig.ConditionID)
	if !ok || mkt.Status != types.StatusActive {
		e.queue.Remove(sig.Key())
		return
	}

	// Exposure may have moved since the monitor's pre-check. Rejected
	// signals are dropped, not retried; the monitor regenerates them next
	// cycle if the edge persists.
	if v := e.risk.CanTrade(mkt, sig.SizeUSD); !v.Allowed {
		e.logger.Info("signal blocked at execution", "slug", sig.Slug, "bin", sig.BinLabel, "reason", v.Reason)
		e.queue.Remove(sig.Key())
		e.notifier.Event(ctx, notify.KindError, map[string]any{
			"event":  "risk_rejected",
			"slug":   sig.Slug,
			"bin":    sig.BinLabel,
			"reason": v.Reason,
		})
		return
	}

	price := e.orderPrice(sig)
	size := tokenAmount(sig.SizeUSD, price)
	if size <= 0 {
		e.queue.Remove(sig.Key())
		return
	}

	if e.cfg.DryRun {
		e.paperFill(ctx, sig, mkt, price, size)
		return
	}

	res, err := e.venue.PlaceLimit(ctx, sig.TokenID, sig.Side, price, size, types.OrderTypeGTC)
	if err != nil || !res.Success {
		e.logger.Error("order failed", "slug", sig.Slug, "bin", sig.BinLabel,
			"price", price, "size", size, "error", err)
		e.queue.Remove(sig.Key())
		e.notifier.Event(ctx, notify.KindError, map[string]any{
			"event": "order_rejected",
			"slug":  sig.Slug,
			"bin":   sig.BinLabel,
		})
		return
	}

	e.risk.RecordTrade(mkt, sig.SizeUSD, sig.Side)
	e.queue.Remove(sig.Key())
	e.logger.Info("order placed",
		"order_id", res.OrderID,
		"slug", sig.Slug,
		"bin", sig.BinLabel,
		"side", sig.Side,
		"price", price,
		"size", size,
	)
	e.notifier.Event(ctx, notify.KindTrade, map[string]any{
		"slug":     sig.Slug,
		"bin":      sig.BinLabel,
		"side":     string(sig.Side),
		"price":    price,
		"size_usd": sig.SizeUSD,
		"fair":     sig.Fair,
		"edge":     sig.Edge,
		"order_id": res.OrderID,
	})
}

func (e *Executor) paperFill(ctx context.Context, sig types.TradeSignal, mkt *types.Market, price, size float64) {
	fill := price + priceImprove
	if sig.Side == types.SELL {
		fill = price - priceImprove
	}
	fill = clampPrice(fill)

	err := e.paper.Record(PaperFill{
		Time:        e.now(),
		ConditionID: sig.ConditionID,
		TokenID:     sig.TokenID,
		Slug:        sig.Slug,
		BinLabel:    sig.BinLabel,
		Side:        sig.Side,
		Price:       fill,
		Size:        size,
		CostUSD:     roundUSD(fill * size),
		Fair:        sig.Fair,
	})
	if err != nil {
		e.logger.Error("paper ledger save failed", "error", err)
	}

	e.risk.RecordTrade(mkt, sig.SizeUSD, sig.Side)
	e.queue.Remove(sig.Key())
	e.logger.Info("paper fill recorded",
		"slug", sig.Slug, "bin", sig.BinLabel, "side", sig.Side,
		"price", fill, "size", size)
	e.notifier.Event(ctx, notify.KindTrade, map[string]any{
		"paper":    true,
		"slug":     sig.Slug,
		"bin":      sig.BinLabel,
		"side":     string(sig.Side),
		"price":    fill,
		"size_usd": sig.SizeUSD,
		"fair":     sig.Fair,
	})
}

// orderPrice shades the limit inside fair value: a BUY never pays more
// than the market or more than a cent under fair, mirrored for SELL.
func (e *Executor) orderPrice(sig types.TradeSignal) float64 {
	mktPrice := sig.Price
	if p, _, ok := e.registry.Price(sig.TokenID); ok {
		mktPrice = p
	}

	var p float64
	if sig.Side == types.BUY {
		p = sig.Fair - priceImprove
		if mktPrice < p {
			p = mktPrice
		}
	} else {
		p = sig.Fair + priceImprove
		if mktPrice > p {
			p = mktPrice
		}
	}
	return clampPrice(roundTick(p))
}

// roundTick rounds to the venue's cent tick.
func roundTick(p float64) float64 {
	f, _ := decimal.NewFromFloat(p).Round(2).Float64()
	return f
}

func roundUSD(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(4).Float64()
	return f
}

// tokenAmount converts a USD size into tokens at the order price, rounded
// down to the venue's two-decimal size granularity.
func tokenAmount(sizeUSD, price float64) float64 {
	if price <= 0 {
		return 0
	}
	f, _ := decimal.NewFromFloat(sizeUSD / price).RoundDown(2).Float64()
	return f
}

func clampPrice(p float64) float64 {
	if p < minPrice {
		return minPrice
	}
	if p > maxPrice {
		return maxPrice
	}
	return p
}

func jitter(d time.Duration, frac float64) time.Duration {
	f := 1 + frac*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}
