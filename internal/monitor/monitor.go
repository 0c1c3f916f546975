// Package monitor implements the signal generator: the loop that turns
// forecasts and market prices into sized trade signals for the executor.
//
// One cycle runs discovery when due, refreshes bin prices for every
// upcoming market, prices each ladder against the forecast ensemble, and
// enqueues a BUY signal for every bin whose friction-adjusted edge clears
// the threshold and passes the risk pre-check. Overpriced and impossible
// bins are left to the position manager's exit logic.
package monitor

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"polyweather/internal/market"
	"polyweather/internal/prob"
	"polyweather/internal/risk"
	"polyweather/pkg/stations"
	"polyweather/pkg/types"
)

const (
	// Kelly sizing parameters for generated signals. The bankroll base is
	// notional; per-order caps come from the risk config.
	kellyBankrollUSD = 100.0
	kellyMaxFraction = 0.1

	sleepJitter = 0.10
)

// ForecastSource supplies ensemble forecasts and day-of observations.
// Satisfied by *forecast.Service.
type ForecastSource interface {
	GetEnsembleForecast(ctx context.Context, station types.Station, date string) (*types.Forecast, error)
	GetDailyMaxSoFar(ctx context.Context, station types.Station) (*float64, error)
}

// Config is the subset of runtime configuration the monitor needs.
type Config struct {
	EdgeThreshold     float64
	MaxLeadDays       int
	DiscoveryInterval time.Duration
	ForecastRefresh   time.Duration
	MaxOrderSizeUSD   float64
}

// Monitor generates trade signals from forecasts and market prices.
type Monitor struct {
	cfg       Config
	discovery *market.Discovery
	registry  *market.Registry
	forecasts ForecastSource
	engine    *prob.Engine
	risk      *risk.Manager
	stations  *stations.Registry
	queue     *Queue
	logger    *slog.Logger

	lastDiscovery time.Time
	now           func() time.Time
}

func New(cfg Config, discovery *market.Discovery, registry *market.Registry, forecasts ForecastSource, engine *prob.Engine, riskMgr *risk.Manager, reg *stations.Registry, queue *Queue, logger *slog.Logger) *Monitor {
	return &Monitor{
		cfg:       cfg,
		discovery: discovery,
		registry:  registry,
		forecasts: forecasts,
		engine:    engine,
		risk:      riskMgr,
		stations:  reg,
		queue:     queue,
		logger:    logger.With("component", "monitor"),
		now:       time.Now,
	}
}

// Queue returns the signal queue the executor consumes.
func (m *Monitor) Queue() *Queue { return m.queue }

// Run executes monitor cycles until ctx is cancelled. Cycle errors are
// logged and the loop continues.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		if err := m.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Error("monitor cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(m.cfg.ForecastRefresh, sleepJitter)):
		}
	}
}

// Cycle runs one monitor iteration.
func (m *Monitor) Cycle(ctx context.Context) error {
	now := m.now()

	if now.Sub(m.lastDiscovery) > m.cfg.DiscoveryInterval {
		if err := m.discovery.Discover(ctx); err != nil {
			m.logger.Error("discovery failed", "error", err)
		} else {
			m.lastDiscovery = now
		}
	}

	upcoming := m.registry.GetUpcoming(now, m.cfg.MaxLeadDays)
	if len(upcoming) == 0 {
		return nil
	}

	prices, err := m.discovery.RefreshPrices(ctx, upcoming)
	if err != nil {
		return err
	}
	m.risk.MarkDataFresh()

	generated := 0
	for _, mkt := range upcoming {
		generated += m.evaluateMarket(ctx, mkt, prices[mkt.ConditionID])
	}

	if generated > 0 {
		m.logger.Info("monitor cycle complete",
			"markets", len(upcoming),
			"signals", generated,
			"queued", m.queue.Len(),
		)
	}
	return nil
}

// evaluateMarket prices one ladder and enqueues signals for bins with
// edge. Returns how many signals were enqueued.
func (m *Monitor) evaluateMarket(ctx context.Context, mkt *types.Market, binPrices map[string]float64) int {
	if len(binPrices) == 0 {
		return 0
	}

	station, err := m.stations.ByCode(mkt.StationCode)
	if err != nil {
		m.logger.Debug("skipping market with unknown station",
			"slug", mkt.Slug, "station", mkt.StationCode)
		return 0
	}

	fc, err := m.forecasts.GetEnsembleForecast(ctx, station, mkt.TargetDate)
	if err != nil || fc == nil {
		m.logger.Debug("no forecast", "slug", mkt.Slug, "date", mkt.TargetDate, "error", err)
		return 0
	}

	var maxSoFar *float64
	if mkt.LeadDays(m.now()) <= 0 && mkt.Metric == types.MetricDailyMaxTemp {
		maxSoFar, err = m.forecasts.GetDailyMaxSoFar(ctx, station)
		if err != nil {
			m.logger.Warn("day-of observation fetch failed", "station", station.Code, "error", err)
		}
	}

	probs := m.engine.BinProbabilities(*fc, mkt.Bins, mkt.Metric, maxSoFar)

	generated := 0
	for i, bp := range probs {
		bin := mkt.Bins[i]
		price, ok := binPrices[bin.TokenID]
		if !ok || price <= 0 || price >= 1 {
			continue
		}

		action, adjEdge := prob.Classify(bp.Fair, price, m.cfg.EdgeThreshold, bp.IsPossible)
		if action != prob.ActionBuy {
			continue
		}

		sizeUSD := prob.Kelly(bp.Fair, price, kellyMaxFraction) * kellyBankrollUSD
		if sizeUSD > m.cfg.MaxOrderSizeUSD {
			sizeUSD = m.cfg.MaxOrderSizeUSD
		}

		verdict := m.risk.CanTrade(mkt, sizeUSD)
		if !verdict.Allowed {
			m.logger.Debug("signal blocked by risk",
				"slug", mkt.Slug, "bin", bin.Label, "reason", verdict.Reason)
			continue
		}

		sig := types.TradeSignal{
			ConditionID: mkt.ConditionID,
			TokenID:     bin.TokenID,
			Slug:        mkt.Slug,
			BinLabel:    bin.Label,
			Side:        types.BUY,
			Fair:        bp.Fair,
			Price:       price,
			Edge:        adjEdge,
			SizeUSD:     sizeUSD,
			Reason:      "edge above threshold",
			Forecast:    *fc,
			MaxSoFar:    maxSoFar,
			GeneratedAt: m.now(),
		}
		if m.queue.Enqueue(sig) {
			generated++
			m.logger.Info("signal generated",
				"slug", mkt.Slug,
				"bin", bin.Label,
				"fair", bp.Fair,
				"price", price,
				"edge", adjEdge,
				"size_usd", sizeUSD,
			)
		}
	}
	return generated
}

// jitter returns d scaled by a uniform factor in [1-frac, 1+frac].
func jitter(d time.Duration, frac float64) time.Duration {
	f := 1 + frac*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}
