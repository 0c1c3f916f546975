// Package risk enforces portfolio-level risk limits for the weather agent.
//
// The manager keeps an in-memory exposure book aggregated three ways:
//
//   - Per market:  caps USD exposure in any single ladder
//   - Per region:  caps correlated exposure (one storm system moves every
//     northeast market together)
//   - Per date:    caps exposure resolving on the same civil day
//
// A realized daily-loss kill switch pauses all trading for the rest of the
// civil day; the pause lifts automatically at the next day rollover. Data
// freshness is tracked so trades stop when forecasts go stale. When a limit
// pauses trading, the manager emits a KillSignal on KillCh() so the engine
// can notify and cancel resting orders.
package risk

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"polyweather/internal/config"
	"polyweather/pkg/types"
)

const dailyLossPauseReason = "Daily loss limit reached"

// Verdict is the answer to a canTrade question.
type Verdict struct {
	Allowed bool
	Reason  string
}

// KillSignal tells the engine trading has been paused.
type KillSignal struct {
	Reason string
}

// Health summarizes the book for logging and notifications.
type Health struct {
	Healthy        bool
	Paused         bool
	PauseReason    string
	RealizedPnL    float64
	TotalExposure  float64
	DataStale      bool // forecast data older than the max data age
	ApproachingMax bool // |pnl| past 80% of the daily limit
}

// Manager owns the exposure book. All methods are safe for concurrent use.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu             sync.Mutex
	perMarket      map[string]float64 // conditionId → USD
	perRegion      map[string]float64 // region → USD
	perDate        map[string]float64 // targetDate → USD
	marketMeta     map[string]marketKeys
	realizedPnL    float64
	lastPnLReset   time.Time
	lastDataUpdate time.Time
	paused         bool
	pauseReason    string

	killCh chan KillSignal
	now    func() time.Time
}

type marketKeys struct {
	region string
	date   string
}

func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	now := time.Now()
	return &Manager{
		cfg:            cfg,
		logger:         logger.With("component", "risk"),
		perMarket:      make(map[string]float64),
		perRegion:      make(map[string]float64),
		perDate:        make(map[string]float64),
		marketMeta:     make(map[string]marketKeys),
		lastPnLReset:   now,
		lastDataUpdate: now,
		killCh:         make(chan KillSignal, 4),
		now:            time.Now,
	}
}

// KillCh returns the channel kill signals are delivered on.
func (m *Manager) KillCh() <-chan KillSignal { return m.killCh }

// MarkDataFresh records that forecast data was successfully refreshed.
func (m *Manager) MarkDataFresh() {
	m.mu.Lock()
	m.lastDataUpdate = m.now()
	m.mu.Unlock()
}

// CanTrade checks whether a trade of sizeUSD in the market is allowed.
// Checks run in a fixed order and the first failure wins.
func (m *Manager) CanTrade(market *types.Market, sizeUSD float64) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()

	if m.paused {
		return Verdict{Reason: fmt.Sprintf("trading paused: %s", m.pauseReason)}
	}
	if age := m.now().Sub(m.lastDataUpdate); age > m.cfg.MaxDataAge {
		return Verdict{Reason: fmt.Sprintf("forecast data stale (%s old)", age.Round(time.Minute))}
	}
	if cur := m.perMarket[market.ConditionID]; cur+sizeUSD > m.cfg.MaxPerMarketUSD {
		return Verdict{Reason: fmt.Sprintf("market exposure cap: %.2f + %.2f > %.2f USD", cur, sizeUSD, m.cfg.MaxPerMarketUSD)}
	}
	if cur := m.perRegion[market.Region]; cur+sizeUSD > m.cfg.MaxPerRegionUSD {
		return Verdict{Reason: fmt.Sprintf("region %s exposure cap: %.2f + %.2f > %.2f USD", market.Region, cur, sizeUSD, m.cfg.MaxPerRegionUSD)}
	}
	if cur := m.perDate[market.TargetDate]; cur+sizeUSD > m.cfg.MaxPerDateUSD {
		return Verdict{Reason: fmt.Sprintf("date %s exposure cap: %.2f + %.2f > %.2f USD", market.TargetDate, cur, sizeUSD, m.cfg.MaxPerDateUSD)}
	}
	if sizeUSD < m.cfg.MinOrderUSD || sizeUSD > m.cfg.MaxOrderUSD {
		return Verdict{Reason: fmt.Sprintf("order size %.2f outside [%.2f, %.2f] USD", sizeUSD, m.cfg.MinOrderUSD, m.cfg.MaxOrderUSD)}
	}
	return Verdict{Allowed: true}
}

// RecordTrade updates the exposure book after a confirmed fill. BUY adds
// exposure, SELL releases it; aggregates never go negative.
func (m *Manager) RecordTrade(market *types.Market, sizeUSD float64, side types.Side) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := sizeUSD
	if side == types.SELL {
		delta = -sizeUSD
	}

	m.perMarket[market.ConditionID] = clampZero(m.perMarket[market.ConditionID] + delta)
	m.perRegion[market.Region] = clampZero(m.perRegion[market.Region] + delta)
	m.perDate[market.TargetDate] = clampZero(m.perDate[market.TargetDate] + delta)
	m.marketMeta[market.ConditionID] = marketKeys{region: market.Region, date: market.TargetDate}
}

// RecordPnL adds realized profit or loss and fires the daily-loss kill
// switch when the running total breaches the limit.
func (m *Manager) RecordPnL(deltaUSD float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()
	m.realizedPnL += deltaUSD

	if m.realizedPnL < -m.cfg.MaxDailyLossUSD && !m.paused {
		m.pauseLocked(dailyLossPauseReason)
	}
}

// CheckDailyStopWithMTM extends the daily stop to count unrealized losses,
// marking open positions to the current price. Only active when the
// mtm_kill_switch flag is set.
func (m *Manager) CheckDailyStopWithMTM(positions []types.Position) {
	if !m.cfg.MTMKillSwitch {
		return
	}

	unrealized := 0.0
	for _, p := range positions {
		unrealized += (p.CurPrice - p.AvgPrice) * p.Size
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()
	if m.realizedPnL+unrealized < -m.cfg.MaxDailyLossUSD && !m.paused {
		m.pauseLocked(fmt.Sprintf("Daily loss limit reached (mark-to-market, unrealized %.2f USD)", unrealized))
	}
}

// ClearMarketExposure removes a resolved market from the book, releasing
// its share of the region and date aggregates.
func (m *Manager) ClearMarketExposure(conditionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exposure, ok := m.perMarket[conditionID]
	if !ok {
		return
	}
	if meta, ok := m.marketMeta[conditionID]; ok {
		m.perRegion[meta.region] = clampZero(m.perRegion[meta.region] - exposure)
		m.perDate[meta.date] = clampZero(m.perDate[meta.date] - exposure)
		delete(m.marketMeta, conditionID)
	}
	delete(m.perMarket, conditionID)
}

// Pause halts trading with an operator-supplied reason. Pauses other than
// the daily-loss stop do not auto-resume.
func (m *Manager) Pause(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauseLocked(reason)
}

// Resume lifts a pause.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	m.pauseReason = ""
	m.logger.Info("trading resumed")
}

// IsHealthy reports the book state. ApproachingMax warns once losses pass
// 80% of the daily limit.
func (m *Manager) IsHealthy() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()

	total := 0.0
	for _, v := range m.perMarket {
		total += v
	}
	return Health{
		Healthy:        !m.paused,
		Paused:         m.paused,
		PauseReason:    m.pauseReason,
		RealizedPnL:    m.realizedPnL,
		TotalExposure:  total,
		DataStale:      m.now().Sub(m.lastDataUpdate) > m.cfg.MaxDataAge,
		ApproachingMax: m.realizedPnL < 0 && -m.realizedPnL > 0.8*m.cfg.MaxDailyLossUSD,
	}
}

// Exposure returns the current aggregate for a market, for tests and logs.
func (m *Manager) Exposure(conditionID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perMarket[conditionID]
}

// RegionExposure returns the current aggregate for a region.
func (m *Manager) RegionExposure(region string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perRegion[region]
}

// DateExposure returns the current aggregate for a target date.
func (m *Manager) DateExposure(date string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perDate[date]
}

// rolloverLocked resets daily PnL at the civil-day boundary and lifts a
// daily-loss pause. Callers must hold mu.
func (m *Manager) rolloverLocked() {
	now := m.now()
	if sameCivilDay(now, m.lastPnLReset) {
		return
	}

	m.logger.Info("daily PnL reset", "previous_pnl", m.realizedPnL)
	m.realizedPnL = 0
	m.lastPnLReset = now

	if m.paused && strings.HasPrefix(m.pauseReason, dailyLossPauseReason) {
		m.paused = false
		m.pauseReason = ""
		m.logger.Info("daily-loss pause lifted at day rollover")
	}
}

// pauseLocked engages the pause and emits a kill signal. Callers hold mu.
func (m *Manager) pauseLocked(reason string) {
	m.paused = true
	m.pauseReason = reason
	m.logger.Error("TRADING PAUSED", "reason", reason, "realized_pnl", m.realizedPnL)

	// Drain a stale signal if the channel is full so the latest reason
	// always gets through.
	sig := KillSignal{Reason: reason}
	select {
	case m.killCh <- sig:
	default:
		select {
		case <-m.killCh:
		default:
		}
		m.killCh <- sig
	}
}

func sameCivilDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func clampZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
