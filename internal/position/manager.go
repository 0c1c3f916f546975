// Package position manages open inventory: stop-loss, take-profit and
// trailing-stop exits.
//
// Each cycle fetches positions from the venue's data API, updates the
// per-token peak map (persisted with a debounce so a restart keeps
// trailing-stop state), and evaluates the exit rules in priority order:
// stop-loss, then take-profit, then trailing stop. Triggered exits sell
// into the best bid with a fill-or-kill order, guarded against thin books.
package position

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polyweather/internal/config"
	"polyweather/internal/notify"
	"polyweather/internal/risk"
	"polyweather/internal/store"
	"polyweather/pkg/types"
)

const (
	peaksKey        = "position_peaks"
	saveDebounce    = 5 * time.Second
	interSellPause  = 2 * time.Second
	minPositionSize = 1e-4
)

// Inventory lists current positions. Satisfied by *exchange.Client.
type Inventory interface {
	Positions(ctx context.Context) ([]types.Position, error)
}

// Venue provides the order surface exits need.
type Venue interface {
	OrderBook(ctx context.Context, tokenID string) (*types.OrderBook, error)
	PlaceLimit(ctx context.Context, tokenID string, side types.Side, price, size float64, orderType types.OrderType) (*types.OrderResult, error)
}

// Notifier publishes agent events.
type Notifier interface {
	Event(ctx context.Context, kind notify.Kind, payload map[string]any)
}

// Manager runs the inventory loop.
type Manager struct {
	cfg      config.PositionConfig
	inv      Inventory
	venue    Venue
	risk     *risk.Manager
	st       *store.Store
	notifier Notifier
	logger   *slog.Logger

	mu        sync.Mutex
	peaks     map[string]types.PositionPeak // by token ID
	saveTimer *time.Timer

	pause time.Duration // delay between triggered sells
	now   func() time.Time
}

// New loads persisted peak state and returns a ready manager.
func New(cfg config.PositionConfig, inv Inventory, venue Venue, riskMgr *risk.Manager, st *store.Store, notifier Notifier, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		cfg:      cfg,
		inv:      inv,
		venue:    venue,
		risk:     riskMgr,
		st:       st,
		notifier: notifier,
		logger:   logger.With("component", "position"),
		peaks:    make(map[string]types.PositionPeak),
		pause:    interSellPause,
		now:      time.Now,
	}
	if _, err := st.Load(peaksKey, &m.peaks); err != nil {
		return nil, err
	}
	return m, nil
}

// Run checks positions on the configured interval until ctx is cancelled,
// then flushes peak state.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	defer m.Flush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one inventory pass.
func (m *Manager) Check(ctx context.Context) {
	positions, err := m.inv.Positions(ctx)
	if err != nil {
		m.logger.Error("fetch positions failed", "error", err)
		return
	}

	m.risk.CheckDailyStopWithMTM(positions)

	for _, pos := range positions {
		if pos.Size <= minPositionSize {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		m.checkPosition(ctx, pos)
	}
}

func (m *Manager) checkPosition(ctx context.Context, pos types.Position) {
	pnl := pos.PnLPercent()
	peak := m.updatePeak(pos, pnl)

	kind, triggered := m.evaluate(pnl, peak)
	if !triggered {
		return
	}

	m.logger.Info("exit triggered",
		"kind", string(kind),
		"token", pos.TokenID,
		"title", pos.Title,
		"pnl_pct", pnl,
		"peak_pnl_pct", peak.PnLPct,
	)
	m.sell(ctx, pos, pnl, kind)
}

// updatePeak raises the peak when the price makes a new high. Peaks never
// move down.
func (m *Manager) updatePeak(pos types.Position, pnl float64) types.PositionPeak {
	m.mu.Lock()
	defer m.mu.Unlock()

	peak, ok := m.peaks[pos.TokenID]
	if !ok || pos.CurPrice > peak.Price {
		peak.TokenID = pos.TokenID
		peak.Price = pos.CurPrice
		if pnl > peak.PnLPct {
			peak.PnLPct = pnl
		}
		peak.UpdatedAt = m.now()
		m.peaks[pos.TokenID] = peak
		m.scheduleSaveLocked()
	}
	return peak
}

// evaluate applies the exit rules in priority order.
func (m *Manager) evaluate(pnl float64, peak types.PositionPeak) (notify.Kind, bool) {
	switch {
	case m.cfg.StopLossEnabled && pnl <= -m.cfg.StopLossPercent:
		return notify.KindStopLoss, true
	case m.cfg.TakeProfitEnabled && pnl >= m.cfg.TakeProfitPercent:
		return notify.KindTakeProfit, true
	case m.cfg.TrailingStopEnabled &&
		peak.PnLPct >= m.cfg.TrailingStopPercent &&
		peak.PnLPct-pnl >= m.cfg.TrailingStopPercent:
		return notify.KindTrailingStop, true
	}
	return "", false
}

// sell dumps the position into the best bid with a fill-or-kill order,
// skipping when the book is too thin to hold the price.
func (m *Manager) sell(ctx context.Context, pos types.Position, pnl float64, kind notify.Kind) {
	book, err := m.venue.OrderBook(ctx, pos.TokenID)
	if err != nil {
		m.logger.Error("fetch book for exit failed", "token", pos.TokenID, "error", err)
		return
	}
	bid, bidSize, ok := book.BestBid()
	if !ok {
		m.logger.Warn("no bids, skipping exit", "token", pos.TokenID)
		return
	}
	if bid < pos.CurPrice*m.cfg.MinPriceRatioPct/100 {
		m.logger.Warn("thin book, skipping exit",
			"token", pos.TokenID, "bid", bid, "cur_price", pos.CurPrice)
		return
	}

	size := pos.Size
	if bidSize < size {
		size = bidSize
	}

	res, err := m.venue.PlaceLimit(ctx, pos.TokenID, types.SELL, bid, size, types.OrderTypeFOK)
	if err != nil || !res.Success {
		m.logger.Error("exit order failed", "token", pos.TokenID, "error", err)
		return
	}

	realized := (bid - pos.AvgPrice) * size
	m.risk.RecordPnL(realized)

	m.mu.Lock()
	delete(m.peaks, pos.TokenID)
	m.scheduleSaveLocked()
	m.mu.Unlock()

	m.logger.Info("position exited",
		"kind", string(kind),
		"token", pos.TokenID,
		"price", bid,
		"size", size,
		"realized_usd", realized,
	)
	m.notifier.Event(ctx, kind, map[string]any{
		"title":        pos.Title,
		"token":        pos.TokenID,
		"price":        bid,
		"size":         size,
		"pnl_pct":      pnl,
		"realized_usd": realized,
	})

	select {
	case <-ctx.Done():
	case <-time.After(m.pause):
	}
}

// scheduleSaveLocked arms the debounced save. Caller holds m.mu.
func (m *Manager) scheduleSaveLocked() {
	if m.saveTimer != nil {
		return
	}
	m.saveTimer = time.AfterFunc(saveDebounce, m.savePeaks)
}

func (m *Manager) savePeaks() {
	m.mu.Lock()
	m.saveTimer = nil
	snapshot := make(map[string]types.PositionPeak, len(m.peaks))
	for k, v := range m.peaks {
		snapshot[k] = v
	}
	m.mu.Unlock()

	if err := m.st.Save(peaksKey, snapshot); err != nil {
		m.logger.Error("save peaks failed", "error", err)
	}
}

// Flush persists peak state immediately, cancelling any pending debounce.
func (m *Manager) Flush() {
	m.mu.Lock()
	if m.saveTimer != nil {
		m.saveTimer.Stop()
		m.saveTimer = nil
	}
	m.mu.Unlock()
	m.savePeaks()
}

// Peak returns the recorded peak for a token, if any.
func (m *Manager) Peak(tokenID string) (types.PositionPeak, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peaks[tokenID]
	return p, ok
}
