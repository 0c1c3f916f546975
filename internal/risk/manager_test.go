package risk

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"polyweather/internal/config"
	"polyweather/pkg/types"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPerMarketUSD: 50,
		MaxPerRegionUSD: 200,
		MaxPerDateUSD:   300,
		MaxDailyLossUSD: 100,
		MaxDataAge:      time.Hour,
		MinOrderUSD:     1,
		MaxOrderUSD:     25,
	}
}

func newTestManager(cfg config.RiskConfig) *Manager {
	return NewManager(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testMarket() *types.Market {
	return &types.Market{
		ConditionID: "0xc1",
		Region:      "northeast",
		TargetDate:  "2026-01-14",
	}
}

func TestCanTradeAllowed(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	v := m.CanTrade(testMarket(), 10)
	if !v.Allowed {
		t.Errorf("CanTrade rejected: %s", v.Reason)
	}
}

func TestCanTradeMarketCap(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	mk := testMarket()
	m.RecordTrade(mk, 45, types.BUY)

	v := m.CanTrade(mk, 10)
	if v.Allowed {
		t.Fatal("expected rejection at market cap")
	}
	if !strings.Contains(v.Reason, "market exposure cap") {
		t.Errorf("Reason = %q, want market cap mention", v.Reason)
	}
}

func TestCanTradeRegionCap(t *testing.T) {
	t.Parallel()

	cfg := testRiskConfig()
	m := newTestManager(cfg)

	// Fill the region with sibling markets, each inside its own market cap.
	for i := 0; i < 4; i++ {
		mk := testMarket()
		mk.ConditionID = string(rune('a' + i))
		mk.TargetDate = "2026-01-1" + string(rune('0'+i))
		m.RecordTrade(mk, 48, types.BUY)
	}

	v := m.CanTrade(testMarket(), 10)
	if v.Allowed {
		t.Fatal("expected rejection at region cap")
	}
	if !strings.Contains(v.Reason, "region") {
		t.Errorf("Reason = %q, want region cap mention", v.Reason)
	}
}

func TestCanTradeSizeBand(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())

	if v := m.CanTrade(testMarket(), 0.5); v.Allowed {
		t.Error("sub-minimum size should be rejected")
	}
	if v := m.CanTrade(testMarket(), 30); v.Allowed {
		t.Error("over-maximum size should be rejected")
	}
}

func TestCanTradeStaleData(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	base := time.Now()
	m.now = func() time.Time { return base.Add(2 * time.Hour) }

	v := m.CanTrade(testMarket(), 10)
	if v.Allowed {
		t.Fatal("expected rejection on stale data")
	}
	if !strings.Contains(v.Reason, "stale") {
		t.Errorf("Reason = %q, want staleness mention", v.Reason)
	}

	// Refresh restores trading.
	m.MarkDataFresh()
	if v := m.CanTrade(testMarket(), 10); !v.Allowed {
		t.Errorf("CanTrade after refresh rejected: %s", v.Reason)
	}
}

func TestRecordTradeAggregates(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	mk := testMarket()

	m.RecordTrade(mk, 10, types.BUY)
	if m.Exposure(mk.ConditionID) != 10 || m.RegionExposure(mk.Region) != 10 || m.DateExposure(mk.TargetDate) != 10 {
		t.Errorf("aggregates = %v/%v/%v, want 10 each",
			m.Exposure(mk.ConditionID), m.RegionExposure(mk.Region), m.DateExposure(mk.TargetDate))
	}

	m.RecordTrade(mk, 4, types.SELL)
	if m.Exposure(mk.ConditionID) != 6 {
		t.Errorf("exposure after sell = %v, want 6", m.Exposure(mk.ConditionID))
	}

	// Oversized sell clamps at zero, never negative.
	m.RecordTrade(mk, 100, types.SELL)
	if m.Exposure(mk.ConditionID) != 0 || m.RegionExposure(mk.Region) != 0 {
		t.Errorf("aggregates went negative: %v/%v", m.Exposure(mk.ConditionID), m.RegionExposure(mk.Region))
	}
}

func TestDailyLossKillSwitch(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	m.RecordPnL(-101)

	h := m.IsHealthy()
	if h.Healthy {
		t.Fatal("expected unhealthy after daily loss breach")
	}
	if v := m.CanTrade(testMarket(), 10); v.Allowed {
		t.Error("CanTrade should be blocked while paused")
	}

	select {
	case sig := <-m.KillCh():
		if !strings.Contains(sig.Reason, "Daily loss") {
			t.Errorf("kill reason = %q", sig.Reason)
		}
	default:
		t.Error("expected a kill signal")
	}
}

func TestDailyLossExactLimitStillTrades(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	m.RecordPnL(-100)

	if h := m.IsHealthy(); !h.Healthy {
		t.Fatal("loss at exactly the limit must not pause")
	}
	m.RecordPnL(-0.01)
	if h := m.IsHealthy(); h.Healthy {
		t.Error("loss past the limit must pause")
	}
}

func TestHealthReportsStaleData(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	base := time.Now()
	m.now = func() time.Time { return base.Add(2 * time.Hour) }

	if h := m.IsHealthy(); !h.DataStale {
		t.Error("expected DataStale past the max data age")
	}
	m.MarkDataFresh()
	if h := m.IsHealthy(); h.DataStale {
		t.Error("DataStale must clear after a refresh")
	}
}

func TestDailyRolloverResetsAndResumes(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	base := time.Date(2026, 1, 14, 22, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	m.MarkDataFresh()
	m.lastPnLReset = base

	m.RecordPnL(-150)
	if h := m.IsHealthy(); h.Healthy {
		t.Fatal("expected pause")
	}

	// Next civil day: PnL resets and the daily-loss pause lifts.
	base = base.Add(4 * time.Hour)
	h := m.IsHealthy()
	if !h.Healthy {
		t.Errorf("expected auto-resume after rollover, still paused: %s", h.PauseReason)
	}
	if h.RealizedPnL != 0 {
		t.Errorf("RealizedPnL = %v, want 0 after rollover", h.RealizedPnL)
	}
}

func TestManualPauseSurvivesRollover(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	base := time.Date(2026, 1, 14, 22, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	m.lastPnLReset = base

	m.Pause("operator halt")
	base = base.Add(4 * time.Hour)

	if h := m.IsHealthy(); h.Healthy {
		t.Error("operator pause must not auto-resume at rollover")
	}
}

func TestClearMarketExposure(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	mk := testMarket()
	other := testMarket()
	other.ConditionID = "0xc2"

	m.RecordTrade(mk, 20, types.BUY)
	m.RecordTrade(other, 15, types.BUY)

	m.ClearMarketExposure(mk.ConditionID)

	if m.Exposure(mk.ConditionID) != 0 {
		t.Errorf("market exposure = %v, want 0", m.Exposure(mk.ConditionID))
	}
	if m.RegionExposure(mk.Region) != 15 {
		t.Errorf("region exposure = %v, want 15 (sibling remains)", m.RegionExposure(mk.Region))
	}
	if m.DateExposure(mk.TargetDate) != 15 {
		t.Errorf("date exposure = %v, want 15", m.DateExposure(mk.TargetDate))
	}
}

func TestApproachingMax(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	m.RecordPnL(-85)

	h := m.IsHealthy()
	if !h.Healthy {
		t.Fatal("should still be healthy at -85")
	}
	if !h.ApproachingMax {
		t.Error("expected ApproachingMax past 80% of the limit")
	}
}

func TestMTMKillSwitch(t *testing.T) {
	t.Parallel()

	cfg := testRiskConfig()
	cfg.MTMKillSwitch = true
	m := newTestManager(cfg)

	positions := []types.Position{
		{Size: 300, AvgPrice: 0.60, CurPrice: 0.20}, // -120 USD unrealized
	}
	m.CheckDailyStopWithMTM(positions)

	if h := m.IsHealthy(); h.Healthy {
		t.Error("expected MTM pause")
	}
}

func TestMTMDisabledByDefault(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	positions := []types.Position{{Size: 1000, AvgPrice: 0.9, CurPrice: 0.1}}
	m.CheckDailyStopWithMTM(positions)

	if h := m.IsHealthy(); !h.Healthy {
		t.Error("MTM stop must be inert when the flag is off")
	}
}
