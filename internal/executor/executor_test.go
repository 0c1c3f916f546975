package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"polyweather/internal/config"
	"polyweather/internal/market"
	"polyweather/internal/monitor"
	"polyweather/internal/notify"
	"polyweather/internal/risk"
	"polyweather/internal/store"
	"polyweather/pkg/types"
)

var testNow = time.Date(2026, 1, 13, 17, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type placedOrder struct {
	tokenID   string
	side      types.Side
	price     float64
	size      float64
	orderType types.OrderType
}

type stubVenue struct {
	orders []placedOrder
	err    error
}

func (v *stubVenue) PlaceLimit(ctx context.Context, tokenID string, side types.Side, price, size float64, orderType types.OrderType) (*types.OrderResult, error) {
	if v.err != nil {
		return nil, v.err
	}
	v.orders = append(v.orders, placedOrder{tokenID, side, price, size, orderType})
	return &types.OrderResult{Success: true, OrderID: "ord-1", Status: "live"}, nil
}

type recordingNotifier struct {
	events []notify.Kind
}

func (n *recordingNotifier) Event(ctx context.Context, kind notify.Kind, payload map[string]any) {
	n.events = append(n.events, kind)
}

func nycLadder() *types.Market {
	fp := func(v float64) *float64 { return &v }
	return &types.Market{
		ConditionID: "0xc1",
		Slug:        "highest-temperature-in-nyc-on-january-14",
		StationCode: "KNYC",
		Region:      "northeast",
		TargetDate:  "2026-01-14",
		Timezone:    "America/New_York",
		Metric:      types.MetricDailyMaxTemp,
		Status:      types.StatusActive,
		ResolvesAt:  time.Date(2026, 1, 15, 4, 59, 59, 0, time.UTC),
		Bins: []types.Bin{
			{TokenID: "t3", Label: "52-53°F", Lower: fp(52), Upper: fp(53)},
		},
	}
}

func testSignal() types.TradeSignal {
	return types.TradeSignal{
		ConditionID: "0xc1",
		TokenID:     "t3",
		Slug:        "highest-temperature-in-nyc-on-january-14",
		BinLabel:    "52-53°F",
		Side:        types.BUY,
		Fair:        0.305,
		Price:       0.25,
		Edge:        0.045,
		SizeUSD:     7.33,
		GeneratedAt: testNow.Add(-time.Minute),
	}
}

type harness struct {
	exec     *Executor
	queue    *monitor.Queue
	registry *market.Registry
	risk     *risk.Manager
	venue    *stubVenue
	notes    *recordingNotifier
	paper    *PaperLedger
}

func newHarness(t *testing.T, dryRun bool) *harness {
	t.Helper()

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	paper, err := NewPaperLedger(st)
	if err != nil {
		t.Fatalf("NewPaperLedger: %v", err)
	}

	reg := market.NewRegistry()
	reg.Upsert(nycLadder())

	riskMgr := risk.NewManager(config.RiskConfig{
		MaxPerMarketUSD: 50,
		MaxPerRegionUSD: 200,
		MaxPerDateUSD:   300,
		MaxDailyLossUSD: 100,
		MaxDataAge:      time.Hour,
		MinOrderUSD:     1,
		MaxOrderUSD:     25,
	}, testLogger())

	venue := &stubVenue{}
	notes := &recordingNotifier{}
	queue := monitor.NewQueue()

	exec := New(Config{PollInterval: time.Second, DryRun: dryRun},
		queue, reg, riskMgr, venue, paper, notes, testLogger())
	exec.now = func() time.Time { return testNow }

	return &harness{exec: exec, queue: queue, registry: reg, risk: riskMgr, venue: venue, notes: notes, paper: paper}
}

func TestExecuteLiveOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.queue.Enqueue(testSignal())

	h.exec.Process(context.Background())

	if len(h.venue.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(h.venue.orders))
	}
	ord := h.venue.orders[0]
	// fair-0.01 = 0.295 floored by the 0.25 market price.
	if ord.price != 0.25 || ord.side != types.BUY || ord.orderType != types.OrderTypeGTC {
		t.Errorf("order = %+v", ord)
	}
	if math.Abs(ord.size-29.32) > 1e-9 {
		t.Errorf("size = %v, want 29.32 tokens", ord.size)
	}
	if h.queue.Len() != 0 {
		t.Error("executed signal must leave the queue")
	}
	if got := h.risk.Exposure("0xc1"); math.Abs(got-7.33) > 1e-9 {
		t.Errorf("exposure = %v, want 7.33", got)
	}
	if len(h.notes.events) != 1 || h.notes.events[0] != notify.KindTrade {
		t.Errorf("events = %v, want [TRADE]", h.notes.events)
	}
}

func TestExecutePaperFill(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.queue.Enqueue(testSignal())

	h.exec.Process(context.Background())

	if len(h.venue.orders) != 0 {
		t.Error("dry-run must not reach the venue")
	}
	fills := h.paper.Fills()
	if len(fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(fills))
	}
	// Pessimistic fill: order at 0.25, filled at 0.26.
	if math.Abs(fills[0].Price-0.26) > 1e-9 {
		t.Errorf("fill price = %v, want 0.26", fills[0].Price)
	}
	if h.queue.Len() != 0 {
		t.Error("paper-filled signal must leave the queue")
	}
	if got := h.risk.Exposure("0xc1"); math.Abs(got-7.33) > 1e-9 {
		t.Errorf("exposure = %v, want 7.33", got)
	}
}

func TestStaleSignalDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	sig := testSignal()
	sig.GeneratedAt = testNow.Add(-6 * time.Minute)
	h.queue.Enqueue(sig)

	h.exec.Process(context.Background())

	if len(h.venue.orders) != 0 {
		t.Error("stale signal must not be executed")
	}
	if h.queue.Len() != 0 {
		t.Error("stale signal must be removed")
	}
}

func TestFailedOrderDropsSignal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.venue.err = errors.New("venue rejected")
	h.queue.Enqueue(testSignal())

	h.exec.Process(context.Background())

	if h.queue.Len() != 0 {
		t.Error("failed signal must be dropped, not retried forever")
	}
	if got := h.risk.Exposure("0xc1"); got != 0 {
		t.Errorf("exposure = %v, want 0 after failure", got)
	}
	if len(h.notes.events) != 1 || h.notes.events[0] != notify.KindError {
		t.Errorf("events = %v, want [ERROR]", h.notes.events)
	}
}

func TestRiskRejectedSignalDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	sig := testSignal()
	sig.SizeUSD = 60 // above the per-market cap
	h.queue.Enqueue(sig)

	h.exec.Process(context.Background())

	if len(h.venue.orders) != 0 {
		t.Error("blocked signal must not execute")
	}
	if h.queue.Len() != 0 {
		t.Error("rejected signal must be dropped, not retried")
	}
	if got := h.risk.Exposure("0xc1"); got != 0 {
		t.Errorf("exposure = %v, want 0", got)
	}
	if len(h.notes.events) != 1 || h.notes.events[0] != notify.KindError {
		t.Errorf("events = %v, want [ERROR]", h.notes.events)
	}
}

func TestUndersizedSignalDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	sig := testSignal()
	sig.SizeUSD = 0.5 // below the order-size floor
	h.queue.Enqueue(sig)

	h.exec.Process(context.Background())

	if h.queue.Len() != 0 {
		t.Error("undersized signal must be dropped")
	}
	if len(h.venue.orders) != 0 {
		t.Error("undersized signal must not execute")
	}
}

func TestPausedRiskSkipsCycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.queue.Enqueue(testSignal())
	h.risk.Pause("manual")

	h.exec.Process(context.Background())

	if len(h.venue.orders) != 0 || h.queue.Len() != 1 {
		t.Error("paused risk must freeze the queue")
	}
}

func TestOrderPriceUsesFreshRegistryPrice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	// Fresher cached price above fair-0.01: the shaded price wins.
	h.registry.SetPrice("t3", 0.35, testNow)
	h.queue.Enqueue(testSignal())

	h.exec.Process(context.Background())

	if len(h.venue.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(h.venue.orders))
	}
	// fair 0.305 - 0.01 = 0.295, rounded to the cent tick.
	if got := h.venue.orders[0].price; math.Abs(got-0.30) > 1e-9 {
		t.Errorf("price = %v, want 0.30", got)
	}
}

func TestClampPrice(t *testing.T) {
	t.Parallel()

	if got := clampPrice(1.02); got != 0.99 {
		t.Errorf("clampPrice(1.02) = %v", got)
	}
	if got := clampPrice(0.001); got != 0.01 {
		t.Errorf("clampPrice(0.001) = %v", got)
	}
	if got := clampPrice(0.5); got != 0.5 {
		t.Errorf("clampPrice(0.5) = %v", got)
	}
}
