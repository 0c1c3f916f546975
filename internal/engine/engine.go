// Package engine is the central orchestrator of the weather trading agent.
//
// It wires together all subsystems:
//
//  1. Discovery finds weather ladder markets in the venue catalog.
//  2. The monitor prices each ladder against the forecast ensemble and
//     queues trade signals.
//  3. The executor turns signals into orders (or paper fills in dry-run).
//  4. The position manager runs stop-loss / take-profit / trailing exits.
//  5. The redemption controller settles resolved positions on-chain.
//  6. A WebSocket feed keeps bin prices fresh between monitor cycles.
//  7. The risk manager can kill trading; the engine reacts by cancelling
//     all resting orders and notifying.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polyweather/internal/config"
	"polyweather/internal/exchange"
	"polyweather/internal/executor"
	"polyweather/internal/forecast"
	"polyweather/internal/market"
	"polyweather/internal/monitor"
	"polyweather/internal/notify"
	"polyweather/internal/position"
	"polyweather/internal/prob"
	"polyweather/internal/redeem"
	"polyweather/internal/risk"
	"polyweather/internal/store"
	"polyweather/pkg/stations"
)

const (
	redeemInterval = time.Hour
	subscribeSync  = time.Minute
	shutdownGrace  = 2 * time.Second
)

// Engine owns the lifecycle of every long-lived task.
type Engine struct {
	cfg      *config.Config
	client   *exchange.Client
	auth     *exchange.Auth
	mktFeed  *exchange.WSFeed
	registry *market.Registry
	feed     *market.Feed
	mon      *monitor.Monitor
	exec     *executor.Executor
	posMgr   *position.Manager
	redeemer *redeem.Controller
	riskMgr  *risk.Manager
	notifier *notify.Notifier
	store    *store.Store
	logger   *slog.Logger

	// subscribed tracks token IDs already on the WS subscription.
	subscribed map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components. In live mode a wallet is
// required; in dry-run the venue surface degrades to read-only.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	var auth *exchange.Auth
	if cfg.Wallet.PrivateKey != "" {
		a, err := exchange.NewAuth(cfg)
		if err != nil {
			return nil, err
		}
		auth = a
	}

	client := exchange.NewClient(cfg, auth, logger)

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}

	sinks := []notify.Sink{notify.NewLogSink(logger)}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL, logger))
	}
	notifier := notify.NewNotifier(sinks...)

	stReg := stations.NewRegistry(nil)
	registry := market.NewRegistry()
	parser := market.NewParser(stReg)
	discovery := market.NewDiscovery(client, parser, registry,
		cfg.Weather.MinParserConfidence, logger)

	forecasts := forecast.NewService(
		[]forecast.Provider{forecast.NewOpenMeteo(), forecast.NewNWS()},
		forecast.NewOpenMeteo(),
		cfg.Weather.ObservationPoll,
		logger,
	)

	riskMgr := risk.NewManager(cfg.Risk, logger)

	queue := monitor.NewQueue()
	mon := monitor.New(monitor.Config{
		EdgeThreshold:     cfg.Weather.EdgeThreshold,
		MaxLeadDays:       cfg.Weather.MaxLeadDays,
		DiscoveryInterval: cfg.Weather.DiscoveryInterval,
		ForecastRefresh:   cfg.Weather.ForecastRefresh,
		MaxOrderSizeUSD:   cfg.Risk.MaxOrderUSD,
	}, discovery, registry, forecasts, prob.NewEngine(logger), riskMgr, stReg, queue, logger)

	var paper *executor.PaperLedger
	if cfg.DryRun {
		paper, err = executor.NewPaperLedger(st)
		if err != nil {
			return nil, err
		}
	}
	exec := executor.New(executor.Config{
		PollInterval: cfg.Executor.PollInterval,
		DryRun:       cfg.DryRun,
	}, queue, registry, riskMgr, client, paper, notifier, logger)

	posMgr, err := position.New(cfg.Position, client, client, riskMgr, st, notifier, logger)
	if err != nil {
		return nil, err
	}

	ctfPort, err := redeem.NewCTFRedeemer(cfg.API.RPCURL, auth, cfg.DryRun, logger)
	if err != nil {
		return nil, err
	}
	redeemer := redeem.NewController(client, ctfPort, registry, riskMgr, redeemInterval, logger)

	mktFeed := exchange.NewMarketFeed(cfg.API.WSMarketURL, logger)
	feed := market.NewFeed(mktFeed.BookEvents(), mktFeed.PriceChangeEvents(), registry, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:        cfg,
		client:     client,
		auth:       auth,
		mktFeed:    mktFeed,
		registry:   registry,
		feed:       feed,
		mon:        mon,
		exec:       exec,
		posMgr:     posMgr,
		redeemer:   redeemer,
		riskMgr:    riskMgr,
		notifier:   notifier,
		store:      st,
		logger:     logger.With("component", "engine"),
		subscribed: make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start derives venue credentials when needed and launches every task.
func (e *Engine) Start() error {
	if !e.cfg.DryRun && e.auth != nil && !e.auth.HasL2Credentials() {
		e.logger.Info("no L2 credentials, deriving API key via L1...")
		if _, err := e.client.DeriveAPIKey(e.ctx); err != nil {
			return err
		}
	}

	e.notifier.Event(e.ctx, notify.KindStartup, map[string]any{
		"dry_run":        e.cfg.DryRun,
		"edge_threshold": e.cfg.Weather.EdgeThreshold,
		"max_lead_days":  e.cfg.Weather.MaxLeadDays,
	})

	e.spawn("market feed", e.mktFeed.Run)
	e.spawn("price feed", e.feed.Run)
	e.spawn("monitor", e.mon.Run)
	e.spawn("executor", e.exec.Run)
	e.spawn("position manager", e.posMgr.Run)
	e.spawn("redemption", e.redeemer.Run)

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.watchKillSignals()
	}()
	go func() {
		defer e.wg.Done()
		e.syncSubscriptions()
	}()

	return nil
}

// Stop shuts down gracefully: cancels every task, sends a cancel-all to
// the venue as a safety net, flushes persisted state, and gives in-flight
// work a short grace window.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), shutdownGrace)
	if err := e.client.CancelAll(cancelCtx); err != nil {
		e.logger.Error("cancel all on shutdown failed", "error", err)
	}
	cancelCancel()

	e.posMgr.Flush()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		e.logger.Warn("shutdown grace elapsed, exiting with tasks pending")
	}

	e.mktFeed.Close()
	e.store.Close()

	e.logger.Info("shutdown complete")
}

// spawn runs a task in its own goroutine, logging any non-cancellation
// exit so one dead loop never kills the process silently.
func (e *Engine) spawn(name string, run func(context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("task exited", "task", name, "error", err)
		}
	}()
}

// watchKillSignals reacts to risk kill switches: notify, then pull all
// resting orders.
func (e *Engine) watchKillSignals() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case kill := <-e.riskMgr.KillCh():
			e.logger.Error("KILL SIGNAL received", "reason", kill.Reason)
			e.notifier.Event(e.ctx, notify.KindError, map[string]any{
				"event":  "kill_switch",
				"reason": kill.Reason,
			})

			cancelCtx, cancelCancel := context.WithTimeout(e.ctx, 10*time.Second)
			if err := e.client.CancelAll(cancelCtx); err != nil {
				e.logger.Error("cancel all after kill failed", "error", err)
			}
			cancelCancel()
		}
	}
}

// syncSubscriptions keeps the WS feed subscribed to every active bin token
// as discovery admits new ladders.
func (e *Engine) syncSubscriptions() {
	ticker := time.NewTicker(subscribeSync)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			var fresh []string
			for _, id := range e.registry.ActiveTokenIDs() {
				if !e.subscribed[id] {
					fresh = append(fresh, id)
				}
			}
			if len(fresh) == 0 {
				continue
			}
			if err := e.mktFeed.Subscribe(fresh); err != nil {
				// Feed not connected yet; retry on the next tick.
				e.logger.Debug("ws subscribe deferred", "tokens", len(fresh), "error", err)
				continue
			}
			for _, id := range fresh {
				e.subscribed[id] = true
			}
		}
	}
}
