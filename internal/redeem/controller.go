// Package redeem sweeps terminally priced positions and settles them
// on-chain.
//
// A position is redeemable once its market has resolved: the price pins to
// 0.99+ (won) or 0.01- (lost) and the data API flags it redeemable. The
// controller groups such positions by condition and issues one redemption
// per group. Failures are not retried; the next hourly sweep re-observes.
package redeem

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"polyweather/internal/market"
	"polyweather/internal/risk"
	"polyweather/pkg/types"
)

const (
	winningPrice    = 0.99
	losingPrice     = 0.01
	interGroupPause = 2 * time.Second
)

// Port performs the on-chain settlement. Satisfied by *CTFRedeemer.
type Port interface {
	Redeem(ctx context.Context, conditionID string) error
}

// Inventory lists current positions. Satisfied by *exchange.Client.
type Inventory interface {
	Positions(ctx context.Context) ([]types.Position, error)
}

// Controller decides when to redeem; the Port decides how.
type Controller struct {
	inv      Inventory
	port     Port
	registry *market.Registry
	risk     *risk.Manager
	interval time.Duration
	pause    time.Duration
	logger   *slog.Logger
}

func NewController(inv Inventory, port Port, registry *market.Registry, riskMgr *risk.Manager, interval time.Duration, logger *slog.Logger) *Controller {
	return &Controller{
		inv:      inv,
		port:     port,
		registry: registry,
		risk:     riskMgr,
		interval: interval,
		pause:    interGroupPause,
		logger:   logger.With("component", "redeem"),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep redeems every terminally priced redeemable condition once.
func (c *Controller) Sweep(ctx context.Context) {
	positions, err := c.inv.Positions(ctx)
	if err != nil {
		c.logger.Error("fetch positions failed", "error", err)
		return
	}

	conditions := redeemableConditions(positions)
	if len(conditions) == 0 {
		return
	}
	c.logger.Info("redeemable conditions found", "count", len(conditions))

	for i, cid := range conditions {
		if ctx.Err() != nil {
			return
		}
		if err := c.port.Redeem(ctx, cid); err != nil {
			// No retry; the next sweep re-observes the position.
			c.logger.Error("redeem failed", "condition", cid, "error", err)
			continue
		}

		c.registry.SetStatus(cid, types.StatusResolved)
		c.risk.ClearMarketExposure(cid)
		c.logger.Info("condition redeemed", "condition", cid)

		if i < len(conditions)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.pause):
			}
		}
	}
}

// redeemableConditions returns the distinct condition IDs holding at least
// one terminally priced redeemable position, in stable order.
func redeemableConditions(positions []types.Position) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range positions {
		if !p.Redeemable {
			continue
		}
		if p.CurPrice < winningPrice && p.CurPrice > losingPrice {
			continue
		}
		if !seen[p.ConditionID] {
			seen[p.ConditionID] = true
			out = append(out, p.ConditionID)
		}
	}
	sort.Strings(out)
	return out
}
