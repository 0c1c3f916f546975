package exchange

import (
	"context"
	"fmt"
	"net/http"

	"polyweather/pkg/types"
)

// Positions lists the funder wallet's current positions from the data API.
func (c *Client) Positions(ctx context.Context) ([]types.Position, error) {
	if c.auth == nil {
		return nil, nil
	}
	if err := c.rl.Data.Wait(ctx); err != nil {
		return nil, err
	}

	var result []types.Position
	resp, err := c.data.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user":          c.auth.FunderAddress().Hex(),
			"sizeThreshold": "0.1",
		}).
		SetResult(&result).
		Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}
