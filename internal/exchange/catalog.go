package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"polyweather/pkg/types"
)

const catalogPageSize = 100

// ListWeatherEvents pages through the gamma catalog's weather-tagged
// events. Only open events are returned; closed ladders are left for the
// registry's expiry sweep.
func (c *Client) ListWeatherEvents(ctx context.Context) ([]types.CatalogEvent, error) {
	var all []types.CatalogEvent

	for offset := 0; ; offset += catalogPageSize {
		if err := c.rl.Catalog.Wait(ctx); err != nil {
			return nil, err
		}

		var page []types.CatalogEvent
		resp, err := c.gamma.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"tag_slug": "weather",
				"active":   "true",
				"closed":   "false",
				"limit":    strconv.Itoa(catalogPageSize),
				"offset":   strconv.Itoa(offset),
			}).
			SetResult(&page).
			Get("/events")
		if err != nil {
			return nil, fmt.Errorf("list events (offset %d): %w", offset, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("list events: status %d: %s", resp.StatusCode(), resp.String())
		}

		all = append(all, page...)
		if len(page) < catalogPageSize {
			break
		}
	}

	c.logger.Debug("catalog fetched", "events", len(all))
	return all, nil
}
