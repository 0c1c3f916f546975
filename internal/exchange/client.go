// Package exchange implements the venue REST and WebSocket clients.
//
// The CLOB client (Client) handles order management:
//   - PlaceLimit:   POST /order           — place one signed limit order
//   - OrderBook:    GET  /book            — fetch L2 book for a token
//   - OpenOrders:   GET  /data/orders     — list resting orders
//   - CancelAll:    DELETE /cancel-all    — emergency cancel everything
//   - Prices:       POST /prices          — batch midpoint prices
//   - DeriveAPIKey: GET /auth/derive-api-key — bootstrap L2 creds
//
// The catalog client (catalog.go) reads weather events from the gamma API,
// and the data client (positions.go) reads wallet positions. Every request
// is rate-limited via per-category TokenBuckets, retried on 5xx, and
// authenticated with L2 HMAC headers where the venue requires it. In
// dry-run mode mutating methods return fake success without HTTP calls.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"polyweather/internal/config"
	"polyweather/pkg/types"
)

// SignedOrder is the on-chain order structure the CLOB expects, amounts as
// decimal strings scaled to 6 decimals.
type SignedOrder struct {
	Salt          string     `json:"salt"`
	Maker         string     `json:"maker"`
	Signer        string     `json:"signer"`
	Taker         string     `json:"taker"`
	TokenID       string     `json:"tokenId"`
	MakerAmount   string     `json:"makerAmount"`
	TakerAmount   string     `json:"takerAmount"`
	Expiration    string     `json:"expiration"`
	Nonce         string     `json:"nonce"`
	FeeRateBps    string     `json:"feeRateBps"`
	Side          types.Side `json:"side"`
	SignatureType int        `json:"signatureType"`
	Signature     string     `json:"signature"`
}

type orderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

// Client is the venue CLOB REST API client.
type Client struct {
	http   *resty.Client
	gamma  *resty.Client
	data   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry. auth may be
// nil in dry-run mode.
func NewClient(cfg *config.Config, auth *Auth, logger *slog.Logger) *Client {
	mk := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(10 * time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				// 429s back off through the retry wait schedule.
				return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
			}).
			SetHeader("Content-Type", "application/json")
	}

	return &Client{
		http:   mk(cfg.API.CLOBBaseURL),
		gamma:  mk(cfg.API.GammaBaseURL),
		data:   mk(cfg.API.DataBaseURL),
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger.With("component", "exchange"),
	}
}

// OrderBook fetches the order book for a single token.
func (c *Client) OrderBook(ctx context.Context, tokenID string) (*types.OrderBook, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.OrderBook
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// PlaceLimit places one signed limit order. In dry-run mode it returns a
// fake success without touching the venue.
func (c *Client) PlaceLimit(ctx context.Context, tokenID string, side types.Side, price, size float64, orderType types.OrderType) (*types.OrderResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order",
			"token", tokenID, "side", side, "price", price, "size", size, "type", orderType)
		return &types.OrderResult{
			Success: true,
			OrderID: fmt.Sprintf("dry-run-%d", time.Now().UnixNano()),
			Status:  "live",
		}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := c.buildOrderPayload(tokenID, side, price, size, orderType)
	if err != nil {
		return nil, fmt.Errorf("build order: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.OrderResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// buildOrderPayload converts a price/size into the signed on-chain order.
// The maker is the funder wallet (proxy), the signer the EOA, the taker the
// zero address (open order, anyone can fill).
func (c *Client) buildOrderPayload(tokenID string, side types.Side, price, size float64, orderType types.OrderType) (*orderPayload, error) {
	makerAmt, takerAmt := PriceToAmounts(price, size, side)

	order := SignedOrder{
		Salt:          new(big.Int).SetInt64(rand.Int63()).String(),
		Maker:         c.auth.FunderAddress().Hex(),
		Signer:        c.auth.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       tokenID,
		MakerAmount:   makerAmt.String(),
		TakerAmount:   takerAmt.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: int(c.auth.sigType),
	}

	sig, err := c.auth.SignOrder(order)
	if err != nil {
		return nil, err
	}
	order.Signature = sig

	return &orderPayload{
		Order:     order,
		Owner:     c.auth.creds.ApiKey,
		OrderType: string(orderType),
	}, nil
}

// OpenOrders lists the wallet's resting orders.
func (c *Client) OpenOrders(ctx context.Context) ([]types.OpenOrder, error) {
	if c.dryRun {
		return nil, nil
	}
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("GET", "/data/orders", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result []types.OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/data/orders")
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("open orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// CancelAll cancels every open order across all markets.
func (c *Client) CancelAll(ctx context.Context) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete("/cancel-all")
	if err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled")
	return nil
}

// Prices batch-fetches midpoint prices for the given tokens.
func (c *Client) Prices(ctx context.Context, tokenIDs []string) (map[string]float64, error) {
	if len(tokenIDs) == 0 {
		return map[string]float64{}, nil
	}
	if err := c.rl.Catalog.Wait(ctx); err != nil {
		return nil, err
	}

	type priceReq struct {
		TokenID string `json:"token_id"`
		Side    string `json:"side"`
	}
	reqs := make([]priceReq, len(tokenIDs))
	for i, id := range tokenIDs {
		reqs[i] = priceReq{TokenID: id, Side: "BUY"}
	}

	// token_id → side → price string
	var result map[string]map[string]string
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(reqs).
		SetResult(&result).
		Post("/prices")
	if err != nil {
		return nil, fmt.Errorf("batch prices: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("batch prices: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make(map[string]float64, len(result))
	for id, sides := range result {
		for _, s := range sides {
			if v, ok := parsePrice(s); ok {
				out[id] = v
				break
			}
		}
	}
	return out, nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}

func parsePrice(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
