// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the agent: stations, parsed
// ladder markets and their bins, forecasts, observations, trade signals,
// positions, and the wire types exchanged with the venue. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"strconv"
	"time"
)

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill, used for triggered exits
)

// Metric is the daily weather quantity a market resolves on.
type Metric string

const (
	MetricDailyMaxTemp Metric = "DAILY_MAX_TEMP"
	MetricDailyMinTemp Metric = "DAILY_MIN_TEMP"
	MetricRainfall     Metric = "RAINFALL"
	MetricSnowfall     Metric = "SNOWFALL"
)

// IsTemperature reports whether the metric is priced by the probability
// engine. Precipitation metrics are recognized by the parser but never priced.
func (m Metric) IsTemperature() bool {
	return m == MetricDailyMaxTemp || m == MetricDailyMinTemp
}

// Unit is the measurement unit a market's bins are expressed in.
type Unit string

const (
	UnitFahrenheit Unit = "F"
	UnitCelsius    Unit = "C"
	UnitInches     Unit = "inches"
	UnitCentimeter Unit = "cm"
)

// MarketStatus tracks the registry lifecycle of a tracked market.
// Transitions are forward-only: ACTIVE may become RESOLVED, SKIPPED or
// EXPIRED; a terminal status never reverts to ACTIVE.
type MarketStatus string

const (
	StatusActive   MarketStatus = "ACTIVE"
	StatusResolved MarketStatus = "RESOLVED"
	StatusSkipped  MarketStatus = "SKIPPED"
	StatusExpired  MarketStatus = "EXPIRED"
)

// Station is an immutable configured weather observation station.
type Station struct {
	Code      string  `json:"code"`   // station identifier, e.g. "KNYC"
	Name      string  `json:"name"`   // full name, e.g. "New York Central Park"
	City      string  `json:"city"`   // city name as it appears in market titles
	Region    string  `json:"region"` // exposure-accounting region, e.g. "northeast"
	Timezone  string  `json:"timezone"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	SourceURL string  `json:"source_url"` // official climate report used for resolution
}

// Location returns the station's IANA timezone location, or UTC if the
// timezone string does not resolve.
func (s Station) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Bin is a single outcome token of a ladder market.
//
// Invariants: IsFloor implies Lower == nil, IsCeiling implies Upper == nil,
// and for range bins Lower <= Upper. A single-value bin has Lower == Upper.
type Bin struct {
	OutcomeID string   `json:"outcome_id"`
	TokenID   string   `json:"token_id"`
	Label     string   `json:"label"` // display label, e.g. "52-53°F"
	Lower     *float64 `json:"lower,omitempty"`
	Upper     *float64 `json:"upper,omitempty"`
	IsFloor   bool     `json:"is_floor"`   // open below: covers (-inf, Upper]
	IsCeiling bool     `json:"is_ceiling"` // open above: covers [Lower, +inf)
}

// Market is a parsed prediction market over a ladder of mutually exclusive,
// collectively exhaustive outcome bins. Bins are sorted floor first, range
// bins ascending by lower bound, ceiling last.
type Market struct {
	ConditionID string       `json:"condition_id"`
	Slug        string       `json:"slug"`
	Title       string       `json:"title"`
	StationCode string       `json:"station_code"`
	Region      string       `json:"region"`
	TargetDate  string       `json:"target_date"` // civil date YYYY-MM-DD in station tz
	Timezone    string       `json:"timezone"`
	Metric      Metric       `json:"metric"`
	Unit        Unit         `json:"unit"`
	SourceURL   string       `json:"source_url"`
	Bins        []Bin        `json:"bins"`
	Confidence  float64      `json:"confidence"` // parser confidence in [0,1]
	Status      MarketStatus `json:"status"`
	ResolvesAt  time.Time    `json:"resolves_at"` // end of target day in station tz
	ParsedAt    time.Time    `json:"parsed_at"`
}

// LeadDays returns the number of civil days between now and the target date
// in the market's timezone, floored at zero. Lead 0 means the market
// resolves on the current local day.
func (m Market) LeadDays(now time.Time) int {
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		loc = time.UTC
	}
	target, err := time.ParseInLocation("2006-01-02", m.TargetDate, loc)
	if err != nil {
		return 0
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	days := int(target.Sub(today) / (24 * time.Hour))
	if days < 0 {
		return 0
	}
	return days
}

// Forecast is a best-available ensemble forecast for one (station, date).
// High and Low are nil when no provider returned the field.
type Forecast struct {
	StationCode string    `json:"station_code"`
	TargetDate  string    `json:"target_date"`
	High        *float64  `json:"high,omitempty"` // forecast daily max, °F
	Low         *float64  `json:"low,omitempty"`  // forecast daily min, °F
	SigmaHigh   float64   `json:"sigma_high"`     // std dev of the daily max
	SigmaLow    float64   `json:"sigma_low"`
	Source      string    `json:"source"`
	LeadDays    int       `json:"lead_days"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Observation is the current-day observation state for a station.
type Observation struct {
	StationCode string    `json:"station_code"`
	At          time.Time `json:"at"`
	Current     float64   `json:"current"`    // latest hourly temperature, °F
	MaxSoFar    float64   `json:"max_so_far"` // max over the elapsed hours today
}

// BinProbability pairs a bin's modeled fair probability with its market price.
type BinProbability struct {
	OutcomeID  string
	TokenID    string
	Label      string
	Fair       float64 // model probability in [0,1]
	Price      float64 // market price in [0,1]
	Edge       float64 // Fair - Price
	IsPossible bool    // false once dominated by the observed max-so-far
}

// TradeSignal is a sized trading decision produced by the signal monitor and
// consumed at most once by the executor.
type TradeSignal struct {
	ConditionID string
	TokenID     string
	Slug        string
	BinLabel    string
	Side        Side
	Fair        float64
	Price       float64
	Edge        float64 // friction-adjusted edge at generation time
	SizeUSD     float64
	Reason      string
	Forecast    Forecast
	MaxSoFar    *float64 // set only for day-of DAILY_MAX_TEMP markets
	GeneratedAt time.Time
}

// Key identifies a signal for dedup purposes: at most one pending signal
// per (market, token) pair.
func (s TradeSignal) Key() string {
	return s.ConditionID + "/" + s.TokenID
}

// Position is an inventory row from the venue's data API.
type Position struct {
	ConditionID string  `json:"conditionId"`
	TokenID     string  `json:"asset"`
	Size        float64 `json:"size"`
	AvgPrice    float64 `json:"avgPrice"`
	CurPrice    float64 `json:"curPrice"`
	Redeemable  bool    `json:"redeemable"`
	Title       string  `json:"title"`
}

// PnLPercent returns the unrealized return on the position in percent.
func (p Position) PnLPercent() float64 {
	if p.AvgPrice == 0 {
		return 0
	}
	return (p.CurPrice - p.AvgPrice) / p.AvgPrice * 100
}

// PositionPeak records the best PnL a position has reached, used by the
// trailing stop. Persisted across restarts.
type PositionPeak struct {
	TokenID   string    `json:"token_id"`
	PnLPct    float64   `json:"pnl_pct"`
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CatalogEvent is a weather-tagged event from the venue catalog. Markets
// arrive as raw title and outcome strings; the parser turns them into Market.
type CatalogEvent struct {
	ID          string          `json:"id"`
	Slug        string          `json:"slug"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	EndDate     string          `json:"endDate"`
	Markets     []CatalogMarket `json:"markets"`
}

// CatalogMarket is one outcome of a catalog event. The venue encodes the
// per-market arrays (outcomes, token IDs, prices) as JSON strings.
type CatalogMarket struct {
	ConditionID   string `json:"conditionId"`
	Question      string `json:"question"`
	Slug          string `json:"slug"`
	Outcomes      string `json:"outcomes"`
	ClobTokenIDs  string `json:"clobTokenIds"`
	OutcomePrices string `json:"outcomePrices"`
	Active        bool   `json:"active"`
	Closed        bool   `json:"closed"`
	EndDateISO    string `json:"endDateIso"`
}

// PriceLevel is a single bid or ask level in the order book. Price and Size
// are strings because the venue returns them as strings to preserve
// decimal precision.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Float parses the level's price, returning 0 on malformed input.
func (l PriceLevel) Float() float64 {
	v, err := strconv.ParseFloat(l.Price, 64)
	if err != nil {
		return 0
	}
	return v
}

// SizeFloat parses the level's size, returning 0 on malformed input.
func (l PriceLevel) SizeFloat() float64 {
	v, err := strconv.ParseFloat(l.Size, 64)
	if err != nil {
		return 0
	}
	return v
}

// OrderBook is a point-in-time view of one token's book.
type OrderBook struct {
	AssetID   string       `json:"asset_id"`
	Bids      []PriceLevel `json:"bids"` // best bid first
	Asks      []PriceLevel `json:"asks"` // best ask first
	Timestamp string       `json:"timestamp"`
}

// BestBid returns the top-of-book bid price and size. ok is false when the
// bid side is empty.
func (b OrderBook) BestBid() (price, size float64, ok bool) {
	if len(b.Bids) == 0 {
		return 0, 0, false
	}
	return b.Bids[0].Float(), b.Bids[0].SizeFloat(), true
}

// OrderResult is the venue's reply to an order placement.
type OrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// OpenOrder is a live resting order on the venue.
type OpenOrder struct {
	ID           string `json:"id"`
	Market       string `json:"market"`   // condition ID
	AssetID      string `json:"asset_id"` // token ID
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// SignatureType identifies the wallet signature scheme for venue orders.
type SignatureType int

const (
	SigTypeEOA        SignatureType = 0
	SigTypePolyProxy  SignatureType = 1
	SigTypePolyGnosis SignatureType = 2
)

// WSPriceChange is a single level update inside a price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// WSPriceChangeEvent is an incremental price update from the market channel.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // "price_change"
	Market       string          `json:"market"`     // condition ID
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSBookEvent is a full book snapshot from the market channel.
type WSBookEvent struct {
	EventType string       `json:"event_type"` // "book"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp string       `json:"timestamp"`
}

// WSSubscribeMsg is the initial subscription message for the market channel.
type WSSubscribeMsg struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids,omitempty"`
}

// WSUpdateMsg subscribes or unsubscribes token IDs after connect.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids,omitempty"`
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
}
