// Package forecast provides ensemble weather forecasts and current-day
// observations for the configured stations.
//
// Two independent providers (Open-Meteo and the NWS gridpoint API) are
// queried in parallel and blended fail-soft: if one returns nothing the
// other stands alone, if both fail there is no forecast. Uncertainty is a
// lead-day baseline widened by provider disagreement. Results are cached
// with a 30 minute TTL keyed by (station, date).
package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ProviderResult is one provider's view of a (lat, lon, date) daily forecast.
// High and Low are nil when the provider has no value for the field.
type ProviderResult struct {
	High   *float64
	Low    *float64
	Source string
}

// Provider fetches a daily forecast for a coordinate and target date.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, lat, lon float64, date string) (*ProviderResult, error)
}

// ObservationProvider returns hourly temperatures for the current civil day
// at a coordinate, in the given timezone, oldest hour first.
type ObservationProvider interface {
	HourlyToday(ctx context.Context, lat, lon float64, tz string) ([]float64, error)
}

func newRestClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
}

// ————————————————————————————————————————————————————————————————————————
// Open-Meteo
// ————————————————————————————————————————————————————————————————————————

// OpenMeteo queries the free Open-Meteo forecast API. It serves both the
// daily forecast and the hourly observation feed.
type OpenMeteo struct {
	http *resty.Client
}

func NewOpenMeteo() *OpenMeteo {
	return &OpenMeteo{http: newRestClient("https://api.open-meteo.com", 10*time.Second)}
}

func (o *OpenMeteo) Name() string { return "open-meteo" }

type openMeteoDaily struct {
	Daily struct {
		Time     []string  `json:"time"`
		TempMax  []float64 `json:"temperature_2m_max"`
		TempMin  []float64 `json:"temperature_2m_min"`
	} `json:"daily"`
}

// Fetch returns the daily high/low for the target date, or nil when the
// date is outside the provider's horizon.
func (o *OpenMeteo) Fetch(ctx context.Context, lat, lon float64, date string) (*ProviderResult, error) {
	var out openMeteoDaily
	resp, err := o.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":         fmt.Sprintf("%.4f", lat),
			"longitude":        fmt.Sprintf("%.4f", lon),
			"daily":            "temperature_2m_max,temperature_2m_min",
			"temperature_unit": "fahrenheit",
			"timezone":         "auto",
			"forecast_days":    "16",
		}).
		SetResult(&out).
		Get("/v1/forecast")
	if err != nil {
		return nil, fmt.Errorf("open-meteo fetch: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("open-meteo status %d", resp.StatusCode())
	}

	for i, d := range out.Daily.Time {
		if d != date {
			continue
		}
		res := &ProviderResult{Source: o.Name()}
		if i < len(out.Daily.TempMax) {
			v := out.Daily.TempMax[i]
			res.High = &v
		}
		if i < len(out.Daily.TempMin) {
			v := out.Daily.TempMin[i]
			res.Low = &v
		}
		return res, nil
	}
	return nil, nil // date out of horizon, not an error
}

type openMeteoHourly struct {
	Hourly struct {
		Time []string  `json:"time"`
		Temp []float64 `json:"temperature_2m"`
	} `json:"hourly"`
}

// HourlyToday returns today's hourly temperatures up to the current local
// hour. Future hours in the response are dropped.
func (o *OpenMeteo) HourlyToday(ctx context.Context, lat, lon float64, tz string) ([]float64, error) {
	var out openMeteoHourly
	resp, err := o.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":         fmt.Sprintf("%.4f", lat),
			"longitude":        fmt.Sprintf("%.4f", lon),
			"hourly":           "temperature_2m",
			"temperature_unit": "fahrenheit",
			"timezone":         tz,
			"forecast_days":    "1",
			"past_days":        "0",
		}).
		SetResult(&out).
		Get("/v1/forecast")
	if err != nil {
		return nil, fmt.Errorf("open-meteo hourly: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("open-meteo hourly status %d", resp.StatusCode())
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)

	var temps []float64
	for i, ts := range out.Hourly.Time {
		if i >= len(out.Hourly.Temp) {
			break
		}
		t, err := time.ParseInLocation("2006-01-02T15:04", ts, loc)
		if err != nil {
			continue
		}
		if t.After(now) {
			break
		}
		temps = append(temps, out.Hourly.Temp[i])
	}
	return temps, nil
}

// ————————————————————————————————————————————————————————————————————————
// NWS gridpoints
// ————————————————————————————————————————————————————————————————————————

// NWS queries the National Weather Service API. The points endpoint maps a
// coordinate to a gridpoint forecast URL; that mapping is cached per
// coordinate since it never changes.
type NWS struct {
	http     *resty.Client
	gridURLs map[string]string
}

func NewNWS() *NWS {
	c := newRestClient("https://api.weather.gov", 15*time.Second).
		SetHeader("User-Agent", "polyweather (ops@polyweather.io)").
		SetHeader("Accept", "application/geo+json")
	return &NWS{http: c, gridURLs: make(map[string]string)}
}

func (n *NWS) Name() string { return "nws" }

type nwsPoints struct {
	Properties struct {
		Forecast string `json:"forecast"`
	} `json:"properties"`
}

type nwsForecast struct {
	Properties struct {
		Periods []struct {
			StartTime   string  `json:"startTime"`
			IsDaytime   bool    `json:"isDaytime"`
			Temperature float64 `json:"temperature"`
		} `json:"periods"`
	} `json:"properties"`
}

func (n *NWS) Fetch(ctx context.Context, lat, lon float64, date string) (*ProviderResult, error) {
	gridURL, err := n.forecastURL(ctx, lat, lon)
	if err != nil {
		return nil, err
	}

	var out nwsForecast
	resp, err := n.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(gridURL)
	if err != nil {
		return nil, fmt.Errorf("nws forecast: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("nws forecast status %d", resp.StatusCode())
	}

	res := &ProviderResult{Source: n.Name()}
	for _, p := range out.Properties.Periods {
		start, err := time.Parse(time.RFC3339, p.StartTime)
		if err != nil || start.Format("2006-01-02") != date {
			continue
		}
		v := p.Temperature
		if p.IsDaytime {
			res.High = &v
		} else {
			res.Low = &v
		}
	}
	if res.High == nil && res.Low == nil {
		return nil, nil
	}
	return res, nil
}

func (n *NWS) forecastURL(ctx context.Context, lat, lon float64) (string, error) {
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)
	if u, ok := n.gridURLs[key]; ok {
		return u, nil
	}

	var out nwsPoints
	resp, err := n.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/points/%s", key))
	if err != nil {
		return "", fmt.Errorf("nws points: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("nws points status %d", resp.StatusCode())
	}
	if out.Properties.Forecast == "" {
		return "", fmt.Errorf("nws points: no forecast url for %s", key)
	}
	n.gridURLs[key] = out.Properties.Forecast
	return out.Properties.Forecast, nil
}

var _ Provider = (*OpenMeteo)(nil)
var _ Provider = (*NWS)(nil)
var _ ObservationProvider = (*OpenMeteo)(nil)
