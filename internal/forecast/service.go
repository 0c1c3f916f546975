package forecast

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"polyweather/pkg/types"
)

const (
	forecastTTL = 30 * time.Minute

	// defaultObservationTTL backs the max-so-far cache when no poll period
	// is configured.
	defaultObservationTTL = 5 * time.Minute
)

type cachedForecast struct {
	forecast *types.Forecast
	fetched  time.Time
}

type cachedMax struct {
	value   float64
	fetched time.Time
}

// Service produces ensemble forecasts and day-of observations, with
// per-(station, date) caching.
type Service struct {
	providers []Provider
	obs       ObservationProvider
	obsTTL    time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	forecasts map[string]cachedForecast // key: station|date
	maxSoFar  map[string]cachedMax      // key: station code
	now       func() time.Time          // injectable for tests
}

// NewService wires the given forecast providers and observation source.
// obsPoll sets the day-of observation cache lifetime; zero or negative
// falls back to the default.
func NewService(providers []Provider, obs ObservationProvider, obsPoll time.Duration, logger *slog.Logger) *Service {
	if obsPoll <= 0 {
		obsPoll = defaultObservationTTL
	}
	return &Service{
		providers: providers,
		obs:       obs,
		obsTTL:    obsPoll,
		logger:    logger.With("component", "forecast"),
		forecasts: make(map[string]cachedForecast),
		maxSoFar:  make(map[string]cachedMax),
		now:       time.Now,
	}
}

// GetEnsembleForecast returns the blended forecast for (station, date), or
// nil when no provider has data. Providers are queried in parallel and
// failures are absorbed: an error from one provider only narrows the
// ensemble.
func (s *Service) GetEnsembleForecast(ctx context.Context, station types.Station, date string) (*types.Forecast, error) {
	key := station.Code + "|" + date

	s.mu.Lock()
	if c, ok := s.forecasts[key]; ok && s.now().Sub(c.fetched) < forecastTTL {
		s.mu.Unlock()
		return c.forecast, nil
	}
	s.mu.Unlock()

	results := make([]*ProviderResult, len(s.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range s.providers {
		i, p := i, p
		g.Go(func() error {
			r, err := p.Fetch(gctx, station.Lat, station.Lon, date)
			if err != nil {
				s.logger.Warn("provider fetch failed", "provider", p.Name(), "station", station.Code, "error", err)
				return nil // fail-soft
			}
			results[i] = r
			return nil
		})
	}
	g.Wait()

	f := s.blend(station, date, results)

	// Provider outages are not cached; the next call retries.
	if f != nil {
		s.mu.Lock()
		s.forecasts[key] = cachedForecast{forecast: f, fetched: s.now()}
		s.mu.Unlock()
	}

	return f, nil
}

// blend averages the defined fields across providers and derives sigma from
// the lead-day baseline plus provider spread.
func (s *Service) blend(station types.Station, date string, results []*ProviderResult) *types.Forecast {
	var highs, lows []float64
	var sources []string
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.High != nil {
			highs = append(highs, *r.High)
		}
		if r.Low != nil {
			lows = append(lows, *r.Low)
		}
		sources = append(sources, r.Source)
	}
	if len(highs) == 0 && len(lows) == 0 {
		return nil
	}

	lead := leadDays(station, date, s.now())
	f := &types.Forecast{
		StationCode: station.Code,
		TargetDate:  date,
		LeadDays:    lead,
		RetrievedAt: s.now(),
	}
	if len(sources) > 1 {
		f.Source = "Ensemble(" + strings.Join(sources, "+") + ")"
	} else {
		f.Source = sources[0]
	}
	if len(highs) > 0 {
		m := mean(highs)
		f.High = &m
		f.SigmaHigh = ensembleSigma(lead, highs)
	}
	if len(lows) > 0 {
		m := mean(lows)
		f.Low = &m
		f.SigmaLow = ensembleSigma(lead, lows)
	}
	return f
}

// GetDailyMaxSoFar returns the maximum hourly temperature observed so far
// today at the station, or nil before any full hour has elapsed.
func (s *Service) GetDailyMaxSoFar(ctx context.Context, station types.Station) (*float64, error) {
	s.mu.Lock()
	if c, ok := s.maxSoFar[station.Code]; ok && s.now().Sub(c.fetched) < s.obsTTL {
		v := c.value
		s.mu.Unlock()
		return &v, nil
	}
	s.mu.Unlock()

	temps, err := s.obs.HourlyToday(ctx, station.Lat, station.Lon, station.Timezone)
	if err != nil {
		return nil, err
	}
	if len(temps) == 0 {
		return nil, nil
	}

	max := temps[0]
	for _, t := range temps[1:] {
		if t > max {
			max = t
		}
	}

	s.mu.Lock()
	s.maxSoFar[station.Code] = cachedMax{value: max, fetched: s.now()}
	s.mu.Unlock()

	return &max, nil
}

// leadDays counts whole civil days from the current local day to the target
// date in the station's timezone, floored at zero.
func leadDays(station types.Station, date string, now time.Time) int {
	loc := station.Location()
	target, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return 0
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	d := int(target.Sub(today) / (24 * time.Hour))
	if d < 0 {
		return 0
	}
	return d
}

func mean(vs []float64) float64 {
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
