// Package market maintains the registry of tradeable weather markets: it
// parses the venue's weather-tagged catalog into structured ladder markets,
// tracks their lifecycle, and caches last-known bin prices.
package market

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"polyweather/pkg/stations"
	"polyweather/pkg/types"
)

// Bin label shapes, most specific first. The venue writes labels like
// "49°F or below", "≤49°F", "50-51°F", "54°F or above", "≥54°F", "52°F".
var (
	reFloor   = regexp.MustCompile(`(?i)(?:≤\s*(-?\d+)|(-?\d+)\s*°?\s*[FC]?\s*or\s+(?:below|lower|less))`)
	reCeiling = regexp.MustCompile(`(?i)(?:≥\s*(-?\d+)|(-?\d+)\s*°?\s*[FC]?\s*or\s+(?:above|higher|more))`)
	reRange   = regexp.MustCompile(`(-?\d+)\s*[-–—]\s*(-?\d+)\s*°?\s*([FC])?`)
	reSingle  = regexp.MustCompile(`^(-?\d+)\s*°?\s*([FC])?$`)

	reDateISO  = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	reDateLong = regexp.MustCompile(`(?i)(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2})`)
)

var monthIndex = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
}

// Parser turns catalog events into Market records with a confidence score.
type Parser struct {
	stations *stations.Registry
	now      func() time.Time
}

func NewParser(reg *stations.Registry) *Parser {
	return &Parser{stations: reg, now: time.Now}
}

// Parse extracts a Market from one catalog event. A nil market with a nil
// error means the event is not a recognizable weather ladder; callers drop
// it silently. Confidence reflects how cleanly the event matched: unknown
// city caps it at 0.6, each unparseable outcome label lowers it.
func (p *Parser) Parse(ev types.CatalogEvent) (*types.Market, error) {
	metric, unit, ok := detectMetric(ev.Title)
	if !ok {
		return nil, nil
	}

	confidence := 1.0

	station, known := p.stations.FindInTitle(ev.Title)
	if !known {
		// Unknown city: keep parsing, but the market only survives an
		// unusually low admission threshold.
		if confidence > 0.6 {
			confidence = 0.6
		}
		station = types.Station{Timezone: "America/New_York", Region: "unknown"}
	}

	date, ok := extractDate(ev.Title, ev.Slug, ev.EndDate, station.Location(), p.now())
	if !ok {
		return nil, nil
	}

	total := 0
	var bins []types.Bin
	for _, m := range ev.Markets {
		if m.Closed && !m.Active {
			continue
		}
		total++
		bin, ok := parseBin(m)
		if !ok {
			continue
		}
		bins = append(bins, bin)
	}
	if len(bins) == 0 {
		return nil, nil
	}
	if total > 0 && len(bins) < total {
		confidence *= float64(len(bins)) / float64(total)
	}

	sortBins(bins)
	if !ladderConsistent(bins) {
		confidence *= 0.5
	}

	loc := station.Location()
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, fmt.Errorf("parse target date %q: %w", date, err)
	}
	resolvesAt := day.AddDate(0, 0, 1).Add(-time.Second)

	return &types.Market{
		ConditionID: eventConditionID(ev),
		Slug:        ev.Slug,
		Title:       ev.Title,
		StationCode: station.Code,
		Region:      station.Region,
		TargetDate:  date,
		Timezone:    station.Timezone,
		Metric:      metric,
		Unit:        unit,
		SourceURL:   station.SourceURL,
		Bins:        bins,
		Confidence:  confidence,
		Status:      types.StatusActive,
		ResolvesAt:  resolvesAt,
		ParsedAt:    p.now(),
	}, nil
}

// eventConditionID keys the registry. Ladder events carry one condition per
// outcome market; the event itself is the tradeable unit here, so the first
// market's condition anchors the key with the event id as fallback.
func eventConditionID(ev types.CatalogEvent) string {
	if len(ev.Markets) > 0 && ev.Markets[0].ConditionID != "" {
		return ev.Markets[0].ConditionID
	}
	return ev.ID
}

func detectMetric(title string) (types.Metric, types.Unit, bool) {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "highest temperature") || strings.Contains(t, "high temp") || strings.Contains(t, "max temperature"):
		return types.MetricDailyMaxTemp, unitFromTitle(t), true
	case strings.Contains(t, "lowest temperature") || strings.Contains(t, "low temp") || strings.Contains(t, "min temperature"):
		return types.MetricDailyMinTemp, unitFromTitle(t), true
	case strings.Contains(t, "rainfall") || strings.Contains(t, "precipitation"):
		return types.MetricRainfall, types.UnitInches, true
	case strings.Contains(t, "snowfall") || strings.Contains(t, "snow"):
		return types.MetricSnowfall, types.UnitInches, true
	default:
		return "", "", false
	}
}

func unitFromTitle(lower string) types.Unit {
	if strings.Contains(lower, "°c") || strings.Contains(lower, "celsius") {
		return types.UnitCelsius
	}
	return types.UnitFahrenheit
}

// extractDate finds the market's target civil date. Explicit ISO dates in
// the slug win; otherwise a "January 14" style phrase is resolved to its
// next occurrence relative to now; the event end date is the last resort.
func extractDate(title, slug, endDate string, loc *time.Location, now time.Time) (string, bool) {
	for _, s := range []string{slug, title} {
		if m := reDateISO.FindStringSubmatch(s); m != nil {
			return fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3]), true
		}
	}
	if m := reDateLong.FindStringSubmatch(title); m != nil {
		month := monthIndex[strings.ToLower(m[1])]
		day, _ := strconv.Atoi(m[2])
		local := now.In(loc)
		candidate := time.Date(local.Year(), month, day, 0, 0, 0, 0, loc)
		// A date that already passed this year refers to next year.
		if candidate.Before(time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)) {
			candidate = candidate.AddDate(1, 0, 0)
		}
		return candidate.Format("2006-01-02"), true
	}
	if endDate != "" {
		if t, err := time.Parse(time.RFC3339, endDate); err == nil {
			return t.In(loc).Format("2006-01-02"), true
		}
	}
	return "", false
}

// parseBin reads one outcome market into a Bin. The label comes from the
// question's trailing clause; the tradable token is the YES side (first
// entry of clobTokenIds).
func parseBin(m types.CatalogMarket) (types.Bin, bool) {
	label := binLabel(m.Question)
	if label == "" {
		return types.Bin{}, false
	}

	tokenID := firstJSONString(m.ClobTokenIDs)
	if tokenID == "" {
		return types.Bin{}, false
	}

	bin := types.Bin{
		OutcomeID: m.ConditionID,
		TokenID:   tokenID,
		Label:     label,
	}

	if mm := reFloor.FindStringSubmatch(label); mm != nil {
		v := pickGroup(mm)
		bin.IsFloor = true
		bin.Upper = &v
		return bin, true
	}
	if mm := reCeiling.FindStringSubmatch(label); mm != nil {
		v := pickGroup(mm)
		bin.IsCeiling = true
		bin.Lower = &v
		return bin, true
	}
	if mm := reRange.FindStringSubmatch(label); mm != nil {
		lo, _ := strconv.ParseFloat(mm[1], 64)
		hi, _ := strconv.ParseFloat(mm[2], 64)
		if hi < lo {
			return types.Bin{}, false
		}
		bin.Lower = &lo
		bin.Upper = &hi
		return bin, true
	}
	if mm := reSingle.FindStringSubmatch(strings.TrimSpace(label)); mm != nil {
		v, _ := strconv.ParseFloat(mm[1], 64)
		bin.Lower = &v
		bin.Upper = &v
		return bin, true
	}
	return types.Bin{}, false
}

// binLabel strips the question boilerplate down to the bin clause, e.g.
// "Will the highest temperature in NYC on January 14 be 52-53°F?" → "52-53°F".
func binLabel(question string) string {
	q := strings.TrimSuffix(strings.TrimSpace(question), "?")
	if i := strings.LastIndex(strings.ToLower(q), " be "); i >= 0 {
		return strings.TrimSpace(q[i+4:])
	}
	return q
}

// pickGroup returns the first non-empty capture as a float.
func pickGroup(mm []string) float64 {
	for _, g := range mm[1:] {
		if g != "" {
			v, _ := strconv.ParseFloat(g, 64)
			return v
		}
	}
	return 0
}

// firstJSONString decodes a JSON array literal like `["123","456"]` and
// returns its first element.
func firstJSONString(raw string) string {
	var arr []string
	if err := json.Unmarshal([]byte(raw), &arr); err != nil || len(arr) == 0 {
		return ""
	}
	return arr[0]
}

// sortBins orders the ladder: floor first, ranges ascending by lower
// bound, ceiling last.
func sortBins(bins []types.Bin) {
	rank := func(b types.Bin) float64 {
		switch {
		case b.IsFloor:
			return -1e9
		case b.IsCeiling:
			return 1e9
		default:
			return *b.Lower
		}
	}
	sort.SliceStable(bins, func(i, j int) bool {
		return rank(bins[i]) < rank(bins[j])
	})
}

// ladderConsistent checks the sorted ladder covers a sane progression:
// at most one floor and one ceiling, and range bins strictly increasing.
func ladderConsistent(bins []types.Bin) bool {
	floors, ceilings := 0, 0
	prevUpper := -1e18
	for _, b := range bins {
		switch {
		case b.IsFloor:
			floors++
			if b.Upper != nil {
				prevUpper = *b.Upper
			}
		case b.IsCeiling:
			ceilings++
		default:
			if b.Lower == nil || b.Upper == nil || *b.Lower <= prevUpper {
				return false
			}
			prevUpper = *b.Upper
		}
	}
	return floors <= 1 && ceilings <= 1
}
