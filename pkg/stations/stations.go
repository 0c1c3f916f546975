// Package stations holds the configured weather station registry.
//
// Stations are immutable records loaded once at startup. Each maps a city
// name (as it appears in market titles) to the observation station whose
// official climate report resolves that city's markets. Lookups are by
// station code or by city name.
package stations

import (
	"fmt"
	"strings"

	"polyweather/pkg/types"
)

// defaults is the built-in station set covering the cities the venue lists
// daily weather markets for. The source URLs point at the NWS climate report
// pages used for resolution.
var defaults = []types.Station{
	{
		Code: "KNYC", Name: "New York Central Park", City: "NYC",
		Region: "northeast", Timezone: "America/New_York",
		Lat: 40.779, Lon: -73.969,
		SourceURL: "https://forecast.weather.gov/product.php?site=OKX&product=CLI&issuedby=NYC",
	},
	{
		Code: "KPHL", Name: "Philadelphia Intl Airport", City: "Philadelphia",
		Region: "northeast", Timezone: "America/New_York",
		Lat: 39.873, Lon: -75.227,
		SourceURL: "https://forecast.weather.gov/product.php?site=PHI&product=CLI&issuedby=PHL",
	},
	{
		Code: "KMDW", Name: "Chicago Midway Airport", City: "Chicago",
		Region: "midwest", Timezone: "America/Chicago",
		Lat: 41.786, Lon: -87.752,
		SourceURL: "https://forecast.weather.gov/product.php?site=LOT&product=CLI&issuedby=MDW",
	},
	{
		Code: "KAUS", Name: "Austin-Bergstrom Intl Airport", City: "Austin",
		Region: "south", Timezone: "America/Chicago",
		Lat: 30.183, Lon: -97.680,
		SourceURL: "https://forecast.weather.gov/product.php?site=EWX&product=CLI&issuedby=AUS",
	},
	{
		Code: "KMIA", Name: "Miami Intl Airport", City: "Miami",
		Region: "south", Timezone: "America/New_York",
		Lat: 25.788, Lon: -80.317,
		SourceURL: "https://forecast.weather.gov/product.php?site=MFL&product=CLI&issuedby=MIA",
	},
	{
		Code: "KATL", Name: "Atlanta Hartsfield-Jackson Intl", City: "Atlanta",
		Region: "south", Timezone: "America/New_York",
		Lat: 33.630, Lon: -84.442,
		SourceURL: "https://forecast.weather.gov/product.php?site=FFC&product=CLI&issuedby=ATL",
	},
	{
		Code: "KDEN", Name: "Denver Intl Airport", City: "Denver",
		Region: "mountain", Timezone: "America/Denver",
		Lat: 39.847, Lon: -104.656,
		SourceURL: "https://forecast.weather.gov/product.php?site=BOU&product=CLI&issuedby=DEN",
	},
	{
		Code: "KLAX", Name: "Los Angeles Intl Airport", City: "Los Angeles",
		Region: "west", Timezone: "America/Los_Angeles",
		Lat: 33.938, Lon: -118.389,
		SourceURL: "https://forecast.weather.gov/product.php?site=LOX&product=CLI&issuedby=LAX",
	},
	{
		Code: "KSEA", Name: "Seattle-Tacoma Intl Airport", City: "Seattle",
		Region: "west", Timezone: "America/Los_Angeles",
		Lat: 47.444, Lon: -122.314,
		SourceURL: "https://forecast.weather.gov/product.php?site=SEW&product=CLI&issuedby=SEA",
	},
}

// cityAliases maps alternate spellings seen in market titles to the
// canonical city name.
var cityAliases = map[string]string{
	"new york":      "NYC",
	"new york city": "NYC",
	"la":            "Los Angeles",
	"philly":        "Philadelphia",
}

// Registry provides station lookups by code and by city.
type Registry struct {
	byCode map[string]types.Station
	byCity map[string]types.Station
}

// NewRegistry builds a registry from the given stations, or from the
// built-in defaults when none are supplied.
func NewRegistry(list []types.Station) *Registry {
	if len(list) == 0 {
		list = defaults
	}
	r := &Registry{
		byCode: make(map[string]types.Station, len(list)),
		byCity: make(map[string]types.Station, len(list)),
	}
	for _, s := range list {
		r.byCode[strings.ToUpper(s.Code)] = s
		r.byCity[strings.ToLower(s.City)] = s
	}
	return r
}

// ByCode returns the station with the given code.
func (r *Registry) ByCode(code string) (types.Station, error) {
	s, ok := r.byCode[strings.ToUpper(code)]
	if !ok {
		return types.Station{}, fmt.Errorf("unknown station code %q", code)
	}
	return s, nil
}

// ByCity returns the station for a city name, resolving known aliases.
// Matching is case-insensitive.
func (r *Registry) ByCity(city string) (types.Station, bool) {
	key := strings.ToLower(strings.TrimSpace(city))
	if canon, ok := cityAliases[key]; ok {
		key = strings.ToLower(canon)
	}
	s, ok := r.byCity[key]
	return s, ok
}

// FindInTitle scans a market title for any known city name and returns the
// matching station. Matches are whole-word, so the short alias "la" never
// fires inside "Dallas" or "Orlando". Longer city names are preferred so
// "New York City" does not match an alias prefix of another city.
func (r *Registry) FindInTitle(title string) (types.Station, bool) {
	lower := strings.ToLower(title)

	var best types.Station
	var bestLen int
	for city, s := range r.byCity {
		if containsWord(lower, city) && len(city) > bestLen {
			best, bestLen = s, len(city)
		}
	}
	for alias, canon := range cityAliases {
		if containsWord(lower, alias) && len(alias) > bestLen {
			if s, ok := r.byCity[strings.ToLower(canon)]; ok {
				best, bestLen = s, len(alias)
			}
		}
	}
	return best, bestLen > 0
}

// containsWord reports whether sub occurs in s bounded by non-word
// characters (or the ends of s) on both sides.
func containsWord(s, sub string) bool {
	if sub == "" {
		return false
	}
	for i := 0; i+len(sub) <= len(s); {
		j := strings.Index(s[i:], sub)
		if j < 0 {
			return false
		}
		j += i
		end := j + len(sub)
		if (j == 0 || !isWordChar(s[j-1])) && (end == len(s) || !isWordChar(s[end])) {
			return true
		}
		i = j + 1
	}
	return false
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// All returns every registered station.
func (r *Registry) All() []types.Station {
	out := make([]types.Station, 0, len(r.byCode))
	for _, s := range r.byCode {
		out = append(out, s)
	}
	return out
}
