// Package weather maps real-world weather conditions onto ambient warmth
// simulation modifiers. Storms and cold push darkness accrual up; clear warm
// weather boosts warmth gain. The client is optional: without an API key the
// simulation runs on neutral modifiers.
package weather

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultLocation = "Reykjavik,IS"
	cacheTTL        = 5 * time.Minute
	maxBackoff      = 10 * time.Minute
)

// Conditions is the parsed view of one observation.
type Conditions struct {
	Temp        float64 `json:"temp"` // Celsius
	Description string  `json:"description"`
	WindSpeed   float64 `json:"wind_speed"` // m/s
	IsStorm     bool    `json:"is_storm"`
	IsSnow      bool    `json:"is_snow"`
	IsRain      bool    `json:"is_rain"`
}

// Client polls OpenWeatherMap for one location. Observations are cached and
// failures back off exponentially; a stale observation beats none.
type Client struct {
	apiKey   string
	location string
	http     *http.Client

	mu       sync.Mutex
	cached   *Conditions
	cachedAt time.Time
	failedAt time.Time
	backoff  time.Duration
}

// NewClient creates a weather client, or nil when no key is configured.
func NewClient(apiKey, location string) *Client {
	if apiKey == "" {
		return nil
	}
	if location == "" {
		location = defaultLocation
	}
	return &Client{
		apiKey:   apiKey,
		location: location,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch returns current conditions, served from cache while fresh. During a
// failure backoff window the last known conditions are returned if any.
func (c *Client) Fetch() (*Conditions, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.cachedAt) < cacheTTL {
		return c.cached, nil
	}
	if c.backoff > 0 && time.Since(c.failedAt) < c.backoff {
		if c.cached != nil {
			return c.cached, nil
		}
		return nil, fmt.Errorf("weather backoff, %s remaining", (c.backoff - time.Since(c.failedAt)).Round(time.Second))
	}

	obs, err := c.observe()
	if err != nil {
		c.failedAt = time.Now()
		switch {
		case c.backoff == 0:
			c.backoff = time.Minute
		case c.backoff < maxBackoff:
			c.backoff *= 2
		}
		if c.cached != nil {
			return c.cached, nil
		}
		return nil, err
	}

	c.cached = obs
	c.cachedAt = time.Now()
	c.backoff = 0
	return obs, nil
}

// owmPayload is the subset of the OpenWeatherMap response we read.
type owmPayload struct {
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

func (c *Client) observe() (*Conditions, error) {
	q := url.Values{}
	q.Set("q", c.location)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")

	resp, err := c.http.Get("https://api.openweathermap.org/data/2.5/weather?" + q.Encode())
	if err != nil {
		return nil, fmt.Errorf("weather fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather fetch: status %d", resp.StatusCode)
	}

	var payload owmPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("weather parse: %w", err)
	}

	obs := &Conditions{
		Temp:      payload.Main.Temp,
		WindSpeed: payload.Wind.Speed,
	}
	if len(payload.Weather) > 0 {
		obs.Description = payload.Weather[0].Description
		kind := strings.ToLower(payload.Weather[0].Main)
		obs.IsRain = kind == "rain" || kind == "drizzle"
		obs.IsSnow = kind == "snow"
		obs.IsStorm = kind == "thunderstorm" || obs.WindSpeed > 15
	}

	slog.Debug("weather observed", "temp", obs.Temp, "desc", obs.Description)
	return obs, nil
}

// Modifier scales the zone ambient rates applied each warmth tick.
type Modifier struct {
	WarmthRateScale   float64 `json:"warmth_rate_scale"`
	DarknessRateScale float64 `json:"darkness_rate_scale"`
	Description       string  `json:"description"`
}

// Neutral is the modifier used when no weather data is available.
func Neutral() Modifier {
	return Modifier{WarmthRateScale: 1.0, DarknessRateScale: 1.0, Description: "still air"}
}

// MapToModifier converts real conditions into simulation modifiers.
func MapToModifier(c *Conditions) Modifier {
	m := Neutral()
	if c == nil {
		return m
	}
	m.Description = c.Description

	// Warm clear weather accelerates warmth recovery, cold slows it.
	switch {
	case c.Temp > 25:
		m.WarmthRateScale = 1.3
	case c.Temp > 15:
		m.WarmthRateScale = 1.1
	case c.Temp < 0:
		m.WarmthRateScale = 0.7
	case c.Temp < 10:
		m.WarmthRateScale = 0.9
	}

	// Storms and snow thicken the darkness.
	if c.IsStorm {
		m.DarknessRateScale = 1.5
	} else if c.IsSnow {
		m.DarknessRateScale = 1.3
	} else if c.IsRain {
		m.DarknessRateScale = 1.15
	}

	return m
}
