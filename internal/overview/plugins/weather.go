package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultWeatherBaseURL = "https://api.open-meteo.com/v1"

// weatherPlugin fetches today's forecast from Open-Meteo. The API is keyless,
// which keeps the plugin zero-config beyond coordinates.
type weatherPlugin struct {
	enabled    bool
	latitude   float64
	longitude  float64
	place      string
	baseURL    string
	httpClient *http.Client
}

func newWeather(enabled bool, settings Settings) (Plugin, error) {
	latitude := settings.Float("latitude", 0)
	longitude := settings.Float("longitude", 0)
	if enabled && latitude == 0 && longitude == 0 {
		return nil, fmt.Errorf("latitude and longitude are required")
	}
	return &weatherPlugin{
		enabled:    enabled,
		latitude:   latitude,
		longitude:  longitude,
		place:      settings.String("place", ""),
		baseURL:    strings.TrimRight(settings.String("base_url", defaultWeatherBaseURL), "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (p *weatherPlugin) Name() string  { return "Weather" }
func (p *weatherPlugin) Enabled() bool { return p.enabled }

type forecastResponse struct {
	Daily struct {
		Time                        []string  `json:"time"`
		TemperatureMax              []float64 `json:"temperature_2m_max"`
		TemperatureMin              []float64 `json:"temperature_2m_min"`
		PrecipitationProbabilityMax []int     `json:"precipitation_probability_max"`
	} `json:"daily"`
}

func (p *weatherPlugin) Context(ctx context.Context) (string, error) {
	query := url.Values{
		"latitude":      {fmt.Sprintf("%.4f", p.latitude)},
		"longitude":     {fmt.Sprintf("%.4f", p.longitude)},
		"daily":         {"temperature_2m_max,temperature_2m_min,precipitation_probability_max"},
		"forecast_days": {"1"},
		"timezone":      {"auto"},
	}
	endpoint := p.baseURL + "/forecast?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("weather: create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("weather: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("weather: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("weather: read response: %w", err)
	}

	var forecast forecastResponse
	if err := json.Unmarshal(body, &forecast); err != nil {
		return "", fmt.Errorf("weather: decode response: %w", err)
	}
	daily := forecast.Daily
	if len(daily.Time) == 0 || len(daily.TemperatureMax) == 0 || len(daily.TemperatureMin) == 0 {
		return "", nil
	}

	where := "Today's weather"
	if p.place != "" {
		where = "Today's weather in " + p.place
	}
	out := fmt.Sprintf("%s: high %.0f°C, low %.0f°C", where, daily.TemperatureMax[0], daily.TemperatureMin[0])
	if len(daily.PrecipitationProbabilityMax) > 0 {
		out += fmt.Sprintf(", %d%% chance of precipitation", daily.PrecipitationProbabilityMax[0])
	}
	return out + ".", nil
}
