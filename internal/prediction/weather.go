package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

const defaultWeatherTimeout = 5 * time.Second

// Conditions is the current weather at a location.
type Conditions struct {
	Condition                string  `json:"condition"`
	TemperatureC             float64 `json:"temperature"`
	PrecipitationProbability float64 `json:"precipitation_probability"`
}

// Severe reports conditions that slow every mode of travel.
func (c Conditions) Severe() bool {
	switch strings.ToLower(c.Condition) {
	case "snow", "storm", "thunderstorm":
		return true
	}
	return false
}

// Multiplier is how much the weather inflates travel delays.
func (c Conditions) Multiplier() float64 {
	m := 1 + 0.2*clamp(c.PrecipitationProbability, 0, 1)
	if c.Severe() {
		m += 0.1
	}
	return m
}

// WeatherProvider reports current conditions.
type WeatherProvider interface {
	CurrentConditions(ctx context.Context, loc scheduler.LatLng) (Conditions, error)
}

// WeatherClient calls a JSON weather endpoint:
// GET {base}/v1/current?lat=..&lng=..&key=..
type WeatherClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *logging.Logger
}

func NewWeatherClient(baseURL, apiKey string, logger *logging.Logger) *WeatherClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &WeatherClient{
		httpClient: &http.Client{Timeout: defaultWeatherTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		logger:     logger,
	}
}

func (c *WeatherClient) CurrentConditions(ctx context.Context, loc scheduler.LatLng) (Conditions, error) {
	ctx, span := tracer.Start(ctx, "prediction.weather")
	defer span.End()

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(loc.Lat, 'f', 6, 64))
	q.Set("lng", strconv.FormatFloat(loc.Lng, 'f', 6, 64))
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	var out Conditions
	if err := c.doJSON(ctx, "/v1/current?"+q.Encode(), &out); err != nil {
		span.RecordError(err)
		return Conditions{}, fmt.Errorf("prediction: current conditions: %w", err)
	}
	return out, nil
}

func (c *WeatherClient) doJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(body)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		c.logger.Warn("weather API non-2xx response", "status", resp.StatusCode, "body", msg)
		return fmt.Errorf("weather API returned %d: %s", resp.StatusCode, msg)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
