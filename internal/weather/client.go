package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"passivac/internal/httputil"
)

const (
	// DefaultBaseURL is the open-meteo forecast endpoint.
	DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

	// requestTimeout bounds a single forecast request.
	requestTimeout = 10 * time.Second

	hourlyFields = "temperature_2m,shortwave_radiation,direct_radiation,cloud_cover,wind_speed_10m"
)

// Client fetches an hourly outdoor forecast for a location.
type Client interface {
	Fetch(ctx context.Context, loc Location) (*Forecast, error)
}

// OpenMeteoClient fetches forecasts from the open-meteo API.
type OpenMeteoClient struct {
	baseURL string
	client  *http.Client
}

func NewOpenMeteoClient(baseURL string) *OpenMeteoClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OpenMeteoClient{
		baseURL: baseURL,
		client:  httputil.NewClientWithTimeout(requestTimeout),
	}
}

// hourlyResponse mirrors the open-meteo response. Arrays are index-aligned
// and individual elements may be null.
type hourlyResponse struct {
	Hourly struct {
		Time               []string   `json:"time"`
		Temperature2m      []*float64 `json:"temperature_2m"`
		ShortwaveRadiation []*float64 `json:"shortwave_radiation"`
		DirectRadiation    []*float64 `json:"direct_radiation"`
		CloudCover         []*float64 `json:"cloud_cover"`
		WindSpeed10m       []*float64 `json:"wind_speed_10m"`
	} `json:"hourly"`
}

// Fetch requests a 2-day hourly forecast and returns up to the first 48 hours.
func (c *OpenMeteoClient) Fetch(ctx context.Context, loc Location) (*Forecast, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
	q.Set("hourly", hourlyFields)
	q.Set("forecast_days", "2")
	reqURL := c.baseURL + "?" + q.Encode()

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch forecast: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("fetch forecast: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch forecast: status %d: %s", resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = requestTimeout
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	var data hourlyResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal forecast: %w", err)
	}
	return buildForecast(data, time.Now()), nil
}

func buildForecast(data hourlyResponse, fetchedAt time.Time) *Forecast {
	h := data.Hourly
	n := len(h.Time)
	if n > MaxHours {
		n = MaxHours
	}

	hours := make([]HourlySample, 0, n)
	for i := 0; i < n; i++ {
		// open-meteo encodes hourly timestamps without zone or seconds
		ts, err := time.Parse("2006-01-02T15:04", h.Time[i])
		if err != nil {
			continue
		}
		hours = append(hours, HourlySample{
			Time:            ts,
			OutdoorTemp:     at(h.Temperature2m, i),
			SolarRadiation:  at(h.ShortwaveRadiation, i),
			DirectRadiation: at(h.DirectRadiation, i),
			CloudCover:      at(h.CloudCover, i),
			WindSpeed:       at(h.WindSpeed10m, i),
		})
	}

	return &Forecast{FetchedAt: fetchedAt, Hours: hours}
}

func at(vs []*float64, i int) *float64 {
	if i >= len(vs) {
		return nil
	}
	return vs[i]
}
