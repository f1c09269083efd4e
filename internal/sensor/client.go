package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"passivac/internal/httputil"
)

// Reading is one observation from the external room sensor.
type Reading struct {
	RoomTemp   float64
	Humidity   *float64
	ObservedAt time.Time
}

// Client fetches the authoritative room temperature.
type Client interface {
	FetchTemperature(ctx context.Context) (Reading, error)
}

// HTTPClient reads a JSON endpoint shaped {"temperature": x, "humidity": y}.
// Any sensor brand exposing that shape works; a different brand is a new
// Client implementation.
type HTTPClient struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPClient(url, token string) *HTTPClient {
	return &HTTPClient{
		url:    url,
		token:  token,
		client: httputil.NewClient(),
	}
}

type temperatureResponse struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

func (c *HTTPClient) FetchTemperature(ctx context.Context) (Reading, error) {
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch temperature: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("fetch temperature: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch temperature: status %d: %s", resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return Reading{}, err
	}

	var data temperatureResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return Reading{}, fmt.Errorf("unmarshal reading: %w", err)
	}
	if data.Temperature == nil {
		return Reading{}, fmt.Errorf("sensor returned no temperature")
	}

	return Reading{
		RoomTemp:   *data.Temperature,
		Humidity:   data.Humidity,
		ObservedAt: time.Now(),
	}, nil
}
