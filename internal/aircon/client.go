package aircon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"passivac/internal/httputil"
)

const requestTimeout = 15 * time.Second

// CloudClient talks to the manufacturer's cloud REST API. The API issues a
// session token on login; tokens expire server-side, so a 401 on any call
// triggers a single transparent re-login.
type CloudClient struct {
	baseURL  string
	email    string
	password string
	deviceID string
	client   *http.Client
	logger   *zap.Logger

	mu    sync.Mutex
	token string
}

func NewCloudClient(baseURL, email, password, deviceID string, logger *zap.Logger) *CloudClient {
	return &CloudClient{
		baseURL:  baseURL,
		email:    email,
		password: password,
		deviceID: deviceID,
		client:   httputil.NewClientWithTimeout(requestTimeout),
		logger:   logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type deviceState struct {
	Power           *bool    `json:"power"`
	OperationMode   *int     `json:"operationMode"`
	RoomTemperature *float64 `json:"roomTemperature"`
	SetTemperature  *float64 `json:"setTemperature"`
	Prohibit        *bool    `json:"prohibit"`
}

type commandRequest struct {
	Power          bool    `json:"power"`
	OperationMode  int     `json:"operationMode"`
	SetTemperature float64 `json:"setTemperature"`
	EffectiveFlags int64   `json:"effectiveFlags"`
}

// State implements Client.
func (c *CloudClient) State(ctx context.Context) (DeviceSnapshot, error) {
	var state deviceState
	if err := c.do(ctx, http.MethodGet, "/api/v1/devices/"+c.deviceID, nil, &state); err != nil {
		return DeviceSnapshot{}, fmt.Errorf("fetching device state: %w", err)
	}

	snap := DeviceSnapshot{
		Power:          state.Power,
		SensorTemp:     state.RoomTemperature,
		SetTemperature: state.SetTemperature,
		Prohibit:       state.Prohibit,
		FetchedAt:      time.Now(),
	}
	if state.OperationMode != nil {
		mode := OperationMode(*state.OperationMode)
		snap.OperationMode = &mode
	}
	return snap, nil
}

// Send implements Client.
func (c *CloudClient) Send(ctx context.Context, update DeviceUpdate, flags EffectiveFlags) error {
	cmd := commandRequest{
		Power:          update.Power,
		OperationMode:  int(update.OperationMode),
		SetTemperature: update.SetTemperature,
		EffectiveFlags: int64(flags),
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/devices/"+c.deviceID+"/set", cmd, nil); err != nil {
		return fmt.Errorf("sending device command: %w", err)
	}
	c.logger.Debug("command accepted",
		zap.Bool("power", update.Power),
		zap.Stringer("mode", update.OperationMode),
		zap.Float64("setpoint", update.SetTemperature),
		zap.Int64("flags", int64(flags)))
	return nil
}

func (c *CloudClient) login(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{Email: c.email, Password: c.password})
	if err != nil {
		return fmt.Errorf("encoding login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login returned status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	if lr.Token == "" {
		return fmt.Errorf("login response contained no token")
	}

	c.mu.Lock()
	c.token = lr.Token
	c.mu.Unlock()
	c.logger.Debug("logged in to AC cloud")
	return nil
}

// do runs one authenticated API call with retries. Transient failures
// (network errors, 429, 5xx) back off and retry; a 401 invalidates the
// session and re-logs in once; any other 4xx fails immediately.
func (c *CloudClient) do(ctx context.Context, method, path string, body, out any) error {
	operation := func() error {
		if err := c.ensureToken(ctx); err != nil {
			return err
		}

		status, data, err := c.roundTrip(ctx, method, path, body)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			c.logger.Debug("session expired, logging in again")
			c.invalidateToken()
			if err := c.login(ctx); err != nil {
				return err
			}
			status, data, err = c.roundTrip(ctx, method, path, body)
			if err != nil {
				return err
			}
		}

		if status >= 500 || status == http.StatusTooManyRequests {
			return fmt.Errorf("cloud API returned status %d", status)
		}
		if status != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("cloud API returned status %d", status))
		}
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
			}
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

func (c *CloudClient) roundTrip(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, backoff.Permanent(fmt.Errorf("encoding request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.currentToken())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (c *CloudClient) ensureToken(ctx context.Context) error {
	if c.currentToken() != "" {
		return nil
	}
	return c.login(ctx)
}

func (c *CloudClient) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *CloudClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
