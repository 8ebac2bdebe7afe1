package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	loginPath       = "/api/auth/login"
	performancePath = "/api/performance"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Client fetches performance records from the NMS. The session token is
// obtained lazily and renewed once when the NMS answers 401.
type Client struct {
	httpClient *resty.Client
	username   string
	password   string
	logger     *zap.Logger

	mu    sync.Mutex
	token string
}

func NewClient(baseURL, username, password string, timeout time.Duration, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		username:   username,
		password:   password,
		logger:     logger,
	}
}

// FetchPerformanceData returns the current performance batch. Any failure is
// wrapped in ErrAdapter and the batch is nil.
func (c *Client) FetchPerformanceData(ctx context.Context) (*RawTelemetryBatch, error) {
	token, err := c.sessionToken(ctx, false)
	if err != nil {
		return nil, err
	}

	batch, status, err := c.fetch(ctx, token)
	if status == http.StatusUnauthorized {
		c.logger.Info("NMS session expired, logging in again")
		token, err = c.sessionToken(ctx, true)
		if err != nil {
			return nil, err
		}
		batch, _, err = c.fetch(ctx, token)
	}
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (c *Client) fetch(ctx context.Context, token string) (*RawTelemetryBatch, int, error) {
	var batch RawTelemetryBatch
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&batch).
		Get(performancePath)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: performance request failed: %v", ErrAdapter, err)
	}
	if resp.IsError() {
		return nil, resp.StatusCode(), fmt.Errorf("%w: performance request returned %d", ErrAdapter, resp.StatusCode())
	}
	return &batch, resp.StatusCode(), nil
}

func (c *Client) sessionToken(ctx context.Context, renew bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && !renew {
		return c.token, nil
	}

	var result loginResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(loginRequest{Username: c.username, Password: c.password}).
		SetResult(&result).
		Post(loginPath)
	if err != nil {
		return "", fmt.Errorf("%w: login failed: %v", ErrAdapter, err)
	}
	if resp.IsError() || result.Token == "" {
		c.token = ""
		return "", fmt.Errorf("%w: login rejected with status %d", ErrAdapter, resp.StatusCode())
	}

	c.token = result.Token
	return c.token, nil
}
