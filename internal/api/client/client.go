package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/linkeye/internal/models"
)

const defaultBaseURL = "http://localhost:8080"

var ErrNoToken = errors.New("not logged in: run `linkeye login` or set LINKEYE_TOKEN")

type Client struct {
	baseURL    string
	token      string
	httpClient *resty.Client
}

// LinkStatus mirrors the API's link listing entry.
type LinkStatus struct {
	models.LinkDefinition
	CurrentLoss  *float64 `json:"current_loss"`
	FallbackPair bool     `json:"fallback_pair,omitempty"`
	Inhibited    bool     `json:"inhibited"`
	Error        string   `json:"error,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10*time.Second).
		SetHeader("Accept", "application/json").
		SetError(&apiError{})
	if token != "" {
		httpClient.SetAuthToken(token)
	}
	return &Client{baseURL: baseURL, token: token, httpClient: httpClient}
}

// NewClient builds a client from LINKEYE_API_URL and the saved or
// LINKEYE_TOKEN credentials.
func NewClient() (*Client, error) {
	token := os.Getenv("LINKEYE_TOKEN")
	if token == "" {
		data, err := os.ReadFile(TokenPath())
		if err != nil {
			return nil, ErrNoToken
		}
		token = strings.TrimSpace(string(data))
	}
	return New(os.Getenv("LINKEYE_API_URL"), token), nil
}

// TokenPath is where `linkeye login` stores the bearer token.
func TokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "linkeye", "token")
}

func SaveToken(token string) error {
	p := TokenPath()
	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(token+"\n"), 0600)
}

func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var result struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, resty.MethodPost, "/api/v1/auth/login", nil, body, &result); err != nil {
		return "", err
	}
	return result.Token, nil
}

func (c *Client) ListLinks(ctx context.Context, enabled *bool) ([]LinkStatus, error) {
	query := url.Values{}
	if enabled != nil {
		query.Set("enabled", strconv.FormatBool(*enabled))
	}
	var result struct {
		Links []LinkStatus `json:"links"`
	}
	if err := c.do(ctx, resty.MethodGet, "/api/v1/links", query, nil, &result); err != nil {
		return nil, err
	}
	return result.Links, nil
}

func (c *Client) SetLinkEnabled(ctx context.Context, id uint, enabled bool) error {
	action := "disable"
	if enabled {
		action = "enable"
	}
	return c.do(ctx, resty.MethodPut, fmt.Sprintf("/api/v1/links/%d/%s", id, action), nil, nil, nil)
}

func (c *Client) DeleteLink(ctx context.Context, id uint) error {
	return c.do(ctx, resty.MethodDelete, fmt.Sprintf("/api/v1/links/%d", id), nil, nil, nil)
}

// ImportLinks uploads a YAML link file and returns how many links were
// written.
func (c *Client) ImportLinks(ctx context.Context, yamlDoc []byte) (int, error) {
	var result struct {
		Imported int `json:"imported"`
	}
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/yaml").
		SetBody(yamlDoc).
		SetResult(&result).
		Post("/api/v1/links/import")
	if err := check(resp, err); err != nil {
		return 0, err
	}
	return result.Imported, nil
}

func (c *Client) ExportLinks(ctx context.Context) ([]byte, error) {
	resp, err := c.httpClient.R().SetContext(ctx).Get("/api/v1/links/export")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (c *Client) History(ctx context.Context, linkID uint, since time.Time, limit int) ([]models.LossHistory, error) {
	query := url.Values{}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var rows []models.LossHistory
	if err := c.do(ctx, resty.MethodGet, fmt.Sprintf("/api/v1/links/%d/history", linkID), query, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) ListAlerts(ctx context.Context, serial, detector string, since time.Time, limit int) ([]models.Alert, error) {
	query := url.Values{}
	if serial != "" {
		query.Set("serial", serial)
	}
	if detector != "" {
		query.Set("detector", detector)
	}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var alerts []models.Alert
	if err := c.do(ctx, resty.MethodGet, "/api/v1/alerts", query, nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Client) ListInhibitions(ctx context.Context) ([]models.Inhibition, error) {
	var rows []models.Inhibition
	if err := c.do(ctx, resty.MethodGet, "/api/v1/suppressions/inhibitions", nil, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) Inhibit(ctx context.Context, serial, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, resty.MethodPost, "/api/v1/suppressions/"+url.PathEscape(serial)+"/inhibit", nil, body, nil)
}

func (c *Client) ClearInhibition(ctx context.Context, serial string) error {
	return c.do(ctx, resty.MethodDelete, "/api/v1/suppressions/"+url.PathEscape(serial)+"/inhibit", nil, nil, nil)
}

// Acknowledge accepts loss for serial. hours <= 0 uses the server default.
func (c *Client) Acknowledge(ctx context.Context, serial string, loss, hours float64) error {
	body := map[string]float64{"loss": loss}
	if hours > 0 {
		body["hours"] = hours
	}
	return c.do(ctx, resty.MethodPost, "/api/v1/suppressions/"+url.PathEscape(serial)+"/ack", nil, body, nil)
}

func (c *Client) ClearAcknowledgment(ctx context.Context, serial string) error {
	return c.do(ctx, resty.MethodDelete, "/api/v1/suppressions/"+url.PathEscape(serial)+"/ack", nil, nil, nil)
}

func (c *Client) Settings(ctx context.Context) (map[string]interface{}, error) {
	var result map[string]interface{}
	if err := c.do(ctx, resty.MethodGet, "/api/v1/settings", nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) UpdateSettings(ctx context.Context, values map[string]string) error {
	return c.do(ctx, resty.MethodPut, "/api/v1/settings", nil, values, nil)
}

func (c *Client) Metrics(ctx context.Context) (map[string]interface{}, error) {
	var result map[string]interface{}
	if err := c.do(ctx, resty.MethodGet, "/api/v1/metrics", nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Report returns the rendered HTML report for period (daily or weekly).
func (c *Client) Report(ctx context.Context, period string) ([]byte, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"period": period, "format": "html"}).
		Get("/api/v1/report")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body, v interface{}) error {
	req := c.httpClient.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if v != nil {
		req.SetResult(v)
	}
	resp, err := req.Execute(method, endpoint)
	return check(resp, err)
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
		return fmt.Errorf("API error: %s", e.Error)
	}
	return fmt.Errorf("request failed with status %d", resp.StatusCode())
}
