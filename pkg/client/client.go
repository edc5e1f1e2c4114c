// Package client provides an HTTP client for the forge console API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client talks to a running forge server.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:7466/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a client from config.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var er errorResp
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			return fmt.Errorf("forge server: %s (status %d)", er.Error, resp.StatusCode)
		}
		return fmt.Errorf("forge server: status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Ensure registers a slot and returns its allocation.
func (c *Client) Ensure(ctx context.Context, req EnsureRequest) (Record, error) {
	var rec Record
	err := c.do(ctx, http.MethodPost, "/ensure", req, &rec)
	return rec, err
}

// Open starts the slot's app and waits until it is reachable.
func (c *Client) Open(ctx context.Context, name string) (OpenResult, error) {
	var res OpenResult
	err := c.do(ctx, http.MethodPost, "/open?name="+url.QueryEscape(name), nil, &res)
	return res, err
}

// Stop terminates the slot's app.
func (c *Client) Stop(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/stop?name="+url.QueryEscape(name), nil, nil)
}

// Restart stops and starts the slot's app.
func (c *Client) Restart(ctx context.Context, name string) (OpenResult, error) {
	var res OpenResult
	err := c.do(ctx, http.MethodPost, "/restart?name="+url.QueryEscape(name), nil, &res)
	return res, err
}

// Status returns one slot's state.
func (c *Client) Status(ctx context.Context, name string) (SlotStatus, error) {
	var st SlotStatus
	err := c.do(ctx, http.MethodGet, "/status?name="+url.QueryEscape(name), nil, &st)
	return st, err
}

// Slots lists all slots.
func (c *Client) Slots(ctx context.Context) ([]SlotStatus, error) {
	var list []SlotStatus
	err := c.do(ctx, http.MethodGet, "/slots", nil, &list)
	return list, err
}

// Release removes a slot and frees its ports.
func (c *Client) Release(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/release?name="+url.QueryEscape(name), nil, nil)
}

// LastAction returns the server's most recent human-readable action message.
func (c *Client) LastAction(ctx context.Context) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	err := c.do(ctx, http.MethodGet, "/last-action", nil, &out)
	return out.Message, err
}

// IsReachable reports whether the server answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.LastAction(ctx)
	return err == nil
}
