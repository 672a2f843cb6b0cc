package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/api"
)

const requestTimeout = 10 * time.Second

// Client talks to a running fusion daemon over its HTTP API.
type Client struct {
	addr       string
	httpClient *http.Client
}

// NewClient creates a client for the daemon at addr.
func NewClient(addr string) *Client {
	return &Client{
		addr:       strings.TrimRight(addr, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Stats fetches the fusion state snapshot.
func (c *Client) Stats(ctx context.Context) (api.StatsResponse, error) {
	var resp api.StatsResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/stats", &resp)
	return resp, err
}

// Patterns fetches mined correction patterns and insights.
func (c *Client) Patterns(ctx context.Context) (api.PatternsResponse, error) {
	var resp api.PatternsResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/patterns", &resp)
	return resp, err
}

// Health probes daemon liveness and store reachability.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", &resp)
	return resp, err
}

// Reset clears the daemon's tracked source performance.
func (c *Client) Reset(ctx context.Context) (api.ResetResponse, error) {
	var resp api.ResetResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/reset", &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("contacting daemon at %s: %w", c.addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return errors.New(errorMessage(resp.StatusCode, body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// errorMessage extracts the daemon's error envelope, falling back to
// the bare status code when the body is not one.
func errorMessage(status int, body []byte) string {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		return fmt.Sprintf("%s: %s", envelope.Error.Code, envelope.Error.Message)
	}
	return fmt.Sprintf("daemon returned HTTP %d", status)
}

// clientFromFlags builds a client from the global --addr flag.
func clientFromFlags(cmd *cobra.Command) *Client {
	addr, _ := cmd.Flags().GetString("addr")
	return NewClient(addr)
}

// outputFormat reads the global --output flag.
func outputFormat(cmd *cobra.Command) string {
	output, _ := cmd.Flags().GetString("output")
	return output
}
