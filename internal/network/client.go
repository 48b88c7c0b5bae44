// Package network talks to a remote partitioner service.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sharding-experiment/blockpartitioner/config"
	"github.com/sharding-experiment/blockpartitioner/internal/protocol"
	"github.com/sharding-experiment/blockpartitioner/internal/service"
)

const DefaultTimeout = 30 * time.Second

// NewHTTPClient creates an HTTP client, adding simulated latency when
// cfg.DelayEnabled is set
func NewHTTPClient(cfg config.NetworkConfig, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport
	if cfg.DelayEnabled {
		transport = NewDelayedRoundTripper(transport, DelayConfig{
			Enabled:  true,
			MinDelay: time.Duration(cfg.MinDelayMs) * time.Millisecond,
			MaxDelay: time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		})
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// Client submits blocks to a partitioner service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Partition posts txns and returns the remote plan. Session ids are assigned
// by the server, so any ids already on the hints are ignored.
func (c *Client) Partition(ctx context.Context, txns []protocol.AnalyzedTransaction) (*service.PlanResponse, error) {
	body, err := json.Marshal(service.PartitionRequest{Transactions: txns})
	if err != nil {
		return nil, fmt.Errorf("encode block: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/partition", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var plan service.PlanResponse
	if err := c.do(req, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Health returns nil when the service reports itself healthy
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	var status map[string]string
	if err := c.do(req, &status); err != nil {
		return err
	}
	if status["status"] != "healthy" {
		return fmt.Errorf("service reports %q", status["status"])
	}
	return nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
