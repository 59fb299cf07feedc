// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     homeassistant
// Description: REST client for Home Assistant service calls
// License:     MIT
// ============================================================================

package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/weirdtangent/pulse-os/pkg/core/config"
	"github.com/weirdtangent/pulse-os/pkg/core/logging"
)

// Client issues REST calls against a Home Assistant instance. It implements
// the device-control interface consumed by music-mode playback.
type Client struct {
	logger *logging.Logger

	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Home Assistant REST client
func NewClient(cfg config.HomeAssistantConfig) *Client {
	return &Client{
		logger:     logging.New("homeassistant"),
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// CallService invokes a Home Assistant service (for example media_player /
// play_media). The call is bounded by the caller's context; a timeout is a
// hard failure, not retried here.
func (c *Client) CallService(ctx context.Context, domain, service string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal service payload: %w", err)
	}

	url := fmt.Sprintf("%s/api/services/%s/%s", c.baseURL, domain, service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build service request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("service call %s.%s failed: %w", domain, service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("service call %s.%s returned %d: %s", domain, service, resp.StatusCode, snippet)
	}

	c.logger.Debug("Service call succeeded", "domain", domain, "service", service)
	return nil
}
