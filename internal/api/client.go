package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/spotcast/spotcast/internal/config"
	"github.com/spotcast/spotcast/pkg/types"
)

// Client talks to the spot configuration API. Transport-level retries live
// here (retryablehttp); session-level retry policy is the caller's concern.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
	limiter    *rate.Limiter
	userAgent  string
	debug      bool

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewClient(cfg *config.Config) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.API.Retries
	retryClient.HTTPClient.Timeout = time.Duration(cfg.API.Timeout) * time.Second
	retryClient.Logger = nil

	if cfg.Debug {
		retryClient.Logger = &debugLogger{}
	}

	limiter := rate.NewLimiter(
		rate.Limit(cfg.API.RateLimit.RequestsPerSecond),
		cfg.API.RateLimit.BurstSize,
	)

	client := &Client{
		baseURL:    cfg.API.BaseURL,
		httpClient: retryClient,
		limiter:    limiter,
		userAgent:  cfg.API.UserAgent,
		debug:      cfg.Debug,
	}

	client.debugLog("API client initialized - Base URL: %s", cfg.API.BaseURL)
	return client
}

type debugLogger struct{}

func (d *debugLogger) Printf(format string, args ...interface{}) {
	log.Printf("[HTTP] "+format, args...)
}

func (c *Client) debugLog(format string, args ...interface{}) {
	if !c.debug {
		return
	}
	log.Printf("[API] "+format, args...)
}

// spotResponse is the wire shape of GET /spot. Older backends send the stream
// URL as "url" instead of "stream_url"; both are accepted.
type spotResponse struct {
	Success bool    `json:"success"`
	Message *string `json:"message"`
	Stream  *struct {
		StreamURL   string              `json:"stream_url"`
		URL         string              `json:"url"`
		Volume      float64             `json:"volume"`
		Title       *string             `json:"title"`
		Description *string             `json:"description"`
		Current     *types.CurrentTrack `json:"current"`
	} `json:"stream"`
}

// GetSpot fetches the stream configuration for a pin. Every failure comes
// back as a *types.ApiError: FromBackend when the server produced a message,
// transport-level otherwise.
func (c *Client) GetSpot(ctx context.Context, pin string) (*types.StreamConfig, error) {
	startTime := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &types.ApiError{Message: fmt.Sprintf("rate limit wait: %v", err)}
	}

	params := url.Values{}
	params.Set("pin", pin)
	fullURL := c.baseURL + "/spot?" + params.Encode()

	c.debugLog("REQUEST #%d GET %s", c.requestCount.Add(1), fullURL)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &types.ApiError{Message: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.errorCount.Add(1)
		c.debugLog("GET %s failed after %v: %v", fullURL, time.Since(startTime), err)
		return nil, &types.ApiError{Message: "could not reach the server"}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.debugLog("Failed to close response body: %v", closeErr)
		}
	}()

	var payload spotResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&payload)

	if resp.StatusCode != http.StatusOK {
		c.errorCount.Add(1)
		apiErr := &types.ApiError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("server returned %s", resp.Status),
		}
		if decodeErr == nil && payload.Message != nil && *payload.Message != "" {
			apiErr.FromBackend = true
			apiErr.Message = *payload.Message
		}
		c.debugLog("GET %s -> %d (%v)", fullURL, resp.StatusCode, time.Since(startTime))
		return nil, apiErr
	}

	if decodeErr != nil {
		c.errorCount.Add(1)
		return nil, &types.ApiError{Message: fmt.Sprintf("decode spot response: %v", decodeErr)}
	}

	if !payload.Success {
		c.errorCount.Add(1)
		apiErr := &types.ApiError{StatusCode: resp.StatusCode, Message: "spot lookup failed"}
		if payload.Message != nil && *payload.Message != "" {
			apiErr.FromBackend = true
			apiErr.Message = *payload.Message
		}
		return nil, apiErr
	}

	if payload.Stream == nil {
		c.errorCount.Add(1)
		return nil, &types.ApiError{Message: "spot response missing stream block"}
	}

	streamURL := payload.Stream.StreamURL
	if streamURL == "" {
		streamURL = payload.Stream.URL
	}
	if streamURL == "" {
		c.errorCount.Add(1)
		return nil, &types.ApiError{Message: "spot response missing stream URL"}
	}

	cfg := &types.StreamConfig{
		StreamURL:   streamURL,
		Volume:      clampVolume(payload.Stream.Volume),
		Title:       payload.Stream.Title,
		Description: payload.Stream.Description,
		Current:     payload.Stream.Current,
	}

	c.debugLog("GET %s -> 200 in %v (stream: %s, volume: %.2f)",
		fullURL, time.Since(startTime), cfg.StreamURL, cfg.Volume)
	return cfg, nil
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (c *Client) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_requests": c.requestCount.Load(),
		"total_errors":   c.errorCount.Load(),
		"base_url":       c.baseURL,
	}
}
