// Package forwarder relays operator submissions to the workflow automation service.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"auctionhook/internal/util"
)

const maxResponseBytes = 4 << 20

// ErrTransport marks a failure to reach the automation service or read its reply.
var ErrTransport = errors.New("automation service unreachable")

// Config configures one outbound endpoint.
// A zero TimeoutSeconds disables the per-call timeout; CallSpacingSeconds is
// the pause between successive calls of a batch.
type Config struct {
	EndpointURL        string  `yaml:"endpoint_url"`
	TimeoutSeconds     float64 `yaml:"timeout_seconds"`
	CallSpacingSeconds float64 `yaml:"call_spacing_seconds"`
}

func (c Config) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}

func (c Config) CallSpacing() time.Duration {
	return seconds(c.CallSpacingSeconds)
}

func seconds(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

// URLForwarderDefaults applies to the single URL forward.
var URLForwarderDefaults = Config{TimeoutSeconds: 30}

// PhotographyForwarderDefaults applies to the paced photography batch.
var PhotographyForwarderDefaults = Config{CallSpacingSeconds: 10}

// Result is the upstream reply to one call. Body is the upstream JSON body,
// or {"raw_response": text} when the body is not JSON.
type Result struct {
	StatusCode int
	Body       json.RawMessage
}

// OK reports whether the upstream answered with a 2xx status.
func (r Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client posts JSON payloads to one configured endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient builds a client for cfg. A nil httpClient gets one with cfg's timeout.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.EndpointURL)
	if endpoint == "" {
		return nil, errors.New("forwarder endpoint_url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout()}
	}
	return &Client{endpoint: endpoint, httpClient: httpClient}, nil
}

// Post sends payload as JSON. A non-2xx reply is returned as a Result, not an error;
// only transport failures return an error wrapping ErrTransport.
func (c *Client) Post(ctx context.Context, payload any) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := util.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(util.RequestIDHeader, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}
	return Result{StatusCode: resp.StatusCode, Body: responseBody(data)}, nil
}

// ForwardURL asks the scraper workflow to process one listing URL.
func (c *Client) ForwardURL(ctx context.Context, urlMain string) (Result, error) {
	res, err := c.Post(ctx, map[string]string{"url_main": urlMain})
	if err != nil {
		return res, err
	}
	util.LoggerFromContext(ctx).Info("url forwarded", "url_main", urlMain, "webhook_status", res.StatusCode)
	return res, nil
}

func responseBody(data []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	raw, _ := json.Marshal(map[string]string{"raw_response": string(data)})
	return raw
}
