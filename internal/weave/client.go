package weave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/weaveship/weaveship/internal/version"
)

// DefaultBaseURL is the public W&B trace ingestion endpoint.
const DefaultBaseURL = "https://trace.wandb.ai"

const (
	startPath = "/call/start"
	endPath   = "/call/end"

	// basicAuthUser is the fixed username the trace endpoint expects; the
	// API key travels as the basic auth password.
	basicAuthUser = "api"

	defaultTimeout = 10 * time.Second

	// errorBodyLimit caps how much of an error response body is read into
	// the returned error.
	errorBodyLimit = 2048
)

// Client posts call/start and call/end payloads to the Weave trace
// ingestion API. It performs a single attempt per payload: retries,
// batching, and delivery guarantees belong to the caller, not here.
// Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	userAgent  string
}

// NewClient validates the base URL and returns a ready client. httpClient
// may be nil, in which case a default client with a conservative timeout
// is used; pass a client whose transport is wrapped for instrumentation
// when outbound spans are wanted.
func NewClient(baseURL, apiKey string, httpClient *http.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse weave base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("weave base url must include scheme and host (got %q)", baseURL)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("weave api key must not be empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    base,
		apiKey:     apiKey,
		httpClient: httpClient,
		userAgent:  "weaveship/" + version.Version,
	}, nil
}

// StartCall posts a call/start payload.
func (c *Client) StartCall(ctx context.Context, payload StartPayload) error {
	return c.post(ctx, startPath, payload)
}

// EndCall posts a call/end payload.
func (c *Client) EndCall(ctx context.Context, payload EndPayload) error {
	return c.post(ctx, endPath, payload)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.SetBasicAuth(basicAuthUser, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	trimmed := strings.TrimSpace(string(detail))
	if trimmed == "" {
		return fmt.Errorf("post %s: unexpected status %d", path, resp.StatusCode)
	}
	return fmt.Errorf("post %s: unexpected status %d: %s", path, resp.StatusCode, trimmed)
}
