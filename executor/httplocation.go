package executor

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/n9te9/stitchgate/supergraph"
)

// RetryOption configures transient-failure retry for an HTTPLocation,
// matching the teacher's SDL-fetch retry config so operators tune both the
// same way.
type RetryOption struct {
	Attempts int    `yaml:"attempts" default:"3"`
	Timeout  string `yaml:"timeout"  default:"5s"`
}

// HTTPLocation dispatches a location's outbound documents over HTTP POST to
// a single GraphQL endpoint, implementing supergraph.LocationExecutor.
type HTTPLocation struct {
	Host       string
	HTTPClient *http.Client
	Retry      RetryOption
}

// NewHTTPLocation creates an HTTPLocation for host using client (its
// Transport should already be otelhttp-wrapped by the caller, matching the
// teacher's gateway construction).
func NewHTTPLocation(host string, client *http.Client, retry RetryOption) *HTTPLocation {
	return &HTTPLocation{Host: host, HTTPClient: client, Retry: retry}
}

type graphQLRequestBody struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLResponseBody struct {
	Data   map[string]interface{}  `json:"data"`
	Errors []supergraph.RemoteError `json:"errors,omitempty"`
}

// Execute implements supergraph.LocationExecutor. It makes up to
// Retry.Attempts attempts in total (at least one), each bounded by
// Retry.Timeout,
// mirroring the teacher's gateway/schema_fetcher.go fetchSDL/doFetchSDL retry
// idiom rather than ExecutorV2.sendRequest's no-retry single attempt.
func (h *HTTPLocation) Execute(ctx context.Context, location, queryDocument string, variables map[string]interface{}) (*supergraph.LocationResult, error) {
	attempts := h.Retry.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	timeout := 5 * time.Second
	if h.Retry.Timeout != "" {
		if d, err := time.ParseDuration(h.Retry.Timeout); err == nil {
			timeout = d
		}
	}

	body, err := json.Marshal(graphQLRequestBody{Query: queryDocument, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshaling request to %q: %w", location, err)
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		result, err := h.doExecute(ctx, location, body, timeout)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("dispatching to location %q at %s after %d attempt(s): %w", location, h.Host, attempts, lastErr)
}

func (h *HTTPLocation) doExecute(ctx context.Context, location string, body []byte, timeout time.Duration) (*supergraph.LocationResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, h.Host, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Stitchgate-Request-Id", uuid.NewString())

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, location)
	}

	var decoded graphQLResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding response from %q: %w", location, err)
	}

	return &supergraph.LocationResult{Data: decoded.Data, Errors: decoded.Errors}, nil
}
