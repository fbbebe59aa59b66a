package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 60 * time.Second

// HTTPOption configures an HTTPClient before construction.
type HTTPOption func(*HTTPClient)

// WithHTTPClient injects a custom *http.Client, e.g. for tests or custom
// transports.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithAuthToken sets a bearer token attached to every request.
func WithAuthToken(token string) HTTPOption {
	return func(c *HTTPClient) {
		c.authToken = strings.TrimSpace(token)
	}
}

// HTTPClient implements FieldGenerator, Enricher, and Submitter against a
// JSON-over-HTTP content service exposing /fields, /enrich, and /submit.
type HTTPClient struct {
	baseURL   string
	client    *http.Client
	authToken string
}

var (
	_ FieldGenerator = (*HTTPClient)(nil)
	_ Enricher       = (*HTTPClient)(nil)
	_ Submitter      = (*HTTPClient)(nil)
)

// NewHTTPClient constructs an HTTPClient rooted at baseURL.
func NewHTTPClient(baseURL string, options ...HTTPOption) (*HTTPClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("generation: base url is required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("generation: parse base url: %w", err)
	}

	c := &HTTPClient{baseURL: trimmed}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return c, nil
}

// Generate requests the field list for a dynamic step. Field labels and
// descriptions are sanitized before the response is returned.
func (c *HTTPClient) Generate(ctx context.Context, req FieldRequest) (FieldResponse, error) {
	var resp FieldResponse
	if err := c.post(ctx, "/fields", req, &resp); err != nil {
		return FieldResponse{}, fmt.Errorf("generation: generate fields: %w", err)
	}
	resp.Fields = SanitizeFields(resp.Fields)
	resp.Jurisdiction = SanitizeText(resp.Jurisdiction)
	return resp, nil
}

// Enrich runs an enrichment prompt and returns the result object.
func (c *HTTPClient) Enrich(ctx context.Context, req EnrichRequest) (map[string]any, error) {
	var resp map[string]any
	if err := c.post(ctx, "/enrich", req, &resp); err != nil {
		return nil, fmt.Errorf("generation: enrich: %w", err)
	}
	return resp, nil
}

// Submit performs the terminal generation call. A 401 response whose body
// declares code "token_expired" maps to ErrTokenExpired.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (Document, error) {
	var resp Document
	if err := c.post(ctx, "/submit", req, &resp); err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return Document{}, ErrTokenExpired
		}
		return Document{}, fmt.Errorf("generation: submit: %w", err)
	}
	return resp, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		var apiErr errorBody
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Code == "token_expired" {
			return ErrTokenExpired
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
