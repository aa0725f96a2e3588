// Package httpapi is the HTTP client for the drawing persistence backend.
//
// Endpoints:
//
//	GET /api/drawings/{id}          -> api.Document
//	PUT /api/drawings/{id}          api.UpdateRequest -> api.UpdateResponse
//	PUT /api/drawings/{id}/preview  api.PreviewRequest -> 204
//
// A stale save is answered with 409 and a body carrying "currentVersion".
package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"

	"github.com/surrealdb/scenesync/pkg/api"
	"github.com/surrealdb/scenesync/pkg/constants"
)

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
}

var _ api.API = (*Client)(nil)

// New creates a client. baseURL carries scheme and host without a
// trailing slash, e.g. "http://localhost:8080".
func New(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, constants.ErrNoBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: constants.DefaultHTTPTimeout,
		},
	}, nil
}

func (c *Client) SetHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// SetTimeout replaces the overall request timeout of the underlying HTTP
// client.
func (c *Client) SetTimeout(d time.Duration) *Client {
	hc := *c.httpClient
	hc.Timeout = d
	c.httpClient = &hc
	return c
}

func (c *Client) SetAuthToken(token string) *Client {
	c.authToken = token
	return c
}

func (c *Client) GetDocument(ctx context.Context, id string) (*api.Document, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, drawingPath(id), nil)
	if err != nil {
		return nil, err
	}

	var doc api.Document
	if err := decodeResponse(resp, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) UpdateDocument(ctx context.Context, id string, req api.UpdateRequest) (*api.UpdateResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPut, drawingPath(id), req)
	if err != nil {
		return nil, err
	}

	var out api.UpdateResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdatePreview(ctx context.Context, id string, preview []byte) error {
	resp, err := c.doRequest(ctx, http.MethodPut, drawingPath(id)+"/preview", api.PreviewRequest{Preview: preview})
	if err != nil {
		return err
	}
	return decodeResponse(resp, nil)
}

func drawingPath(id string) string {
	return "/api/drawings/" + url.PathEscape(id)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	return c.httpClient.Do(req)
}

func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusConflict {
			return conflictFromBody(body)
		}
		return &api.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if target != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// conflictFromBody pulls currentVersion out of a 409 body without
// committing to the rest of its shape.
func conflictFromBody(body []byte) *api.ConflictError {
	v, err := jsonparser.GetInt(body, "currentVersion")
	if err != nil {
		return &api.ConflictError{}
	}
	return &api.ConflictError{CurrentVersion: api.Int64(v)}
}
