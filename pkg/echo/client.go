package echo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcncl/worker-echo/internal/errors"
	"github.com/mcncl/worker-echo/internal/middleware/request"
)

// DefaultUserAgent is sent by Client unless overridden
const DefaultUserAgent = "worker-echo-client/1"

// Client sends requests to a running echo endpoint and decodes the Document
// it returns. Paths are always relative to BaseURL.
type Client struct {
	BaseURL string
	// FakeHost, when set, replaces the Host header so the echoed hostname
	// can be controlled independently of where the server listens.
	FakeHost   string
	UserAgent  string
	HTTPClient *http.Client
}

// Response is the decoded result of one echo call
type Response struct {
	StatusCode int
	Header     http.Header
	RequestID  string
	Document   *Document
	// Raw is the undecoded response body
	Raw []byte
}

// NewClient creates a Client for baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		UserAgent:  DefaultUserAgent,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Do sends a request. A non-200 response is returned together with the typed
// error decoded from its body.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader, header http.Header) (*Response, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, errors.NewValidationError(fmt.Sprintf("path %q must be relative", path))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if req.Header.Get("User-Agent") == "" && c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if req.Header.Get(request.RequestIDHeader) == "" {
		req.Header.Set(request.RequestIDHeader, uuid.NewString())
	}
	if c.FakeHost != "" {
		req.Host = c.FakeHost
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, errors.NewConnectionError("echo request failed: " + err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewConnectionError("failed to read response: " + err.Error())
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		RequestID:  resp.Header.Get(request.RequestIDHeader),
		Raw:        raw,
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errors.ErrorResponse
		if err := json.Unmarshal(raw, &errResp); err != nil || errResp.Status == "" {
			return out, errors.NewInternalError(fmt.Sprintf("unexpected status %d", resp.StatusCode))
		}
		return out, errors.FromErrorResponse(errResp)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return out, errors.Wrap(err, "failed to decode echo document")
	}
	out.Document = &doc

	return out, nil
}

// Get sends a GET request to path
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, nil)
}

// Post sends a POST request to path with body as text
func (c *Client) Post(ctx context.Context, path, body string) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, strings.NewReader(body), nil)
}
