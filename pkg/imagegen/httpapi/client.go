package httpapi

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

	"github.com/google/uuid"

	"github.com/user/mapic/pkg/imagegen"
)

// DefaultTimeout mirrors the backend's generation timeout; image generation
// routinely takes tens of seconds.
const DefaultTimeout = 120 * time.Second

// Fallback messages used when the service does not return a detail.
const (
	msgGenerateFailed = "failed to generate image"
	msgFetchFailed    = "failed to fetch history"
	msgDeleteFailed   = "failed to delete item"
	msgDownloadFailed = "failed to download image"
)

// Client implements imagegen.Service against the mapic REST API.
type Client struct {
	config     *imagegen.Config
	httpClient *http.Client
}

// New creates a client for the given configuration. A zero Timeout uses
// DefaultTimeout.
func New(config *imagegen.Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// errorBody is the error envelope returned by the API.
type errorBody struct {
	Detail any `json:"detail"`
}

// deleteResponse is the DELETE /history/{id} response body.
type deleteResponse struct {
	OK bool `json:"ok"`
}

// Generate sends a generation request and returns the stored record.
func (c *Client) Generate(ctx context.Context, req imagegen.GenerateRequest) (imagegen.Generation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return imagegen.Generation{}, fmt.Errorf("marshaling request: %w", err)
	}

	respBody, err := c.do(ctx, "generate", http.MethodPost, c.endpoint("generate"), bytes.NewReader(body), msgGenerateFailed)
	if err != nil {
		return imagegen.Generation{}, err
	}

	var gen imagegen.Generation
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return imagegen.Generation{}, &imagegen.RemoteError{Op: "generate", Message: "invalid response", Err: err}
	}
	if gen.ID == "" {
		return imagegen.Generation{}, &imagegen.RemoteError{Op: "generate", Message: "response has no id"}
	}
	if gen.Model == "" {
		gen.Model = req.Model
	}
	return gen, nil
}

// FetchHistory returns the user's generations, newest first.
func (c *Client) FetchHistory(ctx context.Context, userID string) ([]imagegen.Generation, error) {
	respBody, err := c.do(ctx, "fetch history", http.MethodGet, c.endpoint("history", userID), nil, msgFetchFailed)
	if err != nil {
		return nil, err
	}

	var history []imagegen.Generation
	if err := json.Unmarshal(respBody, &history); err != nil {
		return nil, &imagegen.RemoteError{Op: "fetch history", Message: "invalid response", Err: err}
	}
	return history, nil
}

// DeleteHistory removes a generation by id.
func (c *Client) DeleteHistory(ctx context.Context, id string) error {
	respBody, err := c.do(ctx, "delete history", http.MethodDelete, c.endpoint("history", id), nil, msgDeleteFailed)
	if err != nil {
		return err
	}

	var resp deleteResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return &imagegen.RemoteError{Op: "delete history", Message: "invalid response", Err: err}
	}
	if !resp.OK {
		return &imagegen.RemoteError{Op: "delete history", Message: msgDeleteFailed}
	}
	return nil
}

// Download streams the image at imageURL into w and returns the byte count.
func (c *Client) Download(ctx context.Context, imageURL string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &imagegen.RemoteError{Op: "download", Message: msgDownloadFailed, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &imagegen.RemoteError{Op: "download", Status: resp.StatusCode, Message: msgDownloadFailed}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &imagegen.RemoteError{Op: "download", Message: msgDownloadFailed, Err: err}
	}
	return n, nil
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.Join(escaped, "/")
}

// do executes one API call and returns the body of a 2xx response. Every
// failure is reported as *imagegen.RemoteError.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body io.Reader, fallback string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &imagegen.RemoteError{Op: op, Message: fallback, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &imagegen.RemoteError{Op: op, Message: fallback, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &imagegen.RemoteError{Op: op, Status: resp.StatusCode, Message: detailOr(respBody, fallback)}
	}
	return respBody, nil
}

// detailOr extracts a string "detail" from an error body, or returns fallback.
// FastAPI validation errors carry a list in detail; those use the fallback.
func detailOr(body []byte, fallback string) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return fallback
	}
	if s, ok := eb.Detail.(string); ok && s != "" {
		return s
	}
	return fallback
}

var _ imagegen.Service = (*Client)(nil)
