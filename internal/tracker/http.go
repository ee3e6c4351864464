package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/treesync/internal/model"
)

// Wire types shared with package trackerd.
type (
	// StatusRequest is the body of PATCH /v1/objects/{id}/status.
	StatusRequest struct {
		Status model.RemoteStatus `json:"status"`
	}

	// CommentRequest is the body of POST /v1/objects/{id}/comments.
	CommentRequest struct {
		Text string `json:"text"`
	}

	// ListResponse is the body of GET /v1/objects.
	ListResponse struct {
		Objects []model.RemoteObject `json:"objects"`
	}

	// ErrorBody is the error envelope of every non-2xx response.
	ErrorBody struct {
		Error ErrorDetail `json:"error"`
	}

	// ErrorDetail carries a machine-readable code and a message.
	ErrorDetail struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// DefaultHTTPTimeout bounds a single request.
const DefaultHTTPTimeout = 15 * time.Second

// HTTPClient implements Tracker over the JSON/HTTP API served by trackerd.
//
// 404 maps to ErrNotFound, 429 and 503 map to ErrRateLimited, and client
// timeouts map to ErrTimeout, so the batch executor retries the right failures.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) HTTPOption {
	return func(c *HTTPClient) {
		c.token = token
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.client = hc
	}
}

// NewHTTPClient creates a client for the tracker at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateObject implements Tracker.
func (c *HTTPClient) CreateObject(ctx context.Context, req CreateRequest) (Created, error) {
	var out Created
	if err := c.do(ctx, http.MethodPost, "/v1/objects", req, &out); err != nil {
		return Created{}, fmt.Errorf("create %q: %w", req.Title, err)
	}
	return out, nil
}

// UpdateObjectStatus implements Tracker.
func (c *HTTPClient) UpdateObjectStatus(ctx context.Context, remoteID string, status model.RemoteStatus) error {
	path := "/v1/objects/" + url.PathEscape(remoteID) + "/status"
	if err := c.do(ctx, http.MethodPatch, path, StatusRequest{Status: status}, nil); err != nil {
		return fmt.Errorf("update %s: %w", remoteID, err)
	}
	return nil
}

// AddComment implements Tracker.
func (c *HTTPClient) AddComment(ctx context.Context, remoteID, text string) error {
	path := "/v1/objects/" + url.PathEscape(remoteID) + "/comments"
	if err := c.do(ctx, http.MethodPost, path, CommentRequest{Text: text}, nil); err != nil {
		return fmt.Errorf("comment on %s: %w", remoteID, err)
	}
	return nil
}

// GetObject implements Tracker.
func (c *HTTPClient) GetObject(ctx context.Context, remoteID string) (model.RemoteObject, error) {
	var out model.RemoteObject
	if err := c.do(ctx, http.MethodGet, "/v1/objects/"+url.PathEscape(remoteID), nil, &out); err != nil {
		return model.RemoteObject{}, fmt.Errorf("get %s: %w", remoteID, err)
	}
	return out, nil
}

// ListObjects implements Tracker.
func (c *HTTPClient) ListObjects(ctx context.Context, containerID, titleQuery string) ([]model.RemoteObject, error) {
	q := url.Values{}
	q.Set("container_id", containerID)
	if titleQuery != "" {
		q.Set("title", titleQuery)
	}

	var out ListResponse
	if err := c.do(ctx, http.MethodGet, "/v1/objects?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("list %s: %w", containerID, err)
	}
	if out.Objects == nil {
		out.Objects = []model.RemoteObject{}
	}
	return out.Objects, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var eb ErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
		apiErr.Code = eb.Error.Code
		apiErr.Message = eb.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		apiErr.Kind = ErrNotFound
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		apiErr.Kind = ErrRateLimited
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		apiErr.Kind = ErrTimeout
	}
	return apiErr
}

var _ Tracker = (*HTTPClient)(nil)
