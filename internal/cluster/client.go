package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds a single call to the registry.
const DefaultTimeout = 10 * time.Second

// ErrNotAvailable matches a StatusError carrying the registry's
// "no endpoint registered" answer.
var ErrNotAvailable = errors.New("no available endpoint")

// StatusError is returned when a peer answers with a non-2xx status or with
// a structurally valid body whose result is not "success".
type StatusError struct {
	Method  string
	URL     string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotAvailable && e.Message == MessageNotAvailable
}

// Client talks to the registry HTTP surface.
type Client struct {
	http *resty.Client
}

// NewClient creates a registry client for the given address ("host:port" or
// full URL). A nil hc gets a plain client with DefaultTimeout.
func NewClient(registryAddr string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	c := resty.NewWithClient(hc)
	c.SetBaseURL(BaseURL(registryAddr))
	c.SetHeader("Accept", "application/json")
	return &Client{http: c}
}

// BaseURL returns the registry base URL this client targets.
func (c *Client) BaseURL() string {
	return c.http.BaseURL
}

func (c *Client) Register(ctx context.Context, name, url string) error {
	return c.post(ctx, "/register", RegisterRequest{Name: name, URL: url})
}

func (c *Client) Update(ctx context.Context, name, url string) error {
	return c.post(ctx, "/update", RegisterRequest{Name: name, URL: url})
}

func (c *Client) Unregister(ctx context.Context, name string) error {
	return c.post(ctx, "/unregister", UnregisterRequest{Name: name})
}

// Target asks the registry for the next dispatch target. The returned
// endpoint URL already includes the dispatch path.
func (c *Client) Target(ctx context.Context) (Endpoint, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/target")
	if err != nil {
		return Endpoint{}, fmt.Errorf("GET /target: %w", err)
	}

	var out TargetResponse
	if err := DecodeJSON(resp, &out); err != nil {
		return Endpoint{}, err
	}
	if !resp.IsSuccess() || !out.OK() {
		return Endpoint{}, &StatusError{Method: http.MethodGet, URL: resp.Request.URL, Code: resp.StatusCode(), Message: out.Message}
	}
	return Endpoint{Name: out.Name, URL: out.URL}, nil
}

// Services returns the registry's name->address snapshot.
func (c *Client) Services(ctx context.Context) (map[string]string, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/services")
	if err != nil {
		return nil, fmt.Errorf("GET /services: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, &StatusError{Method: http.MethodGet, URL: resp.Request.URL, Code: resp.StatusCode()}
	}

	out := make(map[string]string)
	if err := DecodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}

	var out Response
	if err := DecodeJSON(resp, &out); err != nil {
		return err
	}
	if !resp.IsSuccess() || !out.OK() {
		return &StatusError{Method: http.MethodPost, URL: resp.Request.URL, Code: resp.StatusCode(), Message: out.Message}
	}
	return nil
}

// DecodeJSON unmarshals a response body regardless of its content type.
func DecodeJSON(resp *resty.Response, out any) error {
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s %s: status %d: invalid body: %w", resp.Request.Method, resp.Request.URL, resp.StatusCode(), err)
	}
	return nil
}
