// Package dispatch implements the producer side of the system: acquire a
// worker from the registry and push a payload to it, retrying the whole
// cycle until a worker acknowledges the payload.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dreamware/palantir/internal/cluster"
)

// State of a single dispatch.
type State int

const (
	StateSearching State = iota
	StateSending
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateSending:
		return "sending"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AcquisitionError means no target could be obtained: the registry was
// unreachable or had no endpoint.
type AcquisitionError struct {
	Err error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire target: %v", e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// DeliveryError means a target was acquired but did not acknowledge the
// payload.
type DeliveryError struct {
	Err     error
	Target  cluster.Endpoint
	Message string
	Code    int
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("deliver to %s (%s)", e.Target.Name, e.Target.URL)
	if e.Code != 0 {
		msg += fmt.Sprintf(": status %d", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Registry hands out dispatch targets. *cluster.Client implements it.
type Registry interface {
	Target(ctx context.Context) (cluster.Endpoint, error)
}

// Payload is one file to deliver.
type Payload struct {
	Filename string
	Body     []byte
}

// LoadPayload reads path from fs. An empty filename defaults to the base
// name of path.
func LoadPayload(fs afero.Fs, path, filename string) (Payload, error) {
	body, err := afero.ReadFile(fs, path)
	if err != nil {
		return Payload{}, fmt.Errorf("read payload: %w", err)
	}
	if filename == "" {
		filename = filepath.Base(path)
	}
	return Payload{Filename: filename, Body: body}, nil
}

// Receipt describes a successful dispatch.
type Receipt struct {
	Target   cluster.Endpoint
	Attempts int
}

// Client runs the search-and-send loop.
type Client struct {
	registry Registry
	http     *resty.Client
	logger   *zap.SugaredLogger
	observer func(State)
	policy   RetryPolicy
}

type Option func(*Client)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets the client used to deliver payloads to workers.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = resty.NewWithClient(hc)
	}
}

// WithObserver registers a callback invoked on every state entered.
func WithObserver(fn func(State)) Option {
	return func(c *Client) {
		c.observer = fn
	}
}

func New(registry Registry, opts ...Option) *Client {
	c := &Client{
		registry: registry,
		logger:   zap.NewNop().Sugar(),
		policy:   DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = resty.NewWithClient(&http.Client{Timeout: 5 * time.Minute})
	}
	return c
}

// Send delivers p to some worker. Acquisition and delivery failures both
// send the loop back to searching after the policy interval, with a fresh
// target each time. Send returns only on an explicit acknowledgment, when
// ctx is canceled, or when a bounded policy runs out of attempts.
func (c *Client) Send(ctx context.Context, p Payload) (Receipt, error) {
	var receipt Receipt

	operation := func() error {
		receipt.Attempts++
		c.enter(StateSearching)

		target, err := c.registry.Target(ctx)
		if err != nil {
			return &AcquisitionError{Err: err}
		}
		c.logger.Infow("available worker found", "name", target.Name, "url", target.URL)

		c.enter(StateSending)
		if err := c.deliver(ctx, target, p); err != nil {
			return err
		}

		receipt.Target = target
		c.enter(StateDone)
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.logger.Errorw("dispatch attempt failed, searching again", "file", p.Filename, "attempt", receipt.Attempts, "retry_in", next, "error", err)
	}

	if err := backoff.RetryNotify(operation, c.policy.BackOff(ctx), notify); err != nil {
		return receipt, fmt.Errorf("dispatch %s after %d attempts: %w", p.Filename, receipt.Attempts, err)
	}

	c.logger.Infow("file delivered", "file", p.Filename, "worker", receipt.Target.Name, "attempts", receipt.Attempts)
	return receipt, nil
}

func (c *Client) deliver(ctx context.Context, target cluster.Endpoint, p Payload) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam(cluster.FilenameParam, p.Filename).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(p.Body).
		Post(cluster.BaseURL(target.URL))
	if err != nil {
		return &DeliveryError{Target: target, Err: err}
	}

	var ack cluster.Response
	if err := json.Unmarshal(resp.Body(), &ack); err != nil {
		return &DeliveryError{Target: target, Code: resp.StatusCode(), Message: "invalid acknowledgment", Err: err}
	}
	if !resp.IsSuccess() || !ack.OK() {
		return &DeliveryError{Target: target, Code: resp.StatusCode(), Message: ack.Message}
	}
	return nil
}

func (c *Client) enter(s State) {
	if c.observer != nil {
		c.observer(s)
	}
}
