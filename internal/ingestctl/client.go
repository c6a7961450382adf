// Package ingestctl talks to the control and health endpoints of the
// nginx-rtmp ingest server.
package ingestctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrEmptyResponse means the ingest accepted the request but did nothing.
	ErrEmptyResponse = errors.New("ingest: empty control response")
	// ErrUnavailable covers transport failures and non-2xx answers.
	ErrUnavailable = errors.New("ingest: control endpoint unavailable")
)

const maxBody = 64 << 10

// ControlError wraps a sentinel with the failing operation.
type ControlError struct {
	Sentinel  error
	Operation string
	Status    int
	Err       error
}

func (e *ControlError) Error() string {
	msg := fmt.Sprintf("ingestctl: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ControlError) Unwrap() error { return e.Sentinel }

type Client struct {
	base       string
	app        string
	healthPath string
	http       *http.Client
}

// New creates a client for base, e.g. http://nginx-server:8080.
func New(base string) *Client {
	return &Client{
		base:       strings.TrimRight(base, "/"),
		app:        "live",
		healthPath: "/ping",
		http:       &http.Client{Timeout: 15 * time.Second},
	}
}

// RecordStart starts the named nginx recorder for user and returns the
// recording path reported by the ingest.
func (c *Client) RecordStart(ctx context.Context, user, rec string) (string, error) {
	return c.control(ctx, "record/start", url.Values{"app": {c.app}, "name": {user}, "rec": {rec}})
}

// RecordStop stops the named recorder and returns the saved path.
func (c *Client) RecordStop(ctx context.Context, user, rec string) (string, error) {
	return c.control(ctx, "record/stop", url.Values{"app": {c.app}, "name": {user}, "rec": {rec}})
}

// DropPublisher disconnects user's publishing client.
func (c *Client) DropPublisher(ctx context.Context, user string) error {
	_, err := c.control(ctx, "drop/publisher", url.Values{"app": {c.app}, "name": {user}})
	return err
}

// Ping checks the ingest health endpoint answers "pong".
func (c *Client) Ping(ctx context.Context) error {
	body, err := c.get(ctx, "ping", c.base+c.healthPath)
	if err != nil {
		return err
	}
	if body != "pong" {
		return &ControlError{Sentinel: ErrUnavailable, Operation: "ping", Err: fmt.Errorf("unexpected body %q", body)}
	}
	return nil
}

func (c *Client) control(ctx context.Context, op string, q url.Values) (string, error) {
	body, err := c.get(ctx, op, c.base+"/control/"+op+"?"+q.Encode())
	if err != nil {
		return "", err
	}
	if body == "" {
		return "", &ControlError{Sentinel: ErrEmptyResponse, Operation: op}
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, op, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", &ControlError{Sentinel: ErrUnavailable, Operation: op, Err: err}
	}
	res, err := c.http.Do(req)
	if err != nil {
		return "", &ControlError{Sentinel: ErrUnavailable, Operation: op, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return "", &ControlError{Sentinel: ErrUnavailable, Operation: op, Status: res.StatusCode, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", &ControlError{Sentinel: ErrUnavailable, Operation: op, Status: res.StatusCode}
	}
	return strings.TrimSpace(string(data)), nil
}
