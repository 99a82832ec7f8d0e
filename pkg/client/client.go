package client

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
	"strconv"
	"time"

	"github.com/arsdragonfly/fluxduct/pkg/events"
	"github.com/arsdragonfly/fluxduct/pkg/graph"
)

// DefaultEndpoint is the address fluxductd listens on by default.
const DefaultEndpoint = "http://127.0.0.1:8090"

// ErrNotFound is returned when the daemon has no such object.
var ErrNotFound = errors.New("not found")

// Client is the fluxduct SDK client.
type Client struct {
	endpoint string
	http     *http.Client
	backoff  BackoffStrategy
	attempts int
}

// NewClient creates a new fluxduct client.
// endpoint defaults to DefaultEndpoint if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		backoff:  DefaultBackoff(),
		attempts: 5,
	}
}

// WithBackoff replaces the retry strategy used by Publish.
func (c *Client) WithBackoff(b BackoffStrategy, attempts int) *Client {
	c.backoff = b
	if attempts > 0 {
		c.attempts = attempts
	}
	return c
}

// Health checks the health of the daemon.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.get(ctx, "/v1/health", &h)
	return h, err
}

// GetGraph fetches the full graph state.
func (c *Client) GetGraph(ctx context.Context) (graph.State, error) {
	var st graph.State
	err := c.get(ctx, "/v1/graph", &st)
	return st, err
}

// GetEdges fetches the edge projections. With liveOnly set, edges whose
// source record was removed are left out.
func (c *Client) GetEdges(ctx context.Context, liveOnly bool) (Edges, error) {
	path := "/v1/graph/edges"
	if liveOnly {
		path += "?live=true"
	}
	var e Edges
	err := c.get(ctx, path, &e)
	return e, err
}

// GetDebug fetches the debug message log.
func (c *Client) GetDebug(ctx context.Context) ([]string, error) {
	var d DebugLog
	if err := c.get(ctx, "/v1/debug", &d); err != nil {
		return nil, err
	}
	return d.Messages, nil
}

// GetNode fetches a live node with its ports and links.
func (c *Client) GetNode(ctx context.Context, id uint32) (graph.NodeDetail, error) {
	var d graph.NodeDetail
	err := c.get(ctx, "/v1/nodes/"+strconv.FormatUint(uint64(id), 10), &d)
	return d, err
}

// Sessions lists the recorded journal sessions, newest first.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var s []Session
	err := c.get(ctx, "/v1/sessions", &s)
	return s, err
}

// Publish posts an event for the daemon to apply. Unavailable responses and
// network errors are retried with backoff; the daemon answers 503 until its
// synchronizer has subscribed.
func (c *Client) Publish(ctx context.Context, evt events.Event) error {
	body, err := json.Marshal(events.Event{Type: evt.Type, Payload: evt.Payload})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return Retry(ctx, c.backoff, c.attempts, retryable, func() error {
		var acc Accepted
		return c.do(ctx, http.MethodPost, "/v1/events", body, http.StatusAccepted, &acc)
	})
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	// Transport failures surface as *url.Error, which is a net.Error.
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, http.StatusOK, out)
}

// Report downloads a rendered report. format is "csv" or "json"; session
// selects the journal session for the events report.
func (c *Client) Report(ctx context.Context, reportType, format string, liveOnly bool, session string) ([]byte, error) {
	q := url.Values{}
	if format != "" {
		q.Set("format", format)
	}
	if liveOnly {
		q.Set("live", "true")
	}
	if session != "" {
		q.Set("session", session)
	}
	path := "/v1/reports/" + url.PathEscape(reportType)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.send(ctx, http.MethodGet, path, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, want int, out any) error {
	resp, err := c.send(ctx, method, path, body, want)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// send performs a request and converts any status other than want into an
// error. On success the caller owns the response body.
func (c *Client) send(ctx context.Context, method, path string, body []byte, want int) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != want {
		defer resp.Body.Close()
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = fmt.Sprintf("unexpected_status_%d", resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, apiErr
	}
	return resp, nil
}
