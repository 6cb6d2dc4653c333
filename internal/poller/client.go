package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/HerbHall/bananapuck/internal/telemetry"
	"github.com/HerbHall/bananapuck/internal/version"
	"github.com/HerbHall/bananapuck/pkg/roles"
)

// Failure classes, used as the reason label of the failure counter.
var (
	ErrTransport = errors.New("transport failure")
	ErrStatus    = errors.New("unexpected status")
	ErrDecode    = errors.New("decode failure")
)

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// Endpoints are the device backend URLs. Empty URLs disable the
// corresponding operation.
type Endpoints struct {
	Telemetry string
	Alerts    string
	Ack       string
	Clear     string
}

// Client talks to the device backend.
type Client struct {
	http      *http.Client
	endpoints Endpoints
	now       func() time.Time
}

// NewClient creates a client. A zero timeout leaves the transport's own
// behaviour in charge.
func NewClient(endpoints Endpoints, timeout time.Duration) *Client {
	return &Client{
		http:      &http.Client{Timeout: timeout},
		endpoints: endpoints,
		now:       time.Now,
	}
}

// FetchSample GETs and decodes the telemetry document.
func (c *Client) FetchSample(ctx context.Context) (telemetry.Sample, error) {
	if c.endpoints.Telemetry == "" {
		return telemetry.Sample{}, roles.ErrNotConfigured
	}
	body, err := c.get(ctx, c.endpoints.Telemetry)
	if err != nil {
		return telemetry.Sample{}, err
	}
	s, err := telemetry.Decode(body, c.now())
	if err != nil {
		return telemetry.Sample{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return s, nil
}

// FetchAlerts GETs and decodes the backend-computed alert list.
func (c *Client) FetchAlerts(ctx context.Context) ([]telemetry.RemoteAlert, error) {
	if c.endpoints.Alerts == "" {
		return nil, roles.ErrNotConfigured
	}
	body, err := c.get(ctx, c.endpoints.Alerts)
	if err != nil {
		return nil, err
	}
	alerts, err := telemetry.DecodeAlerts(body, c.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return alerts, nil
}

// Ack POSTs {"type": alertType} to the acknowledgment endpoint.
func (c *Client) Ack(ctx context.Context, alertType string) error {
	if c.endpoints.Ack == "" {
		return roles.ErrNotConfigured
	}
	body, err := json.Marshal(map[string]string{"type": alertType})
	if err != nil {
		return fmt.Errorf("marshal ack: %w", err)
	}
	return c.post(ctx, c.endpoints.Ack, body)
}

// Clear POSTs to the clear-all endpoint.
func (c *Client) Clear(ctx context.Context) error {
	if c.endpoints.Clear == "" {
		return roles.ErrNotConfigured
	}
	return c.post(ctx, c.endpoints.Clear, nil)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL %q: %w", ErrTransport, url, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "BananaPuck/"+version.Short())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrTransport, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody)) //nolint:errcheck // drain body for connection reuse
		return nil, fmt.Errorf("%w: GET %s: HTTP %d", ErrStatus, url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrTransport, url, err)
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: invalid URL %q: %w", ErrTransport, url, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "BananaPuck/"+version.Short())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST %s: %w", ErrTransport, url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody)) //nolint:errcheck // drain body for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: POST %s: HTTP %d", ErrStatus, url, resp.StatusCode)
	}
	return nil
}

// failureReason maps an error to its counter label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrStatus):
		return "status"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}
