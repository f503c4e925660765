package serverdriver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/19Mahmoud19/joplin/internal/driver"
	"github.com/19Mahmoud19/joplin/internal/version"
	"github.com/imroc/req/v3"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

const (
	// HeaderSessionID carries the session handed over by the login flow.
	HeaderSessionID = "X-API-AUTH"
	defaultTimeout  = 60 * time.Second
)

// Transport is the authenticated HTTP collaborator the driver is built on.
// Errors carry the response status in a *driver.TransportError.
type Transport interface {
	Exec(ctx context.Context, method, path string, body any, query url.Values, opts ExecOptions) ([]byte, error)
}

type ExecOptions struct {
	// RawBody sends body as bytes instead of JSON.
	RawBody bool
	Format  driver.ResponseFormat
}

// apiError is the error document returned by the server.
type apiError struct {
	Message string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// Client is the Transport used in production.
type Client struct {
	client  *req.Client
	limiter *limiter.Limiter
	key     string
}

type ClientConfig struct {
	BaseURL   string        `mapstructure:"url"`
	SessionID string        `mapstructure:"session_id"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// RateLimit caps outgoing requests, in limiter notation ("20-S", "600-M").
	// Empty means unlimited.
	RateLimit string `mapstructure:"rate_limit"`
}

func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("server url missing")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	if c.RateLimit != "" {
		if _, err := limiter.NewRateFromFormatted(c.RateLimit); err != nil {
			return fmt.Errorf("invalid rate limit %q: %w", c.RateLimit, err)
		}
	}
	return nil
}

func NewClient(cfg *ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := req.C().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetUserAgent(version.UserAgent()).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	if cfg.SessionID != "" {
		client.SetCommonHeader(HeaderSessionID, cfg.SessionID)
	}

	c := &Client{client: client, key: cfg.BaseURL}
	if cfg.RateLimit != "" {
		rate, _ := limiter.NewRateFromFormatted(cfg.RateLimit)
		c.limiter = limiter.New(memory.NewStore(), rate)
	}
	return c, nil
}

// wait blocks until the rate limiter lets one more request through.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	for {
		lc, err := c.limiter.Get(ctx, c.key)
		if err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		if !lc.Reached {
			return nil
		}

		delay := time.Until(time.Unix(lc.Reset, 0))
		if delay <= 0 {
			delay = 10 * time.Millisecond
		}
		slog.Debug("rate limit reached", "limit", lc.Limit, "wait", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) Exec(ctx context.Context, method, path string, body any, query url.Values, opts ExecOptions) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	r := c.client.R().SetContext(ctx)

	if len(query) > 0 {
		r.SetQueryString(query.Encode())
	}

	switch {
	case body == nil:
	case opts.RawBody:
		data, ok := body.([]byte)
		if !ok {
			return nil, fmt.Errorf("%s %s: raw body must be []byte, got %T", method, path, body)
		}
		r.SetBodyBytes(data).SetContentType("application/octet-stream")
	default:
		r.SetBodyJsonMarshal(body)
	}

	if opts.Format == driver.FormatBinary {
		r.SetHeader("Accept", "application/octet-stream")
	}

	resp, err := r.Send(method, path)
	if err != nil {
		return nil, &driver.TransportError{Op: method, Path: path, Err: err}
	}

	data, err := resp.ToBytes()
	if err != nil {
		return nil, &driver.TransportError{Op: method, Path: path, Code: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, newTransportError(method, path, resp.StatusCode, data)
	}

	return data, nil
}

func newTransportError(method, path string, code int, body []byte) *driver.TransportError {
	te := &driver.TransportError{Op: method, Path: path, Code: code}

	var apiErr apiError
	if err := jsonUnmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		te.Message = apiErr.Message
	} else {
		te.Message = http.StatusText(code)
	}
	return te
}

var _ Transport = (*Client)(nil)
