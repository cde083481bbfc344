// Package httpapi is the transport to the remote analysis service: a request
// client with an explicit middleware chain, and one method per endpoint.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/errs"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/metrics"
	"go.uber.org/zap"
)

type ClientConfig struct {
	BaseURL        string
	ReadTimeout    time.Duration
	LongTimeout    time.Duration
	DefaultHeaders map[string]string
}

type Client struct {
	baseURL     string
	http        *http.Client
	readTimeout time.Duration
	longTimeout time.Duration
	requestMW   []RequestMiddleware
	responseMW  []ResponseMiddleware
	logger      *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client. Its Timeout should be
// zero; per-call timeouts come from the client config.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRequestMiddleware appends to the request chain, after the defaults.
func WithRequestMiddleware(mw ...RequestMiddleware) Option {
	return func(c *Client) { c.requestMW = append(c.requestMW, mw...) }
}

// WithResponseMiddleware appends to the response chain, before status checking.
func WithResponseMiddleware(mw ...ResponseMiddleware) Option {
	return func(c *Client) { c.responseMW = append(c.responseMW, mw...) }
}

// NewClient builds a client whose chains are, in order:
// request: default headers, trace context, logging, then any extra middleware;
// response: logging, any extra middleware, then status checking.
func NewClient(cfg ClientConfig, logger *zap.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.LongTimeout <= 0 {
		cfg.LongTimeout = 5 * time.Minute
	}

	headers := map[string]string{"Accept": "application/json"}
	for k, v := range cfg.DefaultHeaders {
		headers[k] = v
	}

	c := &Client{
		baseURL:     strings.TrimRight(base.String(), "/"),
		http:        &http.Client{},
		readTimeout: cfg.ReadTimeout,
		longTimeout: cfg.LongTimeout,
		requestMW:   []RequestMiddleware{DefaultHeaders(headers), TraceContext(), LogRequest(logger)},
		responseMW:  []ResponseMiddleware{LogResponse(logger)},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.responseMW = append(c.responseMW, CheckStatus())
	return c, nil
}

// BaseURL is the service root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

type call struct {
	op          string
	method      string
	path        string
	body        io.Reader
	contentType string
	long        bool
	out         any
}

func (c *Client) jsonCall(op, method, path string, in, out any) (call, error) {
	cl := call{op: op, method: method, path: path, out: out}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return cl, fmt.Errorf("%s: encode body: %w", op, err)
		}
		cl.body = bytes.NewReader(data)
		cl.contentType = "application/json"
	}
	return cl, nil
}

func (c *Client) do(ctx context.Context, cl call) error {
	resp, cancel, err := c.send(ctx, cl)
	if err != nil {
		return err
	}
	defer cancel()
	defer resp.Body.Close()

	if cl.out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil {
		return &errs.TransportError{Op: cl.op, Method: cl.method, Path: cl.path, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// send runs the request through both middleware chains. On success the caller
// must close the body and then call cancel.
func (c *Client) send(ctx context.Context, cl call) (*http.Response, context.CancelFunc, error) {
	timeout := c.readTimeout
	if cl.long {
		timeout = c.longTimeout
	}
	ctx, cancel := context.WithTimeout(withOperation(ctx, cl.op), timeout)

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, cl.body)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%s: build request: %w", cl.op, err)
	}
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}
	for _, mw := range c.requestMW {
		if req, err = mw(req); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("%s: request middleware: %w", cl.op, err)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.RemoteRequestDuration.WithLabelValues(cl.op).Observe(time.Since(start).Seconds())
	if err != nil {
		cancel()
		metrics.RemoteRequestsTotal.WithLabelValues(cl.op, "error").Inc()
		return nil, nil, &errs.TransportError{Op: cl.op, Method: cl.method, Path: cl.path, Err: err}
	}
	metrics.RemoteRequestsTotal.WithLabelValues(cl.op, strconv.Itoa(resp.StatusCode/100)+"xx").Inc()

	for _, mw := range c.responseMW {
		if resp, err = mw(resp); err != nil {
			cancel()
			var te *errs.TransportError
			if errors.As(err, &te) {
				return nil, nil, err
			}
			return nil, nil, fmt.Errorf("%s: response middleware: %w", cl.op, err)
		}
	}
	return resp, cancel, nil
}

// cancelOnClose ties a per-call timeout to the lifetime of a streamed body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r cancelOnClose) Close() error {
	err := r.ReadCloser.Close()
	r.cancel()
	return err
}
