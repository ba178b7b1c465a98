package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/dreamware/meshlite/internal/balancer"
	"github.com/dreamware/meshlite/internal/logging"
	"github.com/rs/zerolog"
)

const (
	// DefaultRequestTimeout is the budget for one client request, retries included
	DefaultRequestTimeout = 2 * time.Second
	// DefaultMaxAttempts bounds how many rotation members one request may try
	DefaultMaxAttempts = 3

	maxBodySize = 10 << 20
)

// Response is a backend answer that parsed as JSON
type Response struct {
	Header     http.Header
	Backend    string
	Body       []byte
	StatusCode int
	Attempts   int
}

// Router selects backends from a Balancer and forwards requests to them
type Router struct {
	bal         *balancer.Balancer
	client      *http.Client
	log         zerolog.Logger
	timeout     time.Duration
	maxAttempts int
}

// NewRouter creates a router over bal. Non-positive timeout or maxAttempts
// fall back to the defaults.
func NewRouter(bal *balancer.Balancer, timeout time.Duration, maxAttempts int, log zerolog.Logger) *Router {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Router{
		bal:         bal,
		client:      &http.Client{},
		timeout:     timeout,
		maxAttempts: maxAttempts,
		log:         log.With().Str("component", "router").Logger(),
	}
}

// Timeout returns the per-request budget
func (r *Router) Timeout() time.Duration {
	return r.timeout
}

// Route forwards a request to the next backend of the rotation.
//
// If the chosen backend cannot be reached, another rotation member that has
// not been tried yet is picked, up to maxAttempts, all inside one timeout
// budget. When the budget or the rotation is exhausted the last failure is
// returned.
func (r *Router) Route(ctx context.Context, method, path string, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		tried   []string
		lastErr *DownstreamError
	)
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		var (
			backend string
			err     error
		)
		if attempt == 1 {
			backend, err = r.bal.Next()
		} else {
			backend, err = r.bal.NextExcluding(tried)
		}
		if err != nil {
			if lastErr != nil {
				break
			}
			return nil, &DownstreamError{Kind: DownstreamFailure, Err: err}
		}
		tried = append(tried, backend)

		resp, err := r.forward(ctx, method, backend, path, body)
		if err == nil {
			resp.Attempts = attempt
			return resp, nil
		}

		lastErr = classify(backend, err)
		if !lastErr.retryable() || ctx.Err() != nil {
			break
		}
		r.log.Warn().
			Err(lastErr.Err).
			Str("backend", backend).
			Int("attempt", attempt).
			Msg("backend failed, trying sibling")
	}
	return nil, lastErr
}

// Forward sends one request to backend+path within the router timeout.
// The backend's status and body are passed back unchanged as long as the
// body is valid JSON.
func (r *Router) Forward(ctx context.Context, method, backend, path string, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.forward(ctx, method, backend, path, body)
	if err != nil {
		return nil, classify(backend, err)
	}
	resp.Attempts = 1
	return resp, nil
}

func (r *Router) forward(ctx context.Context, method, backend, path string, body []byte) (*Response, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, backend+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if id := logging.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(logging.RequestIDHeader, id)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, malformed(backend, resp.StatusCode, data)
	}

	r.log.Debug().
		Str("backend", backend).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("forwarded")

	return &Response{
		Backend:    backend,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
