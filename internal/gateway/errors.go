package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"unicode/utf8"
)

// DownstreamKind classifies why a forwarded call failed
type DownstreamKind int

const (
	// DownstreamFailure is any transport or local error not covered below
	DownstreamFailure DownstreamKind = iota
	// DownstreamTimeout means the backend did not answer within the budget
	DownstreamTimeout
	// DownstreamUnreachable means no connection could be established
	DownstreamUnreachable
	// DownstreamMalformedResponse means the backend answered with a non-JSON body
	DownstreamMalformedResponse
)

// maxExcerpt bounds the raw body quoted back for a malformed response
const maxExcerpt = 200

func (k DownstreamKind) String() string {
	switch k {
	case DownstreamTimeout:
		return "timeout"
	case DownstreamUnreachable:
		return "unreachable"
	case DownstreamMalformedResponse:
		return "malformed_response"
	default:
		return "failure"
	}
}

// DownstreamError is a failed forward to one backend
type DownstreamError struct {
	Err     error
	Backend string
	Excerpt string // first characters of a non-JSON body
	Kind    DownstreamKind
}

func (e *DownstreamError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("downstream %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("downstream %s (%s): %v", e.Kind, e.Backend, e.Err)
}

func (e *DownstreamError) Unwrap() error { return e.Err }

// Status maps the failure kind to the status returned to the client
func (e *DownstreamError) Status() int {
	switch e.Kind {
	case DownstreamTimeout:
		return http.StatusGatewayTimeout
	case DownstreamUnreachable:
		return http.StatusBadGateway
	case DownstreamMalformedResponse:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

// retryable reports whether a sibling backend may be tried after e.
// A malformed response means the backend did answer, so it is final.
func (e *DownstreamError) retryable() bool {
	return e.Kind == DownstreamUnreachable || e.Kind == DownstreamFailure
}

// classify wraps a transport error from backend into a DownstreamError
func classify(backend string, err error) *DownstreamError {
	var de *DownstreamError
	if errors.As(err, &de) {
		return de
	}

	var (
		netErr net.Error
		opErr  *net.OpError
	)
	kind := DownstreamFailure
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		kind = DownstreamTimeout
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.As(err, &opErr) && opErr.Op == "dial":
		kind = DownstreamUnreachable
	}
	return &DownstreamError{Kind: kind, Backend: backend, Err: err}
}

// malformed builds the error for a backend that answered with a non-JSON body
func malformed(backend string, status int, body []byte) *DownstreamError {
	return &DownstreamError{
		Kind:    DownstreamMalformedResponse,
		Backend: backend,
		Err:     fmt.Errorf("backend answered %d with a non-JSON body", status),
		Excerpt: excerpt(body),
	}
}

// excerpt returns at most maxExcerpt characters of body
func excerpt(body []byte) string {
	if utf8.RuneCount(body) <= maxExcerpt {
		return string(body)
	}
	n := 0
	for range maxExcerpt {
		_, size := utf8.DecodeRune(body[n:])
		n += size
	}
	return string(body[:n])
}
