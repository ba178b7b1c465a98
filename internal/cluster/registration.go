package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Registration defaults
const (
	DefaultRegisterAttempts = 5
	DefaultRegisterDelay    = 2 * time.Second
	DefaultRegisterTimeout  = 2 * time.Second
)

// RegistrationError is returned when every registration attempt failed.
// Callers log it and keep serving; an unregistered service still works,
// it just cannot be discovered.
type RegistrationError struct {
	Err      error
	Registry string
	Attempts int
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register with %s failed after %d attempts: %v", e.Registry, e.Attempts, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// Registrar announces a service instance to the registry at startup
type Registrar struct {
	log      zerolog.Logger
	registry string
	attempts int
	delay    time.Duration
	timeout  time.Duration
}

// NewRegistrar creates a registrar for the registry at registryAddr
// using the default retry policy: 5 attempts, 2s apart, 2s per attempt.
func NewRegistrar(registryAddr string, log zerolog.Logger) *Registrar {
	return &Registrar{
		registry: strings.TrimRight(registryAddr, "/"),
		attempts: DefaultRegisterAttempts,
		delay:    DefaultRegisterDelay,
		timeout:  DefaultRegisterTimeout,
		log:      log.With().Str("component", "registrar").Logger(),
	}
}

// WithRetry overrides the retry policy
func (r *Registrar) WithRetry(attempts int, delay, timeout time.Duration) *Registrar {
	if attempts > 0 {
		r.attempts = attempts
	}
	if delay >= 0 {
		r.delay = delay
	}
	if timeout > 0 {
		r.timeout = timeout
	}
	return r
}

// Register posts req to the registry's /register endpoint, retrying with a
// fixed delay until a 200 arrives or the attempts run out.
func (r *Registrar) Register(ctx context.Context, req RegisterRequest) error {
	target := r.registry + "/register"
	var lastErr error

	for attempt := 1; attempt <= r.attempts; attempt++ {
		lastErr = r.post(ctx, target, req)
		if lastErr == nil {
			r.log.Info().
				Str("service", req.Name).
				Str("registry", r.registry).
				Int("attempt", attempt).
				Msg("registered with registry")
			return nil
		}

		r.log.Warn().
			Err(lastErr).
			Str("service", req.Name).
			Int("attempt", attempt).
			Int("max_attempts", r.attempts).
			Msg("registration attempt failed")

		if attempt == r.attempts {
			break
		}

		timer := time.NewTimer(r.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &RegistrationError{Registry: r.registry, Attempts: attempt, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	return &RegistrationError{Registry: r.registry, Attempts: r.attempts, Err: lastErr}
}

// Deregister removes one instance from the registry. It makes a single attempt.
func (r *Registrar) Deregister(ctx context.Context, name, instanceID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	target := fmt.Sprintf("%s/deregister/%s/%s", r.registry, url.PathEscape(name), url.PathEscape(instanceID))
	if err := DeleteJSON(ctx, target, nil); err != nil {
		return fmt.Errorf("deregister %s/%s: %w", name, instanceID, err)
	}
	r.log.Info().Str("service", name).Str("instance_id", instanceID).Msg("deregistered from registry")
	return nil
}

// post makes one registration attempt. Only a 200 counts as accepted; the
// acknowledgement body is not inspected.
func (r *Registrar) post(ctx context.Context, target string, req RegisterRequest) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: target, StatusCode: resp.StatusCode, Body: string(msg)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
