package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RegisterRequest announces one service instance to the registry
type RegisterRequest struct {
	Name       string `json:"name" validate:"required"`
	IP         string `json:"ip" validate:"required"`
	InstanceID string `json:"instance_id,omitempty"`
	Port       int    `json:"port" validate:"min=1,max=65535"`
}

// StatusResponse is the {"status": ...} acknowledgement used by the registry
type StatusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
}

// ErrorResponse is the JSON error body every service returns
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusError reports a non-2xx response from a JSON call
type StatusError struct {
	URL        string
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %s: %d", e.URL, e.StatusCode)
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// WriteJSON writes v as a JSON response with the given status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg} with the given status
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// DeleteJSON issues a DELETE and decodes a 2xx response into out (if non-nil)
func DeleteJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	return do(req, out)
}

func do(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: req.URL.String(), StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
