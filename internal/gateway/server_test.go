package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dreamware/meshlite/internal/health"
	"github.com/dreamware/meshlite/internal/logging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(pool []string, orderURL string, prober *health.Prober) http.Handler {
	router, bal := newTestRouter(pool, 200*time.Millisecond, 3)
	srv := NewServer(router, bal, prober, orderURL, zerolog.Nop())
	return logging.Chain(srv.Routes(), logging.RequestID())
}

func serve(h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, body))
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestServer(nil, "", nil)
	rec := serve(h, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"api-gateway"}`, rec.Body.String())
}

func TestProductsProxied(t *testing.T) {
	backend := jsonBackend(t, "A", nil)
	h := newTestServer([]string{backend.URL}, "", nil)

	t.Run("list", func(t *testing.T) {
		rec := serve(h, http.MethodGet, "/api/products", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "/products", body["path"])
		assert.Equal(t, backend.URL, rec.Header().Get("X-Backend"))
	})

	t.Run("single item forwarded verbatim", func(t *testing.T) {
		rec := serve(h, http.MethodGet, "/api/products/a%20b?fields=name", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "/products/a%20b?fields=name", body["path"])
	})
}

func TestProductsErrorStatus(t *testing.T) {
	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("<p>", 100)))
	}))
	defer html.Close()

	tests := []struct {
		name   string
		pool   []string
		status int
	}{
		{"unreachable", []string{deadBackend(t)}, http.StatusBadGateway},
		{"malformed", []string{html.URL}, http.StatusInternalServerError},
		{"empty pool", nil, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(tt.pool, "", nil)
			rec := serve(h, http.MethodGet, "/api/products", nil)

			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			if tt.status == http.StatusInternalServerError {
				assert.Len(t, body.Excerpt, 200)
			}
		})
	}
}

func TestCreateOrder(t *testing.T) {
	var gotID atomic.Value
	orders := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID.Store(r.Header.Get(logging.RequestIDHeader))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"customer_id":"c-1","product_id":"1","quantity":2,"total_price":59.98}`, string(body))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order_id":"o-1","status":"created"}`))
	}))
	defer orders.Close()

	// the product pool is never consulted for orders
	h := newTestServer([]string{deadBackend(t)}, orders.URL+"/", nil)

	payload := `{"customer_id":"c-1","product_id":"1","quantity":2,"total_price":59.98}`
	rec := serve(h, http.MethodPost, "/api/orders", bytes.NewBufferString(payload))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"order_id":"o-1","status":"created"}`, rec.Body.String())
	assert.NotEmpty(t, gotID.Load())
}

func TestCreateOrderServiceDown(t *testing.T) {
	h := newTestServer(nil, deadBackend(t), nil)
	rec := serve(h, http.MethodPost, "/api/orders", bytes.NewBufferString(`{}`))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCreateOrderBodyTooLarge(t *testing.T) {
	var calls atomic.Int32
	orders := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer orders.Close()

	h := newTestServer(nil, orders.URL, nil)
	rec := serve(h, http.MethodPost, "/api/orders", bytes.NewReader(bytes.Repeat([]byte("a"), maxBodySize+1)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.JSONEq(t, `{"error":"request body too large"}`, rec.Body.String())
	assert.Zero(t, calls.Load())
}

func TestStatusEndpoint(t *testing.T) {
	a := jsonBackend(t, "A", nil)
	dead := deadBackend(t)
	pool := []string{a.URL, dead}

	router, bal := newTestRouter(pool, time.Second, 1)
	prober := health.NewProber(bal.Pool, time.Minute, 100*time.Millisecond, zerolog.Nop())
	prober.SetCheckFunction(func(ctx context.Context, addr string) error {
		if addr == dead {
			return assert.AnError
		}
		return nil
	})
	prober.SetOnRound(func(r health.Round) { bal.Update(r.Healthy) })
	prober.Refresh(context.Background())

	h := NewServer(router, bal, prober, "", zerolog.Nop()).Routes()
	rec := serve(h, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, pool, status.Rotation.Pool)
	assert.Equal(t, []string{a.URL}, status.Rotation.Active)
	assert.False(t, status.Rotation.FailOpen)
	assert.Equal(t, health.StatusHealthy, status.Backends[a.URL].Status)
	assert.Equal(t, health.StatusUnhealthy, status.Backends[dead].Status)
	assert.Equal(t, 1, status.Backends[dead].ConsecutiveFails)
	assert.Equal(t, "1s", status.RequestTimeout)
}

func TestRateLimit(t *testing.T) {
	backend := jsonBackend(t, "A", nil)
	router, bal := newTestRouter([]string{backend.URL}, time.Second, 1)
	h := logging.Chain(NewServer(router, bal, nil, "", zerolog.Nop()).Routes(), RateLimit(0.001, 1))

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/products", nil).Code)

	rec := serve(h, http.MethodGet, "/api/products", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health", nil).Code)
}

func TestRateLimitDisabled(t *testing.T) {
	h := logging.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), RateLimit(0, 0))
	for i := 0; i < 100; i++ {
		require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/products", nil).Code)
	}
}
