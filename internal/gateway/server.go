package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dreamware/meshlite/internal/balancer"
	"github.com/dreamware/meshlite/internal/cluster"
	"github.com/dreamware/meshlite/internal/health"
	"github.com/rs/zerolog"
)

// ServiceName is the name the gateway reports on /health and registers under
const ServiceName = "api-gateway"

// ErrorResponse is the body returned for a failed downstream call
type ErrorResponse struct {
	Error   string `json:"error"`
	Backend string `json:"backend,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
}

// StatusResponse describes the rotation and probe history on /status
type StatusResponse struct {
	Backends       map[string]health.TargetHealth `json:"backends"`
	Rotation       balancer.Snapshot              `json:"rotation"`
	RequestTimeout string                         `json:"request_timeout"`
}

// Server serves the gateway HTTP surface
type Server struct {
	router   *Router
	bal      *balancer.Balancer
	prober   *health.Prober
	log      zerolog.Logger
	orderURL string
}

// NewServer creates the gateway handlers. prober may be nil, in which case
// /status reports no probe history.
func NewServer(router *Router, bal *balancer.Balancer, prober *health.Prober, orderURL string, log zerolog.Logger) *Server {
	return &Server{
		router:   router,
		bal:      bal,
		prober:   prober,
		orderURL: strings.TrimSuffix(orderURL, "/"),
		log:      log.With().Str("component", "gateway").Logger(),
	}
}

// Routes returns the gateway mux
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /api/products", s.handleProducts)
	mux.HandleFunc("GET /api/products/{id}", s.handleProducts)
	mux.HandleFunc("POST /api/orders", s.handleCreateOrder)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cluster.WriteJSON(w, http.StatusOK, cluster.StatusResponse{Status: "healthy", Service: ServiceName})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Rotation:       s.bal.Snapshot(),
		Backends:       map[string]health.TargetHealth{},
		RequestTimeout: s.router.Timeout().String(),
	}
	if s.prober != nil {
		resp.Backends = s.prober.Snapshot()
	}
	cluster.WriteJSON(w, http.StatusOK, resp)
}

// handleProducts proxies the list and single-item reads. The path after
// /api is forwarded verbatim, query included.
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.EscapedPath(), "/api")
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	// Client disconnects do not cancel the downstream call; the router budget does.
	ctx := context.WithoutCancel(r.Context())
	resp, err := s.router.Route(ctx, http.MethodGet, path, nil)
	if err != nil {
		s.writeDownstreamError(w, r, err)
		return
	}
	writeResponse(w, resp)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			cluster.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		cluster.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) == 0 {
		body = nil
	}

	ctx := context.WithoutCancel(r.Context())
	resp, err := s.router.Forward(ctx, http.MethodPost, s.orderURL, "/orders", body)
	if err != nil {
		s.writeDownstreamError(w, r, err)
		return
	}
	writeResponse(w, resp)
}

func (s *Server) writeDownstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var de *DownstreamError
	if !errors.As(err, &de) {
		de = &DownstreamError{Kind: DownstreamFailure, Err: err}
	}

	s.log.Warn().
		Err(de.Err).
		Str("kind", de.Kind.String()).
		Str("backend", de.Backend).
		Str("path", r.URL.Path).
		Int("status", de.Status()).
		Msg("downstream call failed")

	cluster.WriteJSON(w, de.Status(), ErrorResponse{
		Error:   de.Err.Error(),
		Backend: de.Backend,
		Excerpt: de.Excerpt,
	})
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Backend", resp.Backend)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
