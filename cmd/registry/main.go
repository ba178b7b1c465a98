// Package main implements the meshlite service registry, which tracks the
// live instances of every named backend service.
//
// Backends announce themselves on startup with POST /register and are
// looked up by name. The table lives in memory only; records persist until
// they are explicitly deregistered.
//
// HTTP API:
//
//	POST   /register                          - register or refresh an instance
//	GET    /discover/{name}                   - most recently registered instance
//	GET    /discover/{name}/instances         - every instance of name
//	GET    /services                          - name → current record
//	DELETE /deregister/{name}                 - drop every instance of name
//	DELETE /deregister/{name}/{instance_id}   - drop one instance
//	GET    /health                            - liveness
//
// Configuration (environment or config.yml):
//   - LISTEN_ADDR: listen address (default ":8500")
//   - PROBE_INTERVAL: probe registered instances this often (default 0, off)
//   - PROBE_TIMEOUT: per-instance probe timeout (default 1s)
//   - LOG_LEVEL, LOG_FORMAT: zerolog level and console|json output
//
// Example usage:
//
//	LISTEN_ADDR=:8500 PROBE_INTERVAL=10s ./registry
//
//	curl -X POST localhost:8500/register \
//	  -d '{"name":"product-service","ip":"10.0.0.30","port":5000}'
//	curl localhost:8500/discover/product-service
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/dreamware/meshlite/internal/cluster"
	"github.com/dreamware/meshlite/internal/config"
	"github.com/dreamware/meshlite/internal/health"
	"github.com/dreamware/meshlite/internal/logging"
	"github.com/dreamware/meshlite/internal/registry"
)

const notFoundMsg = "Service not found"

func main() {
	cfg, err := config.LoadRegistry(config.Options{
		ConfigFile: os.Getenv("CONFIG_FILE"),
		EnvFile:    ".env",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "registry: %v\n", err)
		os.Exit(1)
	}
	log := logging.New("service-registry", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := newServer(registry.NewMemoryStore(), log)
	if cfg.ProbeInterval > 0 {
		go srv.newProber(cfg.ProbeInterval, cfg.ProbeTimeout).Run(ctx)
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           logging.Chain(srv.routes(), logging.RequestID(), logging.AccessLog(log)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("registry listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info().Msg("registry stopped")
}

type server struct {
	store    registry.Store
	validate *validator.Validate
	log      zerolog.Logger
}

func newServer(store registry.Store, log zerolog.Logger) *server {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json field names in validation errors
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &server{store: store, validate: v, log: log}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("GET /discover/{name}", s.handleDiscover)
	mux.HandleFunc("GET /discover/{name}/instances", s.handleInstances)
	mux.HandleFunc("GET /services", s.handleServices)
	mux.HandleFunc("DELETE /deregister/{name}", s.handleDeregister)
	mux.HandleFunc("DELETE /deregister/{name}/{instance_id}", s.handleDeregisterInstance)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		cluster.WriteJSON(w, http.StatusOK, cluster.StatusResponse{Status: "healthy", Service: "service-registry"})
	})
	return mux
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cluster.WriteError(w, http.StatusBadRequest, "bad json")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		cluster.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	conf := s.store.Register(registry.ServiceRecord{
		Name:       req.Name,
		InstanceID: req.InstanceID,
		IP:         req.IP,
		Port:       req.Port,
	})
	s.log.Info().
		Str("name", req.Name).
		Str("ip", req.IP).
		Int("port", req.Port).
		Msg("service registered")

	cluster.WriteJSON(w, http.StatusOK, conf)
}

func (s *server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Discover(r.PathValue("name"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, rec)
}

func (s *server) handleInstances(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.Instances(r.PathValue("name"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, recs)
}

func (s *server) handleServices(w http.ResponseWriter, r *http.Request) {
	cluster.WriteJSON(w, http.StatusOK, s.store.List())
}

func (s *server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.store.Deregister(name); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.log.Info().Str("name", name).Msg("service deregistered")
	cluster.WriteJSON(w, http.StatusOK, cluster.StatusResponse{Status: "deregistered"})
}

func (s *server) handleDeregisterInstance(w http.ResponseWriter, r *http.Request) {
	name, id := r.PathValue("name"), r.PathValue("instance_id")
	if err := s.store.DeregisterInstance(name, id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.log.Info().Str("name", name).Str("instance_id", id).Msg("instance deregistered")
	cluster.WriteJSON(w, http.StatusOK, cluster.StatusResponse{Status: "deregistered"})
}

func (s *server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		cluster.WriteError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	cluster.WriteError(w, http.StatusInternalServerError, err.Error())
}

// newProber probes every registered instance and stamps the result on its record
func (s *server) newProber(interval, timeout time.Duration) *health.Prober {
	targets := func() []string {
		var addrs []string
		for _, rec := range s.store.All() {
			addrs = append(addrs, rec.Addr())
		}
		return addrs
	}
	p := health.NewProber(targets, interval, timeout, s.log)
	p.SetOnRound(s.applyRound)
	return p
}

// applyRound copies a probe round onto the registry records.
// Instances registered after the round started stay unknown.
func (s *server) applyRound(round health.Round) {
	for _, rec := range s.store.All() {
		if rec.RegisteredAt.After(round.Started) {
			continue
		}
		h := registry.HealthUnhealthy
		if round.IsHealthy(rec.Addr()) {
			h = registry.HealthHealthy
		}
		// the instance may have been deregistered since All
		if err := s.store.SetHealth(rec.Name, rec.InstanceID, h); err != nil && !errors.Is(err, registry.ErrNotFound) {
			s.log.Warn().Err(err).Str("name", rec.Name).Msg("failed to record health")
		}
	}
}

// validationMessage turns validator errors into a single client message
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "min", "max":
			msgs = append(msgs, fe.Field()+" must be between 1 and 65535")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
