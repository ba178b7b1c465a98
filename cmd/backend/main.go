// Package main implements the demo backend that stands in for the product
// and order services behind the gateway.
//
// On startup the backend seeds its product catalog, starts serving, and
// announces itself to the registry. Registration is retried and never
// fatal: a backend the registry cannot reach still serves its own traffic.
// On shutdown it deregisters its instance.
//
// HTTP API:
//
//	GET  /health          - {"status":"healthy","service":<name>}
//	GET  /products        - product list
//	GET  /products/{id}   - one product or 404
//	POST /orders          - create an order, 201 {"order_id","status":"created"}
//	GET  /orders/{id}     - one order or 404
//
// Configuration (environment or config.yml):
//   - LISTEN_ADDR: listen address (default ":5000")
//   - SERVICE_NAME: name registered with the registry (default "product-service")
//   - SERVICE_IP, SERVICE_PORT: advertised address (default 127.0.0.1:5000)
//   - INSTANCE_ID: registry instance id (default ip:port)
//   - REGISTRY_ADDR: registry URL (default "http://127.0.0.1:8500")
//
// Example usage:
//
//	SERVICE_IP=10.0.0.30 REGISTRY_ADDR=http://10.0.0.10:8500 ./backend
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/meshlite/internal/cluster"
	"github.com/dreamware/meshlite/internal/config"
	"github.com/dreamware/meshlite/internal/logging"
)

func main() {
	cfg, err := config.LoadBackend(config.Options{
		ConfigFile: os.Getenv("CONFIG_FILE"),
		EnvFile:    ".env",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "backend: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := newBackend(cfg.ServiceName, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed catalog")
	}

	s := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           logging.Chain(b.routes(), logging.RequestID(), logging.AccessLog(log)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Str("public", fmt.Sprintf("%s:%d", cfg.ServiceIP, cfg.ServicePort)).
			Msg("backend listening")
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	reg := cluster.NewRegistrar(cfg.RegistryAddr, log)
	req := cluster.RegisterRequest{
		Name:       cfg.ServiceName,
		IP:         cfg.ServiceIP,
		Port:       cfg.ServicePort,
		InstanceID: cfg.InstanceID,
	}
	go register(ctx, reg, req, log)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := reg.Deregister(shutdownCtx, req.Name, instanceID(req)); err != nil {
		log.Warn().Err(err).Msg("deregister failed")
	}
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	log.Info().Msg("backend stopped")
}

// register announces the instance. Failure is logged and the backend keeps
// serving.
func register(ctx context.Context, reg *cluster.Registrar, req cluster.RegisterRequest, log zerolog.Logger) {
	if err := reg.Register(ctx, req); err != nil {
		log.Error().Err(err).Msg("registration failed, serving without discovery")
	}
}

// instanceID mirrors the registry's default of ip:port
func instanceID(req cluster.RegisterRequest) string {
	if req.InstanceID != "" {
		return req.InstanceID
	}
	return fmt.Sprintf("%s:%d", req.IP, req.Port)
}
