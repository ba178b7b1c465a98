// Package main implements the meshlite API gateway, which load balances
// product reads over a health-checked backend pool and forwards order
// creation to a fixed order service.
//
// Components:
//
//	┌──────────────────────────────────────────────┐
//	│                  Gateway                     │
//	├──────────────────────────────────────────────┤
//	│  Prober    - polls {backend}/health          │
//	│  Balancer  - rotation of healthy backends    │
//	│  Router    - forward, classify, retry        │
//	│  Server    - /health /status /api/*          │
//	└──────────────────────────────────────────────┘
//
// The prober runs on its own goroutine and replaces the balancer rotation
// after every round; request handlers only read the rotation.
//
// Configuration (environment or config.yml):
//   - LISTEN_ADDR: listen address (default ":3000")
//   - BACKEND_URLS: comma separated product backend pool
//   - ORDER_SERVICE_URL: order service base URL
//   - REQUEST_TIMEOUT: budget per client request, retries included (default 2s)
//   - MAX_ATTEMPTS: rotation members tried per request (default 3)
//   - PROBE_INTERVAL, PROBE_TIMEOUT: health probing (default 5s, 1s)
//   - RATE_LIMIT, RATE_BURST: inbound requests per second, 0 disables
//   - REGISTRY_ADDR, SERVICE_IP, SERVICE_PORT: self registration
//
// Example usage:
//
//	BACKEND_URLS=http://10.0.0.30:5000,http://10.0.0.31:5000 \
//	ORDER_SERVICE_URL=http://10.0.0.40:5000 \
//	./gateway
//
//	curl localhost:3000/api/products
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

	"github.com/dreamware/meshlite/internal/balancer"
	"github.com/dreamware/meshlite/internal/cluster"
	"github.com/dreamware/meshlite/internal/config"
	"github.com/dreamware/meshlite/internal/gateway"
	"github.com/dreamware/meshlite/internal/health"
	"github.com/dreamware/meshlite/internal/logging"
)

func main() {
	cfg, err := config.LoadGateway(config.Options{
		ConfigFile: os.Getenv("CONFIG_FILE"),
		EnvFile:    ".env",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(gateway.ServiceName, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw := build(cfg, log)
	go gw.prober.Run(ctx)

	s := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Strs("pool", cfg.Pool()).
			Str("orders", cfg.OrderServiceURL).
			Msg("gateway listening")
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	reg := cluster.NewRegistrar(cfg.RegistryAddr, log)
	self := cluster.RegisterRequest{
		Name:       gateway.ServiceName,
		IP:         cfg.ServiceIP,
		Port:       cfg.ServicePort,
		InstanceID: cfg.InstanceID,
	}
	go func() {
		if err := reg.Register(ctx, self); err != nil {
			log.Error().Err(err).Msg("registration failed, serving without discovery")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id := self.InstanceID
	if id == "" {
		id = fmt.Sprintf("%s:%d", self.IP, self.Port)
	}
	if err := reg.Deregister(shutdownCtx, self.Name, id); err != nil {
		log.Warn().Err(err).Msg("deregister failed")
	}
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	log.Info().Msg("gateway stopped")
}

// components is the wired gateway
type components struct {
	balancer *balancer.Balancer
	prober   *health.Prober
	router   *gateway.Router
	handler  http.Handler
}

// build wires balancer, prober, router and handlers from cfg.
// Every probe round replaces the balancer rotation.
func build(cfg config.Gateway, log zerolog.Logger) *components {
	bal := balancer.New(cfg.Pool(), log)

	prober := health.NewProber(bal.Pool, cfg.ProbeInterval, cfg.ProbeTimeout, log)
	prober.SetOnRound(func(r health.Round) {
		bal.Update(r.Healthy)
	})

	router := gateway.NewRouter(bal, cfg.RequestTimeout, cfg.MaxAttempts, log)
	srv := gateway.NewServer(router, bal, prober, cfg.OrderServiceURL, log)

	return &components{
		balancer: bal,
		prober:   prober,
		router:   router,
		handler: logging.Chain(srv.Routes(),
			logging.RequestID(),
			logging.AccessLog(log),
			gateway.RateLimit(cfg.RateLimit, cfg.RateBurst),
		),
	}
}
