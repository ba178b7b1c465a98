// Package cluster holds the wire types shared by the registry, the gateway
// and backend services, plus the client side of registration.
//
// # Communication Protocol
//
// Everything is HTTP/JSON:
//
// Registration (POST /register):
//   - A service announces {name, ip, port[, instance_id]} once at startup
//   - The registry answers 200 {"status":"registered","service":name}
//
// Deregistration (DELETE /deregister/{name}/{instance_id}):
//   - Sent on graceful shutdown so the registry drops the instance
//
// Health Checking (GET /health):
//   - Probed by the gateway and, optionally, the registry
//   - Only 200 OK counts as healthy
//
// # Registration Policy
//
// Registrar retries a failed registration up to 5 times with a fixed 2 second
// delay, each attempt bounded by a 2 second timeout. Running out of attempts
// yields a *RegistrationError. Registration failure is not fatal: callers log
// it and keep serving their own traffic.
//
//	reg := cluster.NewRegistrar("http://127.0.0.1:8500", log)
//	err := reg.Register(ctx, cluster.RegisterRequest{Name: "product-service", IP: "10.0.0.30", Port: 5000})
//	if err != nil {
//	    log.Warn().Err(err).Msg("continuing without registration")
//	}
//
// # Helpers
//
// Registration and DeleteJSON share one http.Client with a 5 second
// ceiling; callers pass a context to bound individual calls more tightly.
// Rejected calls come back as *StatusError.
package cluster
