// Package registry implements the in-memory service registry table.
//
// # Model
//
// Instances are keyed by (name, instance id). The instance id defaults to
// "ip:port" so that a restarted process re-registering from the same address
// replaces its previous entry instead of accumulating duplicates.
//
// Every name also has a single-record view: the most recently registered
// instance. Discover and List serve that view, which keeps the simple
// register/discover contract intact:
//
//	store.Register(ServiceRecord{Name: "svc", IP: "10.0.0.1", Port: 5000})
//	store.Register(ServiceRecord{Name: "svc", IP: "10.0.0.2", Port: 5000})
//	rec, _ := store.Discover("svc") // 10.0.0.2
//
// Instances returns every live instance of a name for callers that want to
// balance across them.
//
// # Lifecycle
//
// Records never expire. They stay until Deregister (whole name) or
// DeregisterInstance (one instance) removes them. Health starts as
// HealthUnknown on every registration and is only changed by SetHealth,
// which the registry process calls from its optional instance prober.
//
// # Concurrency
//
// MemoryStore guards its table with one sync.RWMutex. Reads copy records out
// under the read lock, so callers never observe later writes through a value
// they already hold.
package registry
