// Package health probes backend /health endpoints out of band.
//
// A Prober owns a ticker loop that runs independently of request handling.
// Every round sends one GET {addr}/health per target, each bounded by the
// probe timeout, and classifies the target as healthy only on 200 OK.
// Errors, other status codes and timeouts all count as unhealthy. There are
// no retries inside a round; the next tick is the retry.
//
// Completed rounds are passed to an OnRound sink. The gateway feeds them to
// its balancer; the registry uses them to stamp instance health. The prober
// also keeps per-address history (last check, last healthy, consecutive
// failures) for status endpoints.
package health
