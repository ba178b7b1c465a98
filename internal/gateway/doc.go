// Package gateway implements the health-aware API gateway.
//
// Reads of the product catalog are load balanced over the rotation kept by
// package balancer. A backend that cannot be reached is replaced by an
// untried sibling within the same request budget. Order creation goes to a
// single fixed order service and is never retried.
//
// Downstream failures reach the client as JSON {"error": ...} with a status
// chosen by DownstreamError.Status:
//
//	timeout            504
//	connection failed  502
//	non-JSON body      500 (with an excerpt of the body)
//	anything else      503
package gateway
