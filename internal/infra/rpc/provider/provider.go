// Package provider implements the JSON-RPC transport for probing.
//
// This package contains:
//   - RPCProvider interface: core abstraction for RPC endpoints
//   - HTTPProvider: JSON-RPC 2.0 over HTTP implementation
//   - ProviderMonitor: health and throttle tracking
package provider

import (
	"context"
	"fmt"
	"time"
)

// RPCProvider defines the interface for making JSON-RPC calls against a node.
type RPCProvider interface {
	// GetName returns provider identifier (e.g., "local", "alchemy")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// IsAvailable checks if the provider is healthy enough to use
	IsAvailable() bool

	// Call makes a single RPC request. A missing result (JSON null) is
	// returned as a nil value with a nil error; a well-formed error
	// response is returned as *RPCError.
	Call(ctx context.Context, method string, params []any) (any, error)

	// BatchCall makes multiple RPC calls in one request
	BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error)

	// Close cleans up resources
	Close() error
}

// BatchRequest represents a single request in a batch call.
type BatchRequest struct {
	Method string
	Params []any
}

// BatchResponse represents a single response from a batch call.
type BatchResponse struct {
	Result any
	Error  error
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool
	Latency       time.Duration
	ErrorRate     float64
	LastSuccessAt time.Time
	LastFailureAt time.Time
}

// RPCError is a well-formed JSON-RPC error response. Its presence means
// the node answered; the request itself did not fail in transport.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ThrottleError reports that the node asked the client to back off.
// RetryAfter carries the server-requested delay when the response named
// one; zero means the throttle was inferred from the message body.
type ThrottleError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *ThrottleError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("throttled: %s (retry after %s)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("throttled: %s", e.Message)
}

// JSON-RPC 2.0 error codes the probe layer branches on.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// MethodNotFound reports whether the error says the node does not
// implement the requested method at all.
func (e *RPCError) MethodNotFound() bool {
	return e.Code == CodeMethodNotFound
}

// InvalidParams reports whether the node rejected the parameter shape.
func (e *RPCError) InvalidParams() bool {
	return e.Code == CodeInvalidParams
}
