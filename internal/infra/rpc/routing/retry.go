// Package routing classifies RPC failures and applies bounded retry.
package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/vietddude/histprobe/internal/infra/rpc/provider"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig provides sensible defaults for probing: short and
// bounded, since unresolved calls surface as indeterminate verdicts
// rather than run failures.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:  2,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// Class buckets an error by what it says about the node.
type Class int

const (
	// ClassTransport covers timeouts, refused connections, bad HTTP
	// statuses and malformed bodies. Nothing is known about the data;
	// the call may be retried.
	ClassTransport Class = iota

	// ClassThrottle covers rate limiting and IP blocks. Retryable after
	// backoff.
	ClassThrottle

	// ClassRemote covers well-formed JSON-RPC error responses. The node
	// answered authoritatively; retrying the same request is pointless.
	ClassRemote
)

// Classify determines the class of a given error.
func Classify(err error) Class {
	if err == nil {
		return ClassTransport // Should not happen
	}

	var throttleErr *provider.ThrottleError
	if errors.As(err, &throttleErr) {
		return ClassThrottle
	}

	var rpcErr *provider.RPCError
	if errors.As(err, &rpcErr) {
		return ClassRemote
	}

	s := strings.ToLower(err.Error())
	if strings.Contains(s, "429") || strings.Contains(s, "too many requests") ||
		strings.Contains(s, "403") || strings.Contains(s, "forbidden") ||
		strings.Contains(s, "throttle") || strings.Contains(s, "quota") ||
		strings.Contains(s, "rate limit") {
		return ClassThrottle
	}

	return ClassTransport
}

// CallWithRetry executes an RPC call, retrying transport and throttle
// failures with exponential backoff. Remote errors return immediately.
func CallWithRetry(
	ctx context.Context,
	p provider.RPCProvider,
	method string,
	params []any,
	cfg RetryConfig,
) (any, error) {
	retries := cfg.MaxAttempts
	if retries < 0 {
		retries = 0
	}
	backoff := retry.NewExponential(cfg.InitialDelay)
	backoff = retry.WithCappedDuration(cfg.MaxDelay, backoff)
	// MaxAttempts of zero still makes the initial call.
	backoff = retry.WithMaxRetries(uint64(retries), backoff)

	var result any
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var callErr error
		result, callErr = p.Call(ctx, method, params)
		if callErr == nil {
			return nil
		}
		if Classify(callErr) == ClassRemote {
			return callErr
		}

		// A throttled node names its own delay; wait it out (capped)
		// before the backoff schedule adds its share.
		var throttleErr *provider.ThrottleError
		if errors.As(callErr, &throttleErr) && throttleErr.RetryAfter > 0 {
			wait := throttleErr.RetryAfter
			if wait > cfg.MaxDelay {
				wait = cfg.MaxDelay
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		return retry.RetryableError(callErr)
	})
	if err != nil {
		if Classify(err) == ClassRemote {
			return nil, err
		}
		return nil, fmt.Errorf("%s failed after %d attempts: %w", method, cfg.MaxAttempts+1, err)
	}
	return result, nil
}
