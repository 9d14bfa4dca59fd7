// Package bridge talks to the external interpreter process that supplies
// semantics-based type and documentation facts unavailable from syntax
// alone. Every call is best-effort with a bounded timeout; the engine
// degrades to syntactic-only answers when the bridge is slow, absent, or
// broken. Concurrent requests for the same key are coalesced into a single
// in-flight call.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// Sentinel errors for bridge failures. All of them degrade, none of them
// surface to editor requests.
var (
	ErrTimeout     = errors.New("bridge: timeout")
	ErrUnavailable = errors.New("bridge: unavailable")
	ErrNotFound    = errors.New("bridge: not found")
)

// DefaultTimeout bounds a single bridge round trip.
const DefaultTimeout = 300 * time.Millisecond

// Client asks the interpreter for semantic facts.
type Client interface {
	// InferType evaluates the expression at the given position and
	// returns a type description.
	InferType(ctx context.Context, file string, line, col int, expr string) (string, error)
	// LookupDocs returns documentation for a qualified name.
	LookupDocs(ctx context.Context, qualifiedName string) (string, error)
	// Close releases the client's resources.
	Close() error
}

// Nop is the client used when no bridge is configured. Every call reports
// ErrUnavailable immediately.
type Nop struct{}

func (Nop) InferType(context.Context, string, int, int, string) (string, error) {
	return "", ErrUnavailable
}

func (Nop) LookupDocs(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

func (Nop) Close() error { return nil }

// Coalescing wraps a Client so concurrent requests for the same key share
// one in-flight call, and every call carries the configured timeout.
type Coalescing struct {
	inner   Client
	timeout time.Duration
	group   singleflight.Group
}

// NewCoalescing wraps inner. A non-positive timeout falls back to
// DefaultTimeout.
func NewCoalescing(inner Client, timeout time.Duration) *Coalescing {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coalescing{inner: inner, timeout: timeout}
}

func (c *Coalescing) InferType(ctx context.Context, file string, line, col int, expr string) (string, error) {
	key := fmt.Sprintf("type\x00%s\x00%d\x00%d\x00%s", file, line, col, expr)
	return c.do(ctx, key, func(callCtx context.Context) (string, error) {
		return c.inner.InferType(callCtx, file, line, col, expr)
	})
}

func (c *Coalescing) LookupDocs(ctx context.Context, qualifiedName string) (string, error) {
	return c.do(ctx, "docs\x00"+qualifiedName, func(callCtx context.Context) (string, error) {
		return c.inner.LookupDocs(callCtx, qualifiedName)
	})
}

func (c *Coalescing) do(ctx context.Context, key string, call func(context.Context) (string, error)) (string, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		// The shared call gets its own deadline, detached from the first
		// caller's context so a coalesced follower is not cut short by
		// the leader hanging up.
		callCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		v, err := call(callCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		return v, err
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ErrTimeout
	}
}

func (c *Coalescing) Close() error { return c.inner.Close() }
