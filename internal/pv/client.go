package pv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for process-variable access.
var (
	// ErrNotFound means the PV name is unknown to the backend. Always a
	// caller error, never retried.
	ErrNotFound = errors.New("pv: not found")

	// ErrConnection means the backend could not be reached or a
	// read/write failed in transit. Callers may retry with backoff.
	ErrConnection = errors.New("pv: connection failed")
)

// Update is an asynchronous value change delivered to subscribers.
type Update struct {
	Name      string
	Value     float64
	Timestamp time.Time
}

// Handler receives subscription updates. Handlers must not block: the
// backend delivers updates synchronously to all current subscribers
// before the triggering Put returns.
type Handler func(Update)

// Unsubscribe cancels a subscription. Safe to call more than once.
type Unsubscribe func()

// Client is the process-variable boundary the orchestrator and quench
// monitors operate through. The simulated backend implements it in-process;
// a channel-access backend would implement the same contract against live
// hardware. Selection happens at wiring time (SCLINAC_PV_PROTOCOL), the
// callers are agnostic.
//
// All methods must be safe for concurrent use by many callers.
type Client interface {
	// Connect establishes the backend connection. It must be called
	// before Get/Put/Subscribe and has its own bounded-retry contract
	// (see ConnectWithRetry), independent of the orchestrator's
	// transition retry policy.
	Connect(ctx context.Context) error

	// Get reads the current value of a PV.
	Get(ctx context.Context, name string) (float64, error)

	// Put writes a value. The write is visible to subsequent Gets and
	// delivered to all current subscribers before Put returns.
	Put(ctx context.Context, name string, value float64) error

	// Subscribe registers a handler for changes to one PV.
	Subscribe(name string, handler Handler) (Unsubscribe, error)

	// Close releases backend resources.
	Close() error
}

// ConnectRetryPolicy bounds ConnectWithRetry.
type ConnectRetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultConnectRetry is the standard first-use connection policy.
var DefaultConnectRetry = ConnectRetryPolicy{
	MaxAttempts: 5,
	Backoff:     200 * time.Millisecond,
}

// ConnectWithRetry calls c.Connect up to policy.MaxAttempts times with
// doubling backoff. Context cancellation stops the retries immediately.
func ConnectWithRetry(ctx context.Context, c Client, policy ConnectRetryPolicy) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	backoff := policy.Backoff
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = c.Connect(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("pv connect: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("pv connect after %d attempts: %w", policy.MaxAttempts, lastErr)
}
