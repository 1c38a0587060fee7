package setup

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for orchestrator operations.
var (
	// ErrActiveInvocation means another invocation already covers part of
	// the requested subtree. The caller must wait for it to settle.
	ErrActiveInvocation = errors.New("setup: invocation already active on subtree")

	// ErrInvalidTransition means the requested operation does not apply
	// to the node's current state and is not safe to treat as a no-op.
	ErrInvalidTransition = errors.New("setup: invalid transition")

	// ErrAborted is the cooperative-cancellation outcome. It is a normal
	// terminal result, not a failure, and is never logged as an error.
	ErrAborted = errors.New("setup: aborted")
)

// QuenchError is a safety trip observed during a transition. It is never
// retried and always escalates the cavity to FAULTED.
type QuenchError struct {
	CavityID      string
	MeasuredValue float64
	Threshold     float64
	At            time.Time
}

func (e *QuenchError) Error() string {
	return fmt.Sprintf("quench detected on %s: latch %.1f (threshold %.1f)",
		e.CavityID, e.MeasuredValue, e.Threshold)
}
