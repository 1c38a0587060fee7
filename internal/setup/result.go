package setup

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Result is the record emitted for every node visited by an invocation.
// It is consumed by the history repository and published for external
// displays; the orchestrator itself never reads results back.
type Result struct {
	ID           string        `json:"id"`
	InvocationID string        `json:"invocation_id"`
	NodeID       string        `json:"node_id"`
	Direction    Direction     `json:"direction"`
	Outcome      State         `json:"outcome"`
	Detail       string        `json:"detail,omitempty"`
	Duration     time.Duration `json:"duration"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Recorder consumes result records. Implementations must be safe for
// concurrent use; failures are the recorder's own concern and must not
// affect the invocation.
type Recorder interface {
	Record(ctx context.Context, result Result)
}

// MultiRecorder fans one result out to several recorders.
type MultiRecorder []Recorder

// Record implements Recorder.
func (m MultiRecorder) Record(ctx context.Context, result Result) {
	for _, r := range m {
		r.Record(ctx, result)
	}
}

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, Result) {}

// newResultID creates a unique id for one result record.
func newResultID() string {
	return uuid.New().String()
}
