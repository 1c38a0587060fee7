package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/slaclab/sc-linac-physics/internal/setup"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 200
)

// SetupResultRepository persists per-node setup results to SQLite. It
// implements setup.Recorder; insert failures are logged and swallowed so
// a full disk never fails an invocation.
type SetupResultRepository struct {
	db     *sql.DB
	logger setup.Logger
}

// NewSetupResultRepository creates a repository on an open connection.
// logger may be nil.
func NewSetupResultRepository(db *sql.DB, logger setup.Logger) *SetupResultRepository {
	if logger == nil {
		logger = noopLogger{}
	}
	return &SetupResultRepository{db: db, logger: logger}
}

// Record implements setup.Recorder.
func (r *SetupResultRepository) Record(ctx context.Context, result setup.Result) {
	if err := r.Insert(ctx, result); err != nil {
		r.logger.Error("recording setup result failed",
			"node", result.NodeID, "error", err)
	}
}

// Insert stores one result record.
func (r *SetupResultRepository) Insert(ctx context.Context, result setup.Result) error {
	if result.ID == "" {
		return fmt.Errorf("result id is required")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO setup_results (id, invocation_id, node_id, direction, outcome, detail, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID,
		result.InvocationID,
		result.NodeID,
		string(result.Direction),
		string(result.Outcome),
		result.Detail,
		result.Duration.Milliseconds(),
		result.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting setup result: %w", err)
	}
	return nil
}

// ListByNode returns recent results for one node, newest first.
func (r *SetupResultRepository) ListByNode(ctx context.Context, nodeID string, limit int) ([]setup.Result, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("node id is required")
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, invocation_id, node_id, direction, outcome, detail, duration_ms, created_at
		 FROM setup_results
		 WHERE node_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		nodeID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying setup results: %w", err)
	}
	defer rows.Close()

	return scanResults(rows, limit)
}

// ListByInvocation returns every result of one invocation.
func (r *SetupResultRepository) ListByInvocation(ctx context.Context, invocationID string) ([]setup.Result, error) {
	if invocationID == "" {
		return nil, fmt.Errorf("invocation id is required")
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, invocation_id, node_id, direction, outcome, detail, duration_ms, created_at
		 FROM setup_results
		 WHERE invocation_id = ?
		 ORDER BY created_at ASC`,
		invocationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying setup results: %w", err)
	}
	defer rows.Close()

	return scanResults(rows, defaultQueryLimit)
}

// Prune deletes results older than the given age. Returns the number of
// rows removed.
func (r *SetupResultRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)

	res, err := r.db.ExecContext(ctx,
		"DELETE FROM setup_results WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning setup results: %w", err)
	}
	return res.RowsAffected()
}

func scanResults(rows *sql.Rows, capacity int) ([]setup.Result, error) {
	results := make([]setup.Result, 0, capacity)
	for rows.Next() {
		var (
			result     setup.Result
			direction  string
			outcome    string
			durationMS int64
			createdAt  string
		)
		if err := rows.Scan(&result.ID, &result.InvocationID, &result.NodeID,
			&direction, &outcome, &result.Detail, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning setup result: %w", err)
		}

		result.Direction = setup.Direction(direction)
		result.Outcome = setup.State(outcome)
		result.Duration = time.Duration(durationMS) * time.Millisecond

		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		result.Timestamp = ts

		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating setup results: %w", err)
	}
	return results, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

// parseTimestamp accepts both RFC3339 and SQLite's default datetime form.
func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	ts, err := time.Parse("2006-01-02 15:04:05", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return ts.UTC(), nil
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
