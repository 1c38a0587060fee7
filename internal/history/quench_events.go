package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/slaclab/sc-linac-physics/internal/quench"
	"github.com/slaclab/sc-linac-physics/internal/setup"
)

// QuenchEventRepository persists quench events to SQLite. It implements
// quench.EventSink; insert failures are logged, never propagated, because
// the protective response must not depend on the history store.
type QuenchEventRepository struct {
	db     *sql.DB
	logger setup.Logger
}

// NewQuenchEventRepository creates a repository on an open connection.
// logger may be nil.
func NewQuenchEventRepository(db *sql.DB, logger setup.Logger) *QuenchEventRepository {
	if logger == nil {
		logger = noopLogger{}
	}
	return &QuenchEventRepository{db: db, logger: logger}
}

// QuenchDetected implements quench.EventSink.
func (r *QuenchEventRepository) QuenchDetected(ctx context.Context, event quench.Event) {
	if err := r.Insert(ctx, event); err != nil {
		r.logger.Error("recording quench event failed",
			"cavity", event.CavityID, "error", err)
	}
}

// Insert stores one quench event.
func (r *QuenchEventRepository) Insert(ctx context.Context, event quench.Event) error {
	if event.ID == "" {
		return fmt.Errorf("event id is required")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO quench_events (id, cavity_id, measured_value, threshold, occurred_at)
		 VALUES (?, ?, ?, ?, ?)`,
		event.ID,
		event.CavityID,
		event.MeasuredValue,
		event.Threshold,
		event.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting quench event: %w", err)
	}
	return nil
}

// ListByCavity returns recent quench events for one cavity, newest first.
func (r *QuenchEventRepository) ListByCavity(ctx context.Context, cavityID string, limit int) ([]quench.Event, error) {
	if cavityID == "" {
		return nil, fmt.Errorf("cavity id is required")
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, cavity_id, measured_value, threshold, occurred_at
		 FROM quench_events
		 WHERE cavity_id = ?
		 ORDER BY occurred_at DESC
		 LIMIT ?`,
		cavityID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying quench events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows, limit)
}

// ListRecent returns the most recent quench events across all cavities.
func (r *QuenchEventRepository) ListRecent(ctx context.Context, limit int) ([]quench.Event, error) {
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, cavity_id, measured_value, threshold, occurred_at
		 FROM quench_events
		 ORDER BY occurred_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying quench events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows, limit)
}

func scanEvents(rows *sql.Rows, capacity int) ([]quench.Event, error) {
	events := make([]quench.Event, 0, capacity)
	for rows.Next() {
		var event quench.Event
		var occurredAt string
		if err := rows.Scan(&event.ID, &event.CavityID, &event.MeasuredValue,
			&event.Threshold, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning quench event: %w", err)
		}

		ts, err := parseTimestamp(occurredAt)
		if err != nil {
			return nil, err
		}
		event.Timestamp = ts

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating quench events: %w", err)
	}
	return events, nil
}
