package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/slaclab/sc-linac-physics/internal/infrastructure/database"
	"github.com/slaclab/sc-linac-physics/internal/quench"
	"github.com/slaclab/sc-linac-physics/internal/setup"
	_ "github.com/slaclab/sc-linac-physics/migrations"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "history_test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func sampleResult(id, invocationID, nodeID string, at time.Time) setup.Result {
	return setup.Result{
		ID:           id,
		InvocationID: invocationID,
		NodeID:       nodeID,
		Direction:    setup.DirectionSetup,
		Outcome:      setup.StateRunning,
		Duration:     1500 * time.Millisecond,
		Timestamp:    at,
	}
}

func TestSetupResultRoundTrip(t *testing.T) {
	db := testDB(t)
	repo := NewSetupResultRepository(db.DB, nil)
	ctx := context.Background()

	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	in := setup.Result{
		ID:           "r1",
		InvocationID: "inv1",
		NodeID:       "CM01/3",
		Direction:    setup.DirectionSetup,
		Outcome:      setup.StateFaulted,
		Detail:       "quench detected on CM01/3: latch 1.0 (threshold 1.0)",
		Duration:     2300 * time.Millisecond,
		Timestamp:    at,
	}
	if err := repo.Insert(ctx, in); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := repo.ListByNode(ctx, "CM01/3", 0)
	if err != nil {
		t.Fatalf("ListByNode: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	got := results[0]
	if got.ID != in.ID || got.InvocationID != in.InvocationID || got.NodeID != in.NodeID {
		t.Errorf("identity fields differ: %+v", got)
	}
	if got.Direction != in.Direction || got.Outcome != in.Outcome || got.Detail != in.Detail {
		t.Errorf("payload fields differ: %+v", got)
	}
	if got.Duration != in.Duration {
		t.Errorf("duration = %v, want %v", got.Duration, in.Duration)
	}
	if !got.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, at)
	}
}

func TestSetupResultInsertRequiresID(t *testing.T) {
	db := testDB(t)
	repo := NewSetupResultRepository(db.DB, nil)

	if err := repo.Insert(context.Background(), setup.Result{NodeID: "CM01"}); err == nil {
		t.Error("Insert accepted a result without id")
	}
}

func TestSetupResultListByNodeOrderAndLimit(t *testing.T) {
	db := testDB(t)
	repo := NewSetupResultRepository(db.DB, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r := sampleResult(
			"r"+string(rune('0'+i)),
			"inv1",
			"CM01",
			base.Add(time.Duration(i)*time.Minute),
		)
		if err := repo.Insert(ctx, r); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	// A different node must not appear.
	if err := repo.Insert(ctx, sampleResult("other", "inv2", "CM02", base)); err != nil {
		t.Fatal(err)
	}

	results, err := repo.ListByNode(ctx, "CM01", 3)
	if err != nil {
		t.Fatalf("ListByNode: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	// Newest first.
	if results[0].ID != "r4" || results[1].ID != "r3" || results[2].ID != "r2" {
		t.Errorf("order wrong: %s %s %s", results[0].ID, results[1].ID, results[2].ID)
	}
}

func TestSetupResultListByInvocation(t *testing.T) {
	db := testDB(t)
	repo := NewSetupResultRepository(db.DB, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	repo.Insert(ctx, sampleResult("a", "inv1", "CM01/1", base))
	repo.Insert(ctx, sampleResult("b", "inv1", "CM01", base.Add(time.Minute)))
	repo.Insert(ctx, sampleResult("c", "inv2", "CM02", base))

	results, err := repo.ListByInvocation(ctx, "inv1")
	if err != nil {
		t.Fatalf("ListByInvocation: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// Oldest first: the cavity settles before its parent.
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("order wrong: %s %s", results[0].ID, results[1].ID)
	}
}

func TestSetupResultPrune(t *testing.T) {
	db := testDB(t)
	repo := NewSetupResultRepository(db.DB, nil)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC()
	repo.Insert(ctx, sampleResult("old1", "inv1", "CM01", old))
	repo.Insert(ctx, sampleResult("old2", "inv1", "CM01/1", old))
	repo.Insert(ctx, sampleResult("new1", "inv2", "CM01", fresh))

	removed, err := repo.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("pruned %d rows, want 2", removed)
	}

	remaining, err := repo.ListByNode(ctx, "CM01", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].ID != "new1" {
		t.Errorf("remaining = %+v", remaining)
	}
}

func TestRecordSwallowsErrors(t *testing.T) {
	db := testDB(t)
	repo := NewSetupResultRepository(db.DB, nil)

	// Missing id fails Insert; Record must not panic or propagate.
	repo.Record(context.Background(), setup.Result{NodeID: "CM01"})
}

func TestQuenchEventRoundTrip(t *testing.T) {
	db := testDB(t)
	repo := NewQuenchEventRepository(db.DB, nil)
	ctx := context.Background()

	at := time.Date(2026, 3, 2, 11, 30, 0, 0, time.UTC)
	in := quench.Event{
		ID:            "q1",
		CavityID:      "CM02/5",
		MeasuredValue: 1,
		Threshold:     1,
		Timestamp:     at,
	}
	if err := repo.Insert(ctx, in); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	events, err := repo.ListByCavity(ctx, "CM02/5", 0)
	if err != nil {
		t.Fatalf("ListByCavity: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if got.ID != in.ID || got.CavityID != in.CavityID {
		t.Errorf("identity fields differ: %+v", got)
	}
	if got.MeasuredValue != 1 || got.Threshold != 1 {
		t.Errorf("values differ: %+v", got)
	}
	if !got.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, at)
	}
}

func TestQuenchEventListRecent(t *testing.T) {
	db := testDB(t)
	repo := NewQuenchEventRepository(db.DB, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	for i, cavity := range []string{"CM01/1", "CM02/3", "CM01/1"} {
		e := quench.Event{
			ID:            "q" + string(rune('0'+i)),
			CavityID:      cavity,
			MeasuredValue: 1,
			Threshold:     1,
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Insert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d events, want 2", len(recent))
	}
	if recent[0].ID != "q2" || recent[1].ID != "q1" {
		t.Errorf("order wrong: %s %s", recent[0].ID, recent[1].ID)
	}

	byCavity, err := repo.ListByCavity(ctx, "CM01/1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byCavity) != 2 {
		t.Errorf("ListByCavity(CM01/1) = %d events, want 2", len(byCavity))
	}
}
