package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fieldops/expenseq/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// setupTestStore creates a migrated temporary store.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test store: %v", err)
	}

	return st
}

// testDraft builds a valid draft with a fresh uniqueId.
func testDraft(t *testing.T, description string, quantity, price string) *model.Expense {
	t.Helper()

	q, err := decimal.NewFromString(quantity)
	if err != nil {
		t.Fatalf("bad quantity %q: %v", quantity, err)
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		t.Fatalf("bad price %q: %v", price, err)
	}

	return &model.Expense{
		UniqueID:    uuid.NewString(),
		ProjectID:   42,
		RateID:      "rate-hourly",
		Type:        model.TypeLabor,
		Description: description,
		Quantity:    q,
		Price:       p,
	}
}

func TestMigrateFresh(t *testing.T) {
	st := setupTestStore(t)

	version, err := st.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("expected schema version %d, got %d", len(migrations), version)
	}
}

func TestMigrateMonotonic(t *testing.T) {
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	defer st.Close()

	// Stand up an old install at version 1 (no activity/markup columns).
	if err := st.migrateTo(ctx, 1); err != nil {
		t.Fatalf("migrateTo(1) failed: %v", err)
	}
	if v, _ := st.SchemaVersion(ctx); v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}

	// Upgrade to current.
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if v, _ := st.SchemaVersion(ctx); v != len(migrations) {
		t.Fatalf("expected version %d, got %d", len(migrations), v)
	}

	// Re-running must be a no-op: no duplicate column/index errors, version
	// unchanged.
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	if v, _ := st.SchemaVersion(ctx); v != len(migrations) {
		t.Fatalf("version moved on no-op migrate: %d", v)
	}

	// The added columns must be usable.
	draft := testDraft(t, "upgraded schema insert", "1", "10")
	draft.Activity = "paving"
	draft.Markup = true
	inserted, err := st.InsertMany(ctx, []*model.Expense{draft})
	if err != nil {
		t.Fatalf("InsertMany after upgrade failed: %v", err)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 inserted row, got %d", len(inserted))
	}

	pending, err := st.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if pending[0].Activity != "paving" || !pending[0].Markup {
		t.Errorf("activity/markup not persisted: %+v", pending[0])
	}
}

func TestInsertManyAssignsIDs(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	drafts := []*model.Expense{
		testDraft(t, "first", "2", "10"),
		testDraft(t, "second", "1", "25"),
	}

	inserted, err := st.InsertMany(ctx, drafts)
	if err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}
	if len(inserted) != 2 {
		t.Fatalf("expected 2 inserted rows, got %d", len(inserted))
	}
	for _, row := range inserted {
		if row.ID == 0 {
			t.Errorf("row %s has no assigned id", row.UniqueID)
		}
		if row.Status != model.StatusPending {
			t.Errorf("row %s status = %q, want pending", row.UniqueID, row.Status)
		}
		if row.SyncAttempts != 0 {
			t.Errorf("row %s syncAttempts = %d, want 0", row.UniqueID, row.SyncAttempts)
		}
	}
}

func TestInsertManyIdempotent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	draft := testDraft(t, "lunch", "1", "15")
	if _, err := st.InsertMany(ctx, []*model.Expense{draft}); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	// Same uniqueId, different quantity: the insert is a silent no-op and
	// the original quantity wins.
	dup := *draft
	dup.Quantity = decimal.NewFromInt(99)
	inserted, err := st.InsertMany(ctx, []*model.Expense{&dup})
	if err != nil {
		t.Fatalf("duplicate insert errored: %v", err)
	}
	if len(inserted) != 0 {
		t.Fatalf("duplicate insert produced %d rows, want 0", len(inserted))
	}

	pending, err := st.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected exactly 1 row, got %d", len(pending))
	}
	if !pending[0].Quantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("quantity = %s, want original 1", pending[0].Quantity)
	}
}

func TestGetPendingFIFO(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	a := testDraft(t, "a", "1", "1")
	b := testDraft(t, "b", "1", "1")
	c := testDraft(t, "c", "1", "1")
	if _, err := st.InsertMany(ctx, []*model.Expense{a, b, c}); err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}

	// Rewrite createdDate so insertion order and timestamp order disagree.
	base := time.Now().UTC().Add(-time.Hour)
	for i, u := range []string{c.UniqueID, a.UniqueID, b.UniqueID} {
		_, err := st.RawDB().Exec(
			"UPDATE expenses_queue SET createdDate = ? WHERE uniqueId = ?",
			base.Add(time.Duration(i)*time.Minute).Format(time.RFC3339Nano), u)
		if err != nil {
			t.Fatalf("failed to rewrite createdDate: %v", err)
		}
	}

	pending, err := st.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}

	want := []string{"c", "a", "b"}
	if len(pending) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(pending))
	}
	for i, row := range pending {
		if row.Description != want[i] {
			t.Errorf("position %d = %q, want %q", i, row.Description, want[i])
		}
	}
}

func TestUpdateStatus(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	inserted, err := st.InsertMany(ctx, []*model.Expense{testDraft(t, "x", "1", "1")})
	if err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}
	id := inserted[0].ID

	if err := st.UpdateStatus(ctx, id, model.StatusPending, "quantity out of range"); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	pending, err := st.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	row := pending[0]
	if row.SyncAttempts != 1 {
		t.Errorf("syncAttempts = %d, want 1", row.SyncAttempts)
	}
	if row.LastSyncAttempt == nil {
		t.Error("lastSyncAttempt not stamped")
	}
	if row.ErrorMessage != "quantity out of range" {
		t.Errorf("errorMessage = %q", row.ErrorMessage)
	}

	// Empty message clears the recorded error but still counts the attempt.
	if err := st.UpdateStatus(ctx, id, model.StatusPending, ""); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	pending, _ = st.GetPending(ctx)
	if pending[0].SyncAttempts != 2 {
		t.Errorf("syncAttempts = %d, want 2", pending[0].SyncAttempts)
	}
	if pending[0].ErrorMessage != "" {
		t.Errorf("errorMessage not cleared: %q", pending[0].ErrorMessage)
	}
}

func TestUpdateStatusMissingRow(t *testing.T) {
	st := setupTestStore(t)

	if err := st.UpdateStatus(context.Background(), 9999, model.StatusPending, ""); err == nil {
		t.Error("expected error updating a missing row")
	}
}

func TestRemove(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	inserted, err := st.InsertMany(ctx, []*model.Expense{testDraft(t, "x", "1", "1")})
	if err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}

	if err := st.Remove(ctx, inserted[0].ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	// Removing again is idempotent.
	if err := st.Remove(ctx, inserted[0].ID); err != nil {
		t.Fatalf("second Remove errored: %v", err)
	}

	pending, _ := st.GetPending(ctx)
	if len(pending) != 0 {
		t.Errorf("expected empty queue, got %d rows", len(pending))
	}
}

func TestClearAll(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	_, err := st.InsertMany(ctx, []*model.Expense{
		testDraft(t, "a", "1", "1"),
		testDraft(t, "b", "1", "1"),
	})
	if err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}

	n, err := st.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	if n != 2 {
		t.Errorf("ClearAll removed %d rows, want 2", n)
	}

	pending, _ := st.GetPending(ctx)
	if len(pending) != 0 {
		t.Errorf("expected empty queue, got %d rows", len(pending))
	}
}

func TestGetStats(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	inserted, err := st.InsertMany(ctx, []*model.Expense{
		testDraft(t, "a", "1", "1"),
		testDraft(t, "b", "1", "1"),
	})
	if err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}
	if err := st.UpdateStatus(ctx, inserted[0].ID, model.StatusPending, "rejected"); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	stats, err := st.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.ByStatus["pending"] != 2 {
		t.Errorf("pending = %d, want 2", stats.ByStatus["pending"])
	}
	if stats.TotalAttempts != 1 {
		t.Errorf("TotalAttempts = %d, want 1", stats.TotalAttempts)
	}
	if stats.OldestPending == nil {
		t.Error("OldestPending not set")
	}
}

func TestGetPendingCorruptTimestamp(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	inserted, err := st.InsertMany(ctx, []*model.Expense{testDraft(t, "x", "1", "1")})
	if err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}

	// A row with an unparseable createdDate must surface an error, not come
	// back with a zero timestamp that breaks FIFO ordering.
	_, err = st.RawDB().Exec(
		"UPDATE expenses_queue SET createdDate = 'not-a-timestamp' WHERE id = ?",
		inserted[0].ID)
	if err != nil {
		t.Fatalf("failed to corrupt createdDate: %v", err)
	}
	if _, err := st.GetPending(ctx); err == nil {
		t.Error("expected error for corrupt createdDate")
	} else if !strings.Contains(err.Error(), "createdDate") {
		t.Errorf("error %q does not name the bad column", err)
	}

	// Same for lastSyncAttempt.
	_, err = st.RawDB().Exec(
		"UPDATE expenses_queue SET createdDate = ?, lastSyncAttempt = 'garbage' WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339Nano), inserted[0].ID)
	if err != nil {
		t.Fatalf("failed to corrupt lastSyncAttempt: %v", err)
	}
	if _, err := st.GetPending(ctx); err == nil {
		t.Error("expected error for corrupt lastSyncAttempt")
	}
}

func TestReset(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if _, err := st.InsertMany(ctx, []*model.Expense{testDraft(t, "stale", "1", "1")}); err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}

	// Simulate a full app-data reset: the database file is removed out from
	// under the store, then Reset reopens and re-migrates a fresh one.
	if err := os.Remove(st.Path()); err != nil {
		t.Fatalf("failed to remove database file: %v", err)
	}
	if err := st.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	version, err := st.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion after reset failed: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version after reset = %d, want %d", version, len(migrations))
	}

	pending, err := st.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending after reset failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected empty queue after reset, got %d rows", len(pending))
	}

	// The reset store must accept new work.
	inserted, err := st.InsertMany(ctx, []*model.Expense{testDraft(t, "fresh", "1", "1")})
	if err != nil {
		t.Fatalf("InsertMany after reset failed: %v", err)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 inserted row after reset, got %d", len(inserted))
	}
}

func TestRateCache(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	rates := []*model.Rate{
		{ID: "rate-hourly", Type: model.TypeLabor, Description: "Site labor", Unit: "hours", Price: decimal.NewFromInt(85)},
		{ID: "rate-excavator", Type: model.TypeEquipment, Description: "Excavator", Unit: "days", Price: decimal.NewFromInt(600)},
	}
	if err := st.ReplaceRates(ctx, rates); err != nil {
		t.Fatalf("ReplaceRates failed: %v", err)
	}

	got, err := st.GetRate(ctx, "rate-hourly")
	if err != nil {
		t.Fatalf("GetRate failed: %v", err)
	}
	if !got.Price.Equal(decimal.NewFromInt(85)) {
		t.Errorf("price = %s, want 85", got.Price)
	}

	if _, err := st.GetRate(ctx, "nope"); err != sql.ErrNoRows {
		t.Errorf("expected sql.ErrNoRows for missing rate, got %v", err)
	}

	all, err := st.ListRates(ctx)
	if err != nil {
		t.Fatalf("ListRates failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 rates, got %d", len(all))
	}

	// Refresh replaces the whole catalog.
	if err := st.ReplaceRates(ctx, rates[:1]); err != nil {
		t.Fatalf("second ReplaceRates failed: %v", err)
	}
	all, _ = st.ListRates(ctx)
	if len(all) != 1 {
		t.Errorf("expected 1 rate after refresh, got %d", len(all))
	}
}
