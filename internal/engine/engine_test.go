package engine

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fieldops/expenseq/internal/api"
	"github.com/fieldops/expenseq/internal/model"
	"github.com/fieldops/expenseq/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// setupTestStore creates a migrated temporary store.
func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test store: %v", err)
	}

	return st
}

// enqueue inserts one draft and returns its queue row.
func enqueue(t *testing.T, st *store.Store, description string) *model.QueuedExpense {
	t.Helper()

	draft := &model.Expense{
		UniqueID:    uuid.NewString(),
		ProjectID:   7,
		RateID:      "rate-hourly",
		Type:        model.TypeLabor,
		Description: description,
		Quantity:    decimal.NewFromInt(2),
		Price:       decimal.NewFromInt(10),
	}
	inserted, err := st.InsertMany(context.Background(), []*model.Expense{draft})
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 inserted row, got %d", len(inserted))
	}
	return inserted[0]
}

// batchServer returns an httptest server answering /expenses/batch with the
// given per-uniqueId results, and a counter of received requests.
func batchServer(t *testing.T, results func(uniqueIDs []string) []api.SubmitResult) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		var req struct {
			Expenses []*model.Expense `json:"expenses"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad batch request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		ids := make([]string, 0, len(req.Expenses))
		for _, e := range req.Expenses {
			ids = append(ids, e.UniqueID)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results(ids)})
	}))
	t.Cleanup(srv.Close)

	return srv, &requests
}

// newTestEngine wires an engine against the given server with fast retries.
func newTestEngine(st *store.Store, url string) *Engine {
	eng := New(st, api.NewClient(url, "test-token", time.Second),
		log.New(os.Stderr, "[test] ", 0))
	eng.BaseBackoff = time.Millisecond
	eng.MaxBackoff = 5 * time.Millisecond
	return eng
}

func allWith(result string) func([]string) []api.SubmitResult {
	return func(ids []string) []api.SubmitResult {
		out := make([]api.SubmitResult, 0, len(ids))
		for _, id := range ids {
			out = append(out, api.SubmitResult{UniqueID: id, Result: result})
		}
		return out
	}
}

func TestSyncCreatedRemovesRows(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	enqueue(t, st, "first")
	enqueue(t, st, "second")

	srv, requests := batchServer(t, allWith(api.ResultCreated))
	eng := newTestEngine(st, srv.URL)

	res, err := eng.SyncAllPending(ctx)
	if err != nil {
		t.Fatalf("SyncAllPending failed: %v", err)
	}
	if res.Submitted != 2 || res.Synced != 2 || res.Failed != 0 {
		t.Errorf("result = %+v, want submitted=2 synced=2 failed=0", res)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("observed %d requests, want 1", got)
	}

	pending, err := st.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected empty queue after sync, got %d rows", len(pending))
	}
}

func TestSyncDuplicateRemovesRows(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	enqueue(t, st, "already on server")

	srv, _ := batchServer(t, allWith(api.ResultDuplicate))
	eng := newTestEngine(st, srv.URL)

	res, err := eng.SyncAllPending(ctx)
	if err != nil {
		t.Fatalf("SyncAllPending failed: %v", err)
	}
	if res.Synced != 1 {
		t.Errorf("synced = %d, want 1 (duplicate counts as success)", res.Synced)
	}

	pending, _ := st.GetPending(ctx)
	if len(pending) != 0 {
		t.Errorf("duplicate row not removed")
	}
}

func TestSyncRejectionKeepsRowPending(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	row := enqueue(t, st, "bad quantity")

	srv, _ := batchServer(t, func(ids []string) []api.SubmitResult {
		return []api.SubmitResult{{
			UniqueID: ids[0],
			Result:   "ValidationFailed",
			Errors:   []string{"quantity exceeds limit", "activity unknown"},
		}}
	})
	eng := newTestEngine(st, srv.URL)

	res, err := eng.SyncAllPending(ctx)
	if err != nil {
		t.Fatalf("SyncAllPending failed: %v", err)
	}
	if res.Failed != 1 || res.Synced != 0 {
		t.Errorf("result = %+v, want failed=1 synced=0", res)
	}

	pending, err := st.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("rejected row lost: %d pending", len(pending))
	}
	got := pending[0]
	if got.ID != row.ID {
		t.Errorf("row id changed: %d -> %d", row.ID, got.ID)
	}
	if got.SyncAttempts != 1 {
		t.Errorf("syncAttempts = %d, want 1", got.SyncAttempts)
	}
	if got.ErrorMessage != "quantity exceeds limit; activity unknown" {
		t.Errorf("errorMessage = %q", got.ErrorMessage)
	}
	if got.LastSyncAttempt == nil {
		t.Error("lastSyncAttempt not stamped")
	}
}

func TestSyncEmptyQueueSkipsNetwork(t *testing.T) {
	st := setupTestStore(t)

	srv, requests := batchServer(t, allWith(api.ResultCreated))
	eng := newTestEngine(st, srv.URL)

	res, err := eng.SyncAllPending(context.Background())
	if err != nil {
		t.Fatalf("SyncAllPending failed: %v", err)
	}
	if res.Submitted != 0 {
		t.Errorf("submitted = %d, want 0", res.Submitted)
	}
	if got := requests.Load(); got != 0 {
		t.Errorf("observed %d requests on empty queue, want 0", got)
	}
}

func TestSyncTransportFailureLeavesRowsUntouched(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	enqueue(t, st, "stranded")

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	eng := newTestEngine(st, srv.URL)

	_, err := eng.SyncAllPending(ctx)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if got := requests.Load(); got != int32(eng.MaxAttempts) {
		t.Errorf("observed %d attempts, want %d", got, eng.MaxAttempts)
	}

	pending, err := st.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 untouched row, got %d", len(pending))
	}
	if pending[0].SyncAttempts != 0 {
		t.Errorf("syncAttempts = %d, want 0 (transport failure touches nothing)", pending[0].SyncAttempts)
	}
	if pending[0].ErrorMessage != "" {
		t.Errorf("errorMessage = %q, want empty", pending[0].ErrorMessage)
	}
}

func TestSyncRetriesThenSucceeds(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	enqueue(t, st, "flaky network")

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		if n < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}

		var req struct {
			Expenses []*model.Expense `json:"expenses"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		results := make([]api.SubmitResult, 0, len(req.Expenses))
		for _, e := range req.Expenses {
			results = append(results, api.SubmitResult{UniqueID: e.UniqueID, Result: api.ResultCreated})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	t.Cleanup(srv.Close)

	eng := newTestEngine(st, srv.URL)

	res, err := eng.SyncAllPending(ctx)
	if err != nil {
		t.Fatalf("SyncAllPending failed after retries: %v", err)
	}
	if res.Synced != 1 {
		t.Errorf("synced = %d, want 1", res.Synced)
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("observed %d attempts, want 3", got)
	}
}

func TestSyncUnknownUniqueIDSkipped(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	enqueue(t, st, "known")

	srv, _ := batchServer(t, func(ids []string) []api.SubmitResult {
		return []api.SubmitResult{
			{UniqueID: ids[0], Result: api.ResultCreated},
			{UniqueID: uuid.NewString(), Result: api.ResultCreated}, // not ours
		}
	})
	eng := newTestEngine(st, srv.URL)

	res, err := eng.SyncAllPending(ctx)
	if err != nil {
		t.Fatalf("SyncAllPending failed: %v", err)
	}
	if res.Synced != 1 {
		t.Errorf("synced = %d, want 1", res.Synced)
	}
}

func TestBackoffFor(t *testing.T) {
	eng := &Engine{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
	}
	for _, tt := range tests {
		if got := eng.backoffFor(tt.attempt); got != tt.want {
			t.Errorf("backoffFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
