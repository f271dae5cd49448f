// Package engine drains the pending expense queue against the remote
// service.
//
// One sync cycle reads every pending row, posts them as a single batch, and
// reconciles the per-item results: accepted rows are deleted, rejected rows
// are rewritten as pending with the error recorded, so they stay eligible
// for the next cycle. A failed batch call touches no rows at all.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fieldops/expenseq/internal/api"
	"github.com/fieldops/expenseq/internal/model"
	"github.com/fieldops/expenseq/internal/store"
)

// Result summarizes one completed sync cycle.
type Result struct {
	Submitted int
	Synced    int
	Failed    int
	Duration  time.Duration
}

// Engine reconciles local pending rows against the remote system of record.
//
// The engine itself is not serialized; callers (the trigger policy) are
// responsible for at-most-one concurrent invocation.
type Engine struct {
	store  *store.Store
	client *api.Client
	logger *log.Logger

	// Invocation-level retry policy for the whole cycle. Row-level retry is
	// unlimited: rejected rows stay pending until a later cycle accepts them.
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// New creates a sync engine. If logger is nil, a default logger writing to
// stderr is used.
func New(st *store.Store, client *api.Client, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		store:       st,
		client:      client,
		logger:      logger,
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  10 * time.Second,
	}
}

// SyncAllPending runs sync cycles until one succeeds or MaxAttempts is
// exhausted, sleeping with exponential backoff between attempts.
//
// Giving up is not terminal: the pending rows are untouched and the next
// trigger starts from scratch.
func (e *Engine) SyncAllPending(ctx context.Context) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		res, err := e.syncOnce(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if attempt == e.MaxAttempts {
			break
		}

		backoff := e.backoffFor(attempt)
		e.logger.Printf("Sync attempt %d/%d failed, retrying in %v: %v",
			attempt, e.MaxAttempts, backoff, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("sync failed after %d attempts: %w", e.MaxAttempts, lastErr)
}

// syncOnce performs a single batch submission and reconciliation pass.
func (e *Engine) syncOnce(ctx context.Context) (*Result, error) {
	start := time.Now()

	pending, err := e.store.GetPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending expenses: %w", err)
	}
	if len(pending) == 0 {
		return &Result{Duration: time.Since(start)}, nil
	}

	// Strip client-only bookkeeping: only the embedded draft goes over the
	// wire.
	batch := make([]*model.Expense, 0, len(pending))
	byUniqueID := make(map[string]*model.QueuedExpense, len(pending))
	for _, row := range pending {
		draft := row.Expense
		draft.Rate = nil
		batch = append(batch, &draft)
		byUniqueID[row.UniqueID] = row
	}

	e.logger.Printf("Submitting batch of %d expenses", len(batch))

	results, err := e.client.SubmitBatch(ctx, batch)
	if err != nil {
		// Nothing sent or nothing usable back: no row is touched.
		return nil, fmt.Errorf("batch submission failed: %w", err)
	}

	res := &Result{Submitted: len(batch)}
	for _, r := range results {
		row, ok := byUniqueID[r.UniqueID]
		if !ok || row.ID == 0 {
			e.logger.Printf("WARNING: result for unknown uniqueId %s, skipping", r.UniqueID)
			continue
		}

		if r.Accepted() {
			// Created and Duplicate both mean the server has it now.
			if err := e.store.Remove(ctx, row.ID); err != nil {
				return nil, fmt.Errorf("failed to remove synced expense %d: %w", row.ID, err)
			}
			res.Synced++
			continue
		}

		// Rejected: record the errors and put the row back in rotation.
		msg := strings.Join(r.Errors, "; ")
		if msg == "" {
			msg = fmt.Sprintf("rejected with result %q", r.Result)
		}
		if err := e.store.UpdateStatus(ctx, row.ID, model.StatusPending, msg); err != nil {
			return nil, fmt.Errorf("failed to record rejection for expense %d: %w", row.ID, err)
		}
		res.Failed++
	}

	res.Duration = time.Since(start)
	e.logger.Printf("Sync complete: submitted=%d synced=%d failed=%d in %v",
		res.Submitted, res.Synced, res.Failed, res.Duration.Round(time.Millisecond))

	return res, nil
}

// backoffFor returns the delay before the given attempt's retry: 1s, 2s,
// 4s... capped at MaxBackoff.
func (e *Engine) backoffFor(attempt int) time.Duration {
	backoff := e.BaseBackoff << uint(attempt-1)
	if backoff > e.MaxBackoff {
		backoff = e.MaxBackoff
	}
	return backoff
}
