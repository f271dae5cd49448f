package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fieldops/expenseq/internal/model"
	"github.com/shopspring/decimal"
)

// queueColumns is the SELECT list shared by queue queries; keep in sync with
// scanQueued.
const queueColumns = `id, projectId, rateId, type, activity, description,
       quantity, price, uniqueId, status, createdDate,
       syncAttempts, lastSyncAttempt, errorMessage, markup`

// InsertMany persists the given drafts as pending queue rows inside one
// transaction.
//
// A draft whose uniqueId already exists in the queue is silently skipped
// (first write wins), which makes re-submission after a partial-insert crash
// safe. The returned slice contains only the rows actually inserted, each
// carrying its store-assigned id. Runs entirely locally, no network needed.
func (s *Store) InsertMany(ctx context.Context, drafts []*model.Expense) ([]*model.QueuedExpense, error) {
	for _, d := range drafts {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("invalid expense: %w", err)
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT OR IGNORE INTO expenses_queue (
		projectId, rateId, type, activity, description,
		quantity, price, uniqueId, status, createdDate, syncAttempts, markup
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, 0, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted []*model.QueuedExpense
	for _, d := range drafts {
		now := time.Now().UTC()
		res, err := stmt.ExecContext(ctx,
			d.ProjectID,
			d.RateID,
			string(d.Type),
			d.Activity,
			d.Description,
			d.Quantity,
			d.Price,
			d.UniqueID,
			now.Format(time.RFC3339Nano),
			boolToInt(d.Markup),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert expense %s: %w", d.UniqueID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read insert result: %w", err)
		}
		if affected == 0 {
			// Duplicate uniqueId: idempotent re-enqueue, no row produced.
			continue
		}

		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read inserted id: %w", err)
		}

		row := &model.QueuedExpense{
			Expense:     *d,
			ID:          id,
			Status:      model.StatusPending,
			CreatedDate: now,
		}
		row.Rate = nil // snapshot is client-side only, not persisted
		inserted = append(inserted, row)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit insert: %w", err)
	}

	return inserted, nil
}

// GetPending returns all pending rows, oldest first (FIFO fairness for
// sync).
func (s *Store) GetPending(ctx context.Context) ([]*model.QueuedExpense, error) {
	query := `
	SELECT ` + queueColumns + `
	FROM expenses_queue
	WHERE status = 'pending'
	ORDER BY createdDate ASC, id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending expenses: %w", err)
	}
	defer rows.Close()

	return scanQueued(rows)
}

// UpdateStatus updates a single row after a sync attempt. It always
// increments syncAttempts and stamps lastSyncAttempt; errorMessage is set if
// non-empty and cleared otherwise.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status model.Status, errorMessage string) error {
	query := `
	UPDATE expenses_queue
	SET status = ?,
	    syncAttempts = syncAttempts + 1,
	    lastSyncAttempt = ?,
	    errorMessage = NULLIF(?, '')
	WHERE id = ?
	`

	res, err := s.conn.ExecContext(ctx, query,
		string(status),
		time.Now().UTC().Format(time.RFC3339Nano),
		errorMessage,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update expense %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("expense %d not found", id)
	}

	return nil
}

// Remove deletes one row by primary key. Used on confirmed-synced rows and
// on user-initiated delete of an unsynced item. Returns nil if the row
// doesn't exist (idempotent).
func (s *Store) Remove(ctx context.Context, id int64) error {
	_, err := s.conn.ExecContext(ctx, "DELETE FROM expenses_queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete expense %d: %w", id, err)
	}
	return nil
}

// ClearAll deletes every queue row and returns how many were removed. Used
// by the explicit clear-queue action and by full app-data reset.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM expenses_queue")
	if err != nil {
		return 0, fmt.Errorf("failed to clear queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read clear result: %w", err)
	}
	return n, nil
}

// Stats summarizes the queue for the status command and the dashboard.
type Stats struct {
	Total         int
	ByStatus      map[string]int
	TotalAttempts int
	OldestPending *time.Time
}

// GetStats returns queue statistics.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByStatus: make(map[string]int)}

	rows, err := s.conn.QueryContext(ctx,
		"SELECT status, COUNT(*), COALESCE(SUM(syncAttempts), 0) FROM expenses_queue GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count, attempts int
		if err := rows.Scan(&status, &count, &attempts); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
		stats.TotalAttempts += attempts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue stats: %w", err)
	}

	var oldest sql.NullString
	err = s.conn.QueryRowContext(ctx,
		"SELECT MIN(createdDate) FROM expenses_queue WHERE status = 'pending'").Scan(&oldest)
	if err != nil {
		return nil, fmt.Errorf("failed to query oldest pending: %w", err)
	}
	if oldest.Valid {
		if t, err := time.Parse(time.RFC3339Nano, oldest.String); err == nil {
			stats.OldestPending = &t
		}
	}

	return stats, nil
}

// scanQueued is a helper to scan queue rows from query results.
func scanQueued(rows *sql.Rows) ([]*model.QueuedExpense, error) {
	var out []*model.QueuedExpense

	for rows.Next() {
		var (
			q               model.QueuedExpense
			typ, status     string
			quantity, price float64
			createdDate     string
			lastSyncAttempt sql.NullString
			errorMessage    sql.NullString
			markup          int
		)

		err := rows.Scan(
			&q.ID,
			&q.ProjectID,
			&q.RateID,
			&typ,
			&q.Activity,
			&q.Description,
			&quantity,
			&price,
			&q.UniqueID,
			&status,
			&createdDate,
			&q.SyncAttempts,
			&lastSyncAttempt,
			&errorMessage,
			&markup,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}

		q.Type = model.ExpenseType(typ)
		q.Status = model.Status(status)
		q.Quantity = decimal.NewFromFloat(quantity)
		q.Price = decimal.NewFromFloat(price)
		q.Markup = markup != 0

		q.CreatedDate, err = time.Parse(time.RFC3339Nano, createdDate)
		if err != nil {
			return nil, fmt.Errorf("failed to parse createdDate for expense %d: %w", q.ID, err)
		}
		if lastSyncAttempt.Valid {
			t, err := time.Parse(time.RFC3339Nano, lastSyncAttempt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse lastSyncAttempt for expense %d: %w", q.ID, err)
			}
			q.LastSyncAttempt = &t
		}
		if errorMessage.Valid {
			q.ErrorMessage = errorMessage.String
		}

		out = append(out, &q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expenses: %w", err)
	}

	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
