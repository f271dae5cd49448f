package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fieldops/expenseq/internal/model"
	"github.com/shopspring/decimal"
)

// ReplaceRates refreshes the read-only rate cache with a freshly fetched
// catalog, inside one transaction. Rates are immutable from the queue's
// point of view; the cache only changes wholesale on refresh.
func (s *Store) ReplaceRates(ctx context.Context, rates []*model.Rate) error {
	for _, r := range rates {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("invalid rate: %w", err)
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM rates"); err != nil {
		return fmt.Errorf("failed to clear rate cache: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO rates (id, type, description, unit, price, fetchedAt)
	VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare rate insert: %w", err)
	}
	defer stmt.Close()

	fetchedAt := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range rates {
		_, err := stmt.ExecContext(ctx, r.ID, string(r.Type), r.Description, r.Unit, r.Price, fetchedAt)
		if err != nil {
			return fmt.Errorf("failed to cache rate %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rate cache: %w", err)
	}

	return nil
}

// GetRate retrieves a cached rate by id.
// Returns sql.ErrNoRows if the rate is not cached.
func (s *Store) GetRate(ctx context.Context, id string) (*model.Rate, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT id, type, description, unit, price FROM rates WHERE id = ?", id)
	return scanRate(row)
}

// ListRates returns all cached rates ordered by id.
func (s *Store) ListRates(ctx context.Context) ([]*model.Rate, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, type, description, unit, price FROM rates ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list rates: %w", err)
	}
	defer rows.Close()

	var rates []*model.Rate
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		rates = append(rates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rates: %w", err)
	}

	return rates, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRate(row rowScanner) (*model.Rate, error) {
	var (
		r     model.Rate
		typ   string
		price float64
	)
	if err := row.Scan(&r.ID, &typ, &r.Description, &r.Unit, &price); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rate: %w", err)
	}
	r.Type = model.ExpenseType(typ)
	r.Price = decimal.NewFromFloat(price)
	return &r, nil
}
