// Package model provides the data structures for the expense queue.
//
// An Expense is a client-side draft carrying a rate snapshot and a
// client-generated uniqueId. The uniqueId is the idempotency key for the
// whole pipeline: the store suppresses duplicate inserts with it and the
// remote endpoint uses it to detect duplicate submissions.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExpenseType classifies an expense by the kind of rate it bills against.
type ExpenseType string

const (
	TypeLabor     ExpenseType = "labor"
	TypeEquipment ExpenseType = "equipment"
	TypeOther     ExpenseType = "other"
)

// Valid reports whether t is one of the known expense types.
func (t ExpenseType) Valid() bool {
	switch t {
	case TypeLabor, TypeEquipment, TypeOther:
		return true
	}
	return false
}

// Status is the persisted state of a queued expense.
//
// In practice only pending is written: success is modeled as row deletion
// and per-item failures are rewritten as pending so they stay eligible for
// retry on the next sync cycle.
type Status string

const (
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

// Rate is a remote-defined billing unit. Rates are immutable once fetched
// and cached read-only; an expense copies the price at creation time.
type Rate struct {
	ID          string          `json:"id"`
	Type        ExpenseType     `json:"type"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	Price       decimal.Decimal `json:"price"`
}

// Validate checks if the Rate has valid field values.
func (r *Rate) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rate id is required")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("unknown rate type %q", r.Type)
	}
	if r.Price.IsNegative() {
		return fmt.Errorf("rate price must not be negative (got %s)", r.Price)
	}
	return nil
}

// Expense is a draft expense submission, not yet persisted.
//
// Price is copied from the rate when the draft is created and never changes
// afterward. The embedded Rate snapshot is optional and client-only.
type Expense struct {
	UniqueID    string          `json:"uniqueId"`
	ProjectID   int64           `json:"projectId"`
	RateID      string          `json:"rateId"`
	Type        ExpenseType     `json:"type"`
	Activity    string          `json:"activity,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Markup      bool            `json:"markup,omitempty"`
	Rate        *Rate           `json:"rate,omitempty"`
}

// NewExpense creates a draft for the given rate, snapshotting its price and
// assigning a fresh uniqueId.
func NewExpense(rate *Rate, projectID int64, quantity decimal.Decimal, description, activity string, markup bool) *Expense {
	return &Expense{
		UniqueID:    uuid.NewString(),
		ProjectID:   projectID,
		RateID:      rate.ID,
		Type:        rate.Type,
		Activity:    activity,
		Description: description,
		Quantity:    quantity,
		Price:       rate.Price,
		Markup:      markup,
		Rate:        rate,
	}
}

// Validate checks if the Expense has valid field values.
func (e *Expense) Validate() error {
	if e.UniqueID == "" {
		return fmt.Errorf("uniqueId is required")
	}
	if _, err := uuid.Parse(e.UniqueID); err != nil {
		return fmt.Errorf("uniqueId must be a UUID: %w", err)
	}
	if e.ProjectID <= 0 {
		return fmt.Errorf("projectId is required")
	}
	if e.RateID == "" {
		return fmt.Errorf("rateId is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown expense type %q", e.Type)
	}
	if e.Description == "" {
		return fmt.Errorf("description is required")
	}
	if !e.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive (got %s)", e.Quantity)
	}
	if e.Price.IsNegative() {
		return fmt.Errorf("price must not be negative (got %s)", e.Price)
	}
	return nil
}

// QueuedExpense is a persisted expense waiting for (or retrying) sync.
//
// The wire payload sent to the remote endpoint is the embedded Expense only;
// ID, Status and the sync bookkeeping fields never leave the process.
type QueuedExpense struct {
	Expense

	ID              int64
	Status          Status
	CreatedDate     time.Time
	SyncAttempts    int
	LastSyncAttempt *time.Time
	ErrorMessage    string
}

// Project is a remote-defined project an expense is billed to.
type Project struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
