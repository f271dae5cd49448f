package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ReadExpenseFile reads and parses a draft expense JSON file from the given
// path. Returns the parsed Expense or an error if reading/parsing fails.
//
// Spool files are written by offline capture tooling; the daemon picks them
// up and enqueues them.
func ReadExpenseFile(path string) (*Expense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read expense file %s: %w", path, err)
	}

	var exp Expense
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("failed to parse expense file %s: %w", path, err)
	}

	if err := exp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid expense file %s: %w", path, err)
	}

	return &exp, nil
}

// WriteExpenseFile writes a draft Expense to spoolDir/{uniqueId}.json with
// pretty-printed formatting.
func WriteExpenseFile(spoolDir string, exp *Expense) error {
	if err := exp.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid expense: %w", err)
	}

	if err := os.MkdirAll(spoolDir, 0755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal expense %s: %w", exp.UniqueID, err)
	}

	path := filepath.Join(spoolDir, exp.Filename())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write expense file %s: %w", path, err)
	}

	return nil
}

// Filename returns the canonical spool filename for this draft: {uniqueId}.json
func (e *Expense) Filename() string {
	return fmt.Sprintf("%s.json", e.UniqueID)
}
