// Package persistence provides standardized error types for store operations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrRunNotFound indicates no run exists for the given identifier.
	ErrRunNotFound = errors.New("pipeline run not found")

	// ErrVersionNotMonotonic indicates a version record that is not strictly
	// greater than every previously stored version.
	ErrVersionNotMonotonic = errors.New("version is not greater than stored versions")
)

// StoreError wraps store failures with operation context.
type StoreError struct {
	Op  string // Operation being performed (e.g. "SaveRun", "Versions")
	Key string // Run ID or version if applicable
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Key, e.Err)
	}

	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a store error with context.
func NewStoreError(op, key string, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Err: err}
}

// IsRunNotFound checks if an error indicates a missing run.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}
