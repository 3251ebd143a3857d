package main

import (
	"errors"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/engine"
	"github.com/artpar/celldeploy/internal/shell/prompt"
	"github.com/artpar/celldeploy/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess        = 0
	ExitConfigError    = 1
	ExitCapacityError  = 2
	ExitRecoveryError  = 3
	ExitBroadcastError = 4
	ExitLedgerError    = 5
	ExitHistoryError   = 6
)

// usageError marks bad command line input.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// ExitCode maps err to the process exit code. Aborted runs are not errors.
func ExitCode(err error) int {
	var storeErr *store.StoreError
	var usage *usageError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, domain.ErrRecovery):
		return ExitRecoveryError
	case errors.Is(err, domain.ErrBroadcast):
		return ExitBroadcastError
	case errors.Is(err, domain.ErrCapacity):
		return ExitCapacityError
	case errors.Is(err, domain.ErrConfig),
		errors.Is(err, prompt.ErrNotInteractive),
		errors.Is(err, engine.ErrHistoryDisabled),
		errors.As(err, &usage):
		return ExitConfigError
	case errors.As(err, &storeErr):
		return ExitHistoryError
	default:
		return ExitLedgerError
	}
}
