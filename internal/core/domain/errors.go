package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

var (
	// ErrConfig marks a declared configuration that cannot be deployed, such as
	// an unresolvable dep group member or a malformed cell source.
	ErrConfig = errors.New("configuration error")

	// ErrCapacity marks insufficient funding or capacity arithmetic overflow.
	ErrCapacity = errors.New("capacity error")

	// ErrRecovery marks an unfinished prior run. It always needs an operator.
	ErrRecovery = errors.New("incomplete deployment found")

	// ErrBroadcast marks a transaction the ledger rejected.
	ErrBroadcast = errors.New("broadcast error")
)

// DeployError carries the failed operation and the offending name along with
// its taxonomy kind.
type DeployError struct {
	Kind    error  // one of ErrConfig, ErrCapacity, ErrRecovery, ErrBroadcast
	Op      string // operation that failed, e.g. "build_dep_groups"
	Name    string // offending cell or dep group, if any
	Message string
	Err     error // underlying cause, if any
}

func (e *DeployError) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Name != "" {
		msg += fmt.Sprintf(" (%s)", e.Name)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *DeployError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewConfigError creates a configuration error for name.
func NewConfigError(op, name, message string) *DeployError {
	return &DeployError{Kind: ErrConfig, Op: op, Name: name, Message: message}
}

// NewCapacityError wraps a capacity failure.
func NewCapacityError(op, message string, err error) *DeployError {
	return &DeployError{Kind: ErrCapacity, Op: op, Message: message, Err: err}
}

// NewRecoveryError reports an in-progress marker at path.
func NewRecoveryError(path string) *DeployError {
	return &DeployError{
		Kind:    ErrRecovery,
		Op:      "check_incomplete",
		Name:    path,
		Message: "a previous deployment did not finish; inspect the ledger and the marker, then move or delete it by hand",
	}
}

// NewBroadcastError wraps a rejected transaction.
func NewBroadcastError(txHash string, err error) *DeployError {
	return &DeployError{Kind: ErrBroadcast, Op: "broadcast", Name: txHash, Err: err}
}
