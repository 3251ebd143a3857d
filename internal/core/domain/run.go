package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidTransition = errors.New("invalid run state transition")
)

// =============================================================================
// Run State
// =============================================================================

// RunState is the state of one deployment run.
type RunState string

const (
	StateIdle              RunState = "idle"
	StatePlanBuilt         RunState = "plan_built"
	StateConfirmed         RunState = "confirmed"
	StateSnapshotStarted   RunState = "snapshot_started"
	StateBroadcasting      RunState = "broadcasting"
	StateSnapshotCompleted RunState = "snapshot_completed"
	StateAborted           RunState = "aborted"
)

// IsTerminal reports whether no further transition is possible.
func (s RunState) IsTerminal() bool {
	return s == StateSnapshotCompleted || s == StateAborted
}

// AbortReason explains a non-error early termination.
type AbortReason string

const (
	AbortNothingToDeploy AbortReason = "nothing to deploy"
	AbortDeclined        AbortReason = "deployment cancelled"
	AbortDryRun          AbortReason = "plan only"
)

// =============================================================================
// State Machine
// =============================================================================

// validRunTransitions defines the allowed state transitions. A run can only
// abort before anything has been written; once the snapshot is started the
// only way out is completion or a failure that leaves the marker behind.
var validRunTransitions = map[RunState][]RunState{
	StateIdle:              {StatePlanBuilt, StateAborted},
	StatePlanBuilt:         {StateConfirmed, StateAborted},
	StateConfirmed:         {StateSnapshotStarted, StateAborted},
	StateSnapshotStarted:   {StateBroadcasting},
	StateBroadcasting:      {StateSnapshotCompleted},
	StateSnapshotCompleted: {},
	StateAborted:           {},
}

// ValidateRunTransition checks if a state transition is valid.
func ValidateRunTransition(from, to RunState) error {
	allowed, exists := validRunTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}

// =============================================================================
// Run
// =============================================================================

// Run tracks one invocation of the deployment engine.
type Run struct {
	ID          string
	Env         string
	State       RunState
	AbortReason AbortReason
	StartedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  *time.Time
}

// NewRun creates an idle run for env.
func NewRun(env string) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:        uuid.New().String(),
		Env:       env,
		State:     StateIdle,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the run to a new state.
func (r *Run) Transition(to RunState) error {
	if err := ValidateRunTransition(r.State, to); err != nil {
		return err
	}

	r.State = to
	r.UpdatedAt = time.Now().UTC()
	if to.IsTerminal() {
		finished := r.UpdatedAt
		r.FinishedAt = &finished
	}
	return nil
}

// Abort ends the run early without error.
func (r *Run) Abort(reason AbortReason) error {
	if err := r.Transition(StateAborted); err != nil {
		return err
	}
	r.AbortReason = reason
	return nil
}
