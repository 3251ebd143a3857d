package store

import (
	"context"

	"github.com/artpar/celldeploy/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for the deployment history.
type Store interface {
	// Deployment operations
	RecordDeployment(ctx context.Context, entry *domain.HistoryEntry) error
	GetDeployment(ctx context.Context, runID string) (*domain.HistoryEntry, error)
	LatestDeployment(ctx context.Context, env string) (*domain.HistoryEntry, error)
	ListDeployments(ctx context.Context, env string, opts ListOptions) ([]domain.HistoryEntry, error)
	DeleteDeployments(ctx context.Context, env string) (int, error)

	// Cell operations
	ListCellVersions(ctx context.Context, env, name string) ([]domain.CellVersion, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
