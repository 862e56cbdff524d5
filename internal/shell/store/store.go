package store

import (
	"context"

	"github.com/artpar/retainer/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines persistence for the four retention collections. The read
// methods return whole collections in insertion order, which makes every
// Store usable as a data source.
type Store interface {
	// Project operations
	CreateProject(ctx context.Context, project *domain.Project) error
	Projects(ctx context.Context) ([]domain.Project, error)

	// Environment operations
	CreateEnvironment(ctx context.Context, env *domain.Environment) error
	Environments(ctx context.Context) ([]domain.Environment, error)

	// Release operations
	CreateRelease(ctx context.Context, release *domain.Release) error
	Releases(ctx context.Context) ([]domain.Release, error)

	// Deployment operations
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	Deployments(ctx context.Context) ([]domain.Deployment, error)

	// Import replaces every collection with the contents of snapshot.
	Import(ctx context.Context, snapshot domain.Snapshot) error

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}
