// Package source supplies the four retention collections from fixture
// files, the SQLite store or a remote retainer over HTTP.
package source

import (
	"context"

	"github.com/artpar/retainer/internal/core/domain"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Source Interface
// =============================================================================

// Source supplies the full contents of each collection. Implementations
// return the complete collection or an error; partial results are not allowed.
type Source interface {
	Projects(ctx context.Context) ([]domain.Project, error)
	Environments(ctx context.Context) ([]domain.Environment, error)
	Releases(ctx context.Context) ([]domain.Release, error)
	Deployments(ctx context.Context) ([]domain.Deployment, error)
}

// =============================================================================
// Concurrent Fetch
// =============================================================================

// FetchAll requests the four collections concurrently and returns them as one
// snapshot. The first failure decides the outcome: FetchAll returns that
// resource's *UnavailableError at once, cancels the context handed to the
// remaining fetches and discards whatever they return later.
func FetchAll(ctx context.Context, src Source) (domain.Snapshot, error) {
	var (
		projects     []domain.Project
		environments []domain.Environment
		releases     []domain.Release
		deployments  []domain.Deployment
	)

	g, gctx := errgroup.WithContext(ctx)
	failed := make(chan error, 1)
	fetch := func(resource domain.Resource, fn func() error) {
		g.Go(func() error {
			err := wrapUnavailable(resource, fn())
			if err != nil {
				select {
				case failed <- err:
				default:
				}
			}
			return err
		})
	}

	fetch(domain.ResourceProjects, func() (err error) {
		projects, err = src.Projects(gctx)
		return err
	})
	fetch(domain.ResourceEnvironments, func() (err error) {
		environments, err = src.Environments(gctx)
		return err
	})
	fetch(domain.ResourceReleases, func() (err error) {
		releases, err = src.Releases(gctx)
		return err
	})
	fetch(domain.ResourceDeployments, func() (err error) {
		deployments, err = src.Deployments(gctx)
		return err
	})

	// Sources that ignore ctx may keep running; Wait is only awaited on
	// the success path.
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-failed:
		return domain.Snapshot{}, err
	case err := <-done:
		if err != nil {
			return domain.Snapshot{}, err
		}
	}

	return domain.Snapshot{
		Projects:     nonNil(projects),
		Environments: nonNil(environments),
		Releases:     nonNil(releases),
		Deployments:  nonNil(deployments),
	}, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
