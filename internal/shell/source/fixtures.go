package source

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/artpar/retainer/internal/core/domain"
	"gopkg.in/yaml.v3"
)

//go:embed fixtures/*.json
var defaultFixtures embed.FS

// fixtureExtensions are tried in order for every resource.
var fixtureExtensions = []string{".json", ".yaml", ".yml"}

// =============================================================================
// Fixture Source
// =============================================================================

// FixtureSource reads each collection from a file named after the resource,
// e.g. Projects.json or Deployments.yaml.
type FixtureSource struct {
	fsys fs.FS
}

// NewFixtureSource creates a fixture source reading from dir. An empty dir
// selects the fixture set embedded in the binary.
func NewFixtureSource(dir string) (*FixtureSource, error) {
	if dir == "" {
		return DefaultFixtures(), nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("fixtures directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fixtures directory: %s is not a directory", dir)
	}
	return NewFixtureSourceFS(os.DirFS(dir)), nil
}

// NewFixtureSourceFS creates a fixture source over an arbitrary file system.
func NewFixtureSourceFS(fsys fs.FS) *FixtureSource {
	return &FixtureSource{fsys: fsys}
}

// DefaultFixtures returns the embedded sample data set.
func DefaultFixtures() *FixtureSource {
	sub, err := fs.Sub(defaultFixtures, "fixtures")
	if err != nil {
		// fs.Sub only fails on an invalid path literal
		panic(err)
	}
	return &FixtureSource{fsys: sub}
}

func (s *FixtureSource) Projects(ctx context.Context) ([]domain.Project, error) {
	return readFixture[domain.Project](ctx, s.fsys, domain.ResourceProjects)
}

func (s *FixtureSource) Environments(ctx context.Context) ([]domain.Environment, error) {
	return readFixture[domain.Environment](ctx, s.fsys, domain.ResourceEnvironments)
}

func (s *FixtureSource) Releases(ctx context.Context) ([]domain.Release, error) {
	return readFixture[domain.Release](ctx, s.fsys, domain.ResourceReleases)
}

func (s *FixtureSource) Deployments(ctx context.Context) ([]domain.Deployment, error) {
	return readFixture[domain.Deployment](ctx, s.fsys, domain.ResourceDeployments)
}

// readFixture decodes the first <resource><ext> file found in fsys.
func readFixture[T any](ctx context.Context, fsys fs.FS, resource domain.Resource) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, ext := range fixtureExtensions {
		name := resource.String() + ext
		data, err := fs.ReadFile(fsys, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}

		var items []T
		switch path.Ext(name) {
		case ".json":
			err = json.Unmarshal(data, &items)
		default:
			err = yaml.Unmarshal(data, &items)
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return items, nil
	}

	return nil, fmt.Errorf("no fixture file for %s: %w", resource, fs.ErrNotExist)
}
