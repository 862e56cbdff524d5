package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/retainer/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Embedded Fixture Tests
// =============================================================================

func TestDefaultFixtures_LoadsAllCollections(t *testing.T) {
	snapshot, err := FetchAll(context.Background(), DefaultFixtures())
	require.NoError(t, err)

	require.Len(t, snapshot.Projects, 2)
	assert.Equal(t, "Random Quotes", snapshot.Projects[0].Name)
	assert.Equal(t, "Pet Shop", snapshot.Projects[1].Name)

	require.Len(t, snapshot.Environments, 2)
	assert.Equal(t, "Staging", snapshot.Environments[0].Name)
	assert.Equal(t, "Production", snapshot.Environments[1].Name)

	assert.Len(t, snapshot.Releases, 6)
	require.Len(t, snapshot.Deployments, 11)
	assert.Equal(t, time.Date(2000, 1, 1, 10, 0, 0, 0, time.UTC), snapshot.Deployments[0].DeployedAt)
}

func TestNewFixtureSource_EmptyDirUsesEmbedded(t *testing.T) {
	src, err := NewFixtureSource("")
	require.NoError(t, err)

	projects, err := src.Projects(context.Background())
	require.NoError(t, err)
	assert.Len(t, projects, 2)
}

func TestNewFixtureSource_MissingDir(t *testing.T) {
	_, err := NewFixtureSource(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestNewFixtureSource_FileInsteadOfDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "Projects.json")
	require.NoError(t, os.WriteFile(file, []byte("[]"), 0644))

	_, err := NewFixtureSource(file)
	assert.Error(t, err)
}

// =============================================================================
// Directory Fixture Tests
// =============================================================================

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestFixtureSource_MixedJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "Projects.yaml", "- Id: Project-1\n  Name: Random Quotes\n")
	writeFixture(t, dir, "Environments.yml", "- Id: Environment-1\n  Name: Staging\n")
	writeFixture(t, dir, "Releases.json", `[{"Id": "Release-1", "ProjectId": "Project-1", "Version": "1.0.0"}]`)
	writeFixture(t, dir, "Deployments.yaml", "- ReleaseId: Release-1\n  EnvironmentId: Environment-1\n  DeployedAt: \"2000-01-01T10:00:00\"\n")

	src, err := NewFixtureSource(dir)
	require.NoError(t, err)

	snapshot, err := FetchAll(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, []domain.Project{{ID: "Project-1", Name: "Random Quotes"}}, snapshot.Projects)
	assert.Equal(t, []domain.Environment{{ID: "Environment-1", Name: "Staging"}}, snapshot.Environments)
	assert.Equal(t, "1.0.0", snapshot.Releases[0].Version)
	require.Len(t, snapshot.Deployments, 1)
	assert.Equal(t, time.Date(2000, 1, 1, 10, 0, 0, 0, time.UTC), snapshot.Deployments[0].DeployedAt)
}

func TestFixtureSource_MissingResourceIsUnavailable(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "Projects.json", "[]")
	writeFixture(t, dir, "Environments.json", "[]")
	writeFixture(t, dir, "Releases.json", "[]")

	src, err := NewFixtureSource(dir)
	require.NoError(t, err)

	_, err = FetchAll(context.Background(), src)
	require.Error(t, err)
	assert.Equal(t, "Deployments are not available", err.Error())
}

func TestFixtureSource_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "Releases.json", "{not json")

	src, err := NewFixtureSource(dir)
	require.NoError(t, err)

	_, err = src.Releases(context.Background())
	assert.ErrorContains(t, err, "decode Releases.json")
}

func TestFixtureSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DefaultFixtures().Projects(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
