package retention

import (
	"sort"

	"github.com/artpar/retainer/internal/core/domain"
)

// DefaultAmountOfReleases is the retention depth used when none is configured.
const DefaultAmountOfReleases = 3

// =============================================================================
// Result Types
// =============================================================================

// Stats describes data that could not contribute to the retained mapping.
type Stats struct {
	// Deployments is the total number of deployments considered.
	Deployments int `json:"deployments"`

	// OrphanedDeployments reference a release ID no project owns.
	OrphanedDeployments int `json:"orphaned_deployments"`

	// UnknownEnvironmentDeployments reference an environment that does not exist.
	UnknownEnvironmentDeployments int `json:"unknown_environment_deployments"`

	// ShortPairs counts (project, environment) pairs that retained fewer than
	// the requested amount of versions.
	ShortPairs int `json:"short_pairs"`
}

// Result is the output of one derivation. A new Result is allocated on every
// call, so a previously returned Result stays a valid snapshot.
type Result struct {
	Releases         domain.RetainedReleases `json:"retained_releases"`
	AmountOfReleases int                     `json:"amount_of_releases"`
	Stats            Stats                   `json:"stats"`
}

// =============================================================================
// Derivation
// =============================================================================

// Derive computes the retained releases for every project/environment pair.
// A non-positive amount falls back to DefaultAmountOfReleases.
func Derive(snapshot domain.Snapshot, amount int) *Result {
	if amount <= 0 {
		amount = DefaultAmountOfReleases
	}

	sorted := SortByDeployedAtDesc(snapshot.Deployments)

	releases := make(domain.RetainedReleases, len(snapshot.Projects))
	for _, project := range snapshot.Projects {
		releases[project.Name] = make(map[string][]string, len(snapshot.Environments))
	}

	stats := Stats{Deployments: len(snapshot.Deployments)}

	for _, env := range snapshot.Environments {
		byEnv := FilterByEnvironment(sorted, env.ID)

		for _, project := range snapshot.Projects {
			versions := RetainVersions(byEnv, snapshot.Releases, project.ID, amount)
			if len(versions) < amount {
				stats.ShortPairs++
			}
			releases[project.Name][env.Name] = versions
		}
	}

	stats.OrphanedDeployments = countOrphaned(snapshot.Deployments, snapshot.Releases)
	stats.UnknownEnvironmentDeployments = countUnknownEnvironment(snapshot.Deployments, snapshot.Environments)

	return &Result{
		Releases:         releases,
		AmountOfReleases: amount,
		Stats:            stats,
	}
}

// SortByDeployedAtDesc returns a copy of deployments ordered newest first.
// Deployments with equal timestamps keep their input order.
func SortByDeployedAtDesc(deployments []domain.Deployment) []domain.Deployment {
	sorted := make([]domain.Deployment, len(deployments))
	copy(sorted, deployments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DeployedAt.After(sorted[j].DeployedAt)
	})
	return sorted
}

// FilterByEnvironment returns the deployments into envID, preserving order.
func FilterByEnvironment(deployments []domain.Deployment, envID string) []domain.Deployment {
	var out []domain.Deployment
	for _, d := range deployments {
		if d.EnvironmentID == envID {
			out = append(out, d)
		}
	}
	return out
}

// RetainVersions walks deployments in order and collects the versions of the
// releases belonging to projectID, stopping once amount versions are held.
// The returned slice is never nil.
func RetainVersions(deployments []domain.Deployment, releases []domain.Release, projectID string, amount int) []string {
	versions := make([]string, 0, amount)
	for _, d := range deployments {
		if len(versions) >= amount {
			break
		}
		release, ok := FindRelease(releases, d.ReleaseID, projectID)
		if !ok {
			continue
		}
		versions = append(versions, release.Version)
	}
	return versions
}

// FindRelease looks up the release identified by (releaseID, projectID).
func FindRelease(releases []domain.Release, releaseID, projectID string) (domain.Release, bool) {
	for _, r := range releases {
		if r.Matches(releaseID, projectID) {
			return r, true
		}
	}
	return domain.Release{}, false
}

func countOrphaned(deployments []domain.Deployment, releases []domain.Release) int {
	known := make(map[string]struct{}, len(releases))
	for _, r := range releases {
		known[r.ID] = struct{}{}
	}
	n := 0
	for _, d := range deployments {
		if _, ok := known[d.ReleaseID]; !ok {
			n++
		}
	}
	return n
}

func countUnknownEnvironment(deployments []domain.Deployment, environments []domain.Environment) int {
	known := make(map[string]struct{}, len(environments))
	for _, e := range environments {
		known[e.ID] = struct{}{}
	}
	n := 0
	for _, d := range deployments {
		if _, ok := known[d.EnvironmentID]; !ok {
			n++
		}
	}
	return n
}
