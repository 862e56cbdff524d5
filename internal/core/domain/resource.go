package domain

// =============================================================================
// Resources
// =============================================================================

// Resource names one of the four collections a data source supplies.
type Resource string

const (
	ResourceProjects     Resource = "Projects"
	ResourceEnvironments Resource = "Environments"
	ResourceReleases     Resource = "Releases"
	ResourceDeployments  Resource = "Deployments"
)

// Resources lists every resource in load order.
var Resources = []Resource{
	ResourceProjects,
	ResourceEnvironments,
	ResourceReleases,
	ResourceDeployments,
}

// Valid reports whether r is one of the known resources.
func (r Resource) Valid() bool {
	for _, known := range Resources {
		if r == known {
			return true
		}
	}
	return false
}

func (r Resource) String() string {
	return string(r)
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot holds one complete, consistent copy of the four collections.
// A snapshot is only ever replaced as a whole.
type Snapshot struct {
	Projects     []Project     `json:"projects"`
	Environments []Environment `json:"environments"`
	Releases     []Release     `json:"releases"`
	Deployments  []Deployment  `json:"deployments"`
}

// Empty reports whether the snapshot holds no data at all.
func (s Snapshot) Empty() bool {
	return len(s.Projects) == 0 && len(s.Environments) == 0 &&
		len(s.Releases) == 0 && len(s.Deployments) == 0
}

// =============================================================================
// Retained Releases
// =============================================================================

// RetainedReleases maps project name to environment name to the retained
// versions, most recently deployed first. Versions may repeat.
type RetainedReleases map[string]map[string][]string

// Versions returns the retained versions for a project/environment pair.
func (r RetainedReleases) Versions(project, environment string) []string {
	byEnv, ok := r[project]
	if !ok {
		return nil
	}
	return byEnv[environment]
}
