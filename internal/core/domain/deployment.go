package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Deployment Errors
// =============================================================================

var (
	ErrMissingEnvironment = errors.New("deployment environment is required")
	ErrMissingRelease     = errors.New("deployment release is required")
	ErrInvalidDeployedAt  = errors.New("deployment timestamp is invalid")
)

// deployedAtLayouts are tried in order when decoding DeployedAt.
// Zone-less timestamps are read as UTC.
var deployedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// =============================================================================
// Deployment
// =============================================================================

// Deployment is a historical event placing a release into an environment.
// Many deployments may reference the same release and DeployedAt need not
// be unique.
type Deployment struct {
	ID            string    `json:"Id,omitempty" yaml:"Id,omitempty"`
	ReleaseID     string    `json:"ReleaseId" yaml:"ReleaseId"`
	EnvironmentID string    `json:"EnvironmentId" yaml:"EnvironmentId"`
	DeployedAt    time.Time `json:"DeployedAt" yaml:"DeployedAt"`
}

// NewDeployment creates a deployment of releaseID into environmentID.
func NewDeployment(releaseID, environmentID string, deployedAt time.Time) (*Deployment, error) {
	d := &Deployment{
		ReleaseID:     releaseID,
		EnvironmentID: environmentID,
		DeployedAt:    deployedAt.UTC(),
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the deployment references are present.
func (d Deployment) Validate() error {
	if strings.TrimSpace(d.EnvironmentID) == "" {
		return ErrMissingEnvironment
	}
	if strings.TrimSpace(d.ReleaseID) == "" {
		return ErrMissingRelease
	}
	return nil
}

// deploymentWire mirrors Deployment with DeployedAt kept as text so that
// both RFC 3339 and zone-less timestamps can be accepted.
type deploymentWire struct {
	ID            string `json:"Id,omitempty" yaml:"Id,omitempty"`
	ReleaseID     string `json:"ReleaseId" yaml:"ReleaseId"`
	EnvironmentID string `json:"EnvironmentId" yaml:"EnvironmentId"`
	DeployedAt    string `json:"DeployedAt" yaml:"DeployedAt"`
}

func (w deploymentWire) toDeployment() (Deployment, error) {
	at, err := ParseDeployedAt(w.DeployedAt)
	if err != nil {
		return Deployment{}, err
	}
	return Deployment{
		ID:            w.ID,
		ReleaseID:     w.ReleaseID,
		EnvironmentID: w.EnvironmentID,
		DeployedAt:    at,
	}, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Deployment) UnmarshalJSON(data []byte) error {
	var w deploymentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := w.toDeployment()
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler (gopkg.in/yaml.v3 form).
func (d *Deployment) UnmarshalYAML(unmarshal func(any) error) error {
	var w deploymentWire
	if err := unmarshal(&w); err != nil {
		return err
	}
	parsed, err := w.toDeployment()
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDeployedAt parses a deployment timestamp.
func ParseDeployedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range deployedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDeployedAt, s)
}
