package domain

import (
	"errors"
	"strings"
)

// =============================================================================
// Catalog Errors
// =============================================================================

var (
	ErrMissingID      = errors.New("id is required")
	ErrMissingName    = errors.New("name is required")
	ErrMissingProject = errors.New("release project is required")
)

// =============================================================================
// Project
// =============================================================================

// Project is a deployable product. IDs are unique.
type Project struct {
	ID   string `json:"Id" yaml:"Id"`
	Name string `json:"Name" yaml:"Name"`
}

// Validate checks required project fields.
func (p Project) Validate() error {
	return validateNamed(p.ID, p.Name)
}

// =============================================================================
// Environment
// =============================================================================

// Environment is a deployment target such as Staging or Production.
type Environment struct {
	ID   string `json:"Id" yaml:"Id"`
	Name string `json:"Name" yaml:"Name"`
}

// Validate checks required environment fields.
func (e Environment) Validate() error {
	return validateNamed(e.ID, e.Name)
}

// =============================================================================
// Release
// =============================================================================

// Release is a versioned build of a project. A release is identified by the
// (ID, ProjectID) pair; Version is an opaque string with no ordering.
type Release struct {
	ID        string `json:"Id" yaml:"Id"`
	ProjectID string `json:"ProjectId" yaml:"ProjectId"`
	Version   string `json:"Version" yaml:"Version"`
}

// Validate checks required release fields.
func (r Release) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(r.ProjectID) == "" {
		return ErrMissingProject
	}
	return nil
}

// Matches reports whether the release is the one identified by id within projectID.
func (r Release) Matches(id, projectID string) bool {
	return r.ID == id && r.ProjectID == projectID
}

func validateNamed(id, name string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(name) == "" {
		return ErrMissingName
	}
	return nil
}
