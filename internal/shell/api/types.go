package api

import (
	"time"

	"github.com/artpar/retainer/internal/core/domain"
	"github.com/artpar/retainer/internal/core/retention"
)

// =============================================================================
// Response Types
// =============================================================================

// RetainedReleasesResponse is the response for the retained releases.
type RetainedReleasesResponse struct {
	RetainedReleases domain.RetainedReleases `json:"retained_releases"`
	AmountOfReleases int                     `json:"amount_of_releases"`
	UpdatedAt        time.Time               `json:"updated_at"`
	Stale            bool                    `json:"stale"`
	Stats            retention.Stats         `json:"stats"`
}

// RefreshResponse is the response for a successful refresh.
type RefreshResponse struct {
	UpdatedAt time.Time `json:"updated_at"`
}

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for readiness check.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`
}

// ErrorResponse is the response for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
