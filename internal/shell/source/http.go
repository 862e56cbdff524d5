package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/retainer/internal/core/domain"
)

// =============================================================================
// HTTP Source
// =============================================================================

// HTTPConfig holds configuration for the HTTP source.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DefaultHTTPConfig returns default HTTP source configuration.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		BaseURL: "http://localhost:8080",
		Timeout: 10 * time.Second,
	}
}

// HTTPSource fetches collections from another retainer's API
// (GET /api/v1/projects and friends), each returning a JSON array.
type HTTPSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPSource creates a new HTTP source.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (s *HTTPSource) Projects(ctx context.Context) ([]domain.Project, error) {
	return getCollection[domain.Project](ctx, s, domain.ResourceProjects)
}

func (s *HTTPSource) Environments(ctx context.Context) ([]domain.Environment, error) {
	return getCollection[domain.Environment](ctx, s, domain.ResourceEnvironments)
}

func (s *HTTPSource) Releases(ctx context.Context) ([]domain.Release, error) {
	return getCollection[domain.Release](ctx, s, domain.ResourceReleases)
}

func (s *HTTPSource) Deployments(ctx context.Context) ([]domain.Deployment, error) {
	return getCollection[domain.Deployment](ctx, s, domain.ResourceDeployments)
}

// CollectionPath returns the API path serving a resource.
func CollectionPath(resource domain.Resource) string {
	return "/api/v1/" + strings.ToLower(resource.String())
}

func getCollection[T any](ctx context.Context, s *HTTPSource, resource domain.Resource) ([]T, error) {
	url := s.baseURL + CollectionPath(resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", resource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s returned error %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var items []T
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", resource, err)
	}
	return items, nil
}
