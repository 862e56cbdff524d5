package source

import (
	"errors"
	"fmt"

	"github.com/artpar/retainer/internal/core/domain"
)

// =============================================================================
// Error Types
// =============================================================================

// ErrUnavailable matches every *UnavailableError.
var ErrUnavailable = errors.New("resource is not available")

// UnavailableError reports that one collection could not be fetched.
// Error returns a fixed message naming the resource, e.g.
// "Projects are not available"; the cause is available through Unwrap.
type UnavailableError struct {
	Resource domain.Resource
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s are not available", e.Resource)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrUnavailable) hold for any resource.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func wrapUnavailable(resource domain.Resource, err error) error {
	if err == nil {
		return nil
	}
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) && unavailable.Resource == resource {
		return err
	}
	return &UnavailableError{Resource: resource, Err: err}
}
