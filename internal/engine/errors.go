package engine

import "errors"

var (
	// ErrNotLoaded is returned when retained releases are read before any
	// load has completed successfully.
	ErrNotLoaded = errors.New("load all the required data first, use Init()")

	// ErrInvalidAmount is returned for a negative amount of releases.
	ErrInvalidAmount = errors.New("amount of releases must be a positive integer")

	// ErrNoSource is returned when the engine is built without a data source.
	ErrNoSource = errors.New("data source is required")
)
