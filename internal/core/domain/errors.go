package domain

import "errors"

// Error kinds. Callers wrap these with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	// ErrValidation marks a viewport or coordinate outside accepted bounds.
	ErrValidation = errors.New("validation error")
	// ErrIndex marks a spatial index failure such as querying before load.
	ErrIndex = errors.New("index error")
	// ErrNotFound marks an unknown cluster or station id.
	ErrNotFound = errors.New("not found")
	// ErrNetwork marks a failed call to the station data source.
	ErrNetwork = errors.New("network error")
	// ErrChannel marks an unavailable index worker. Retryable.
	ErrChannel = errors.New("channel error")
)
