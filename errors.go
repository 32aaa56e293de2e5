package edgeflow

import "errors"

var (
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("edgeflow: invalid configuration")

	// Lifecycle errors.
	ErrNotStarted     = errors.New("edgeflow: engine not started")
	ErrAlreadyStarted = errors.New("edgeflow: engine already started")
	ErrStopped        = errors.New("edgeflow: engine stopped")
)
