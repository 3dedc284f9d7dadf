package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyExists        = errors.New("already exists")
	ErrNotFound             = errors.New("not found")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrSessionNotConnected  = errors.New("session not connected")
	ErrInferenceTimeout     = errors.New("inference timed out")
	ErrMediaFetchFailed     = errors.New("media fetch failed")
)

// InferenceError reports a backend that failed or produced an unusable answer.
type InferenceError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *InferenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inference %s: %s: %v", e.Backend, e.Reason, e.Err)
	}
	return fmt.Sprintf("inference %s: %s", e.Backend, e.Reason)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// ConfigInconsistentError reports tenant configuration that cannot serve a
// resolution path, such as a package without media.
type ConfigInconsistentError struct {
	TenantID string
	Path     string
	Message  string
}

func (e *ConfigInconsistentError) Error() string {
	return fmt.Sprintf("tenant %s: %s: %s", e.TenantID, e.Path, e.Message)
}
