package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGeometry    = errors.New("invalid geometry")
	ErrMissingCredentials = errors.New("missing provider credentials")
	ErrProvider           = errors.New("provider error")
	ErrNoDataForDay       = errors.New("no imagery for the selected day")
	ErrExportNotReady     = errors.New("export not ready")
	ErrSessionNotFound    = errors.New("session not found")
)

// ProviderError wraps a transport, auth or quota failure from an external source.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

func NewProviderError(provider, op string, err error) error {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}
