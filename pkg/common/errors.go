// Package common holds the error kinds shared across the simulation core.
package common

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds the core distinguishes. Callers
// classify with errors.Is; only ErrConfig is fatal at startup.
var (
	ErrConfig     = errors.New("config error")
	ErrDataStore  = errors.New("data store error")
	ErrBusTimeout = errors.New("bus request timed out")
	ErrState      = errors.New("illegal state transition")
	ErrGeometry   = errors.New("degenerate geometry")
)

// AppError pairs an error kind with a human-readable message and an optional
// underlying cause.
type AppError struct {
	Kind    error
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches the error's kind so errors.Is(err, common.ErrConfig) works even
// when a cause is attached.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewConfigError reports an invalid or missing configuration value.
func NewConfigError(message string, err error) *AppError {
	return &AppError{Kind: ErrConfig, Message: message, Err: err}
}

// NewDataStoreError reports a failed fetch from the geographic data store.
func NewDataStoreError(message string, err error) *AppError {
	return &AppError{Kind: ErrDataStore, Message: message, Err: err}
}

// NewStateError reports an illegal lifecycle transition.
func NewStateError(message string) *AppError {
	return &AppError{Kind: ErrState, Message: message}
}

// NewGeometryError reports degenerate input geometry.
func NewGeometryError(message string) *AppError {
	return &AppError{Kind: ErrGeometry, Message: message}
}
