// Package zrerrors provides the shared structured error kinds every
// component surfaces, generalizing the Kind+message+sentinel-wrapping shape
// internal/dag/errors.go already uses for graph validation failures.
package zrerrors

import (
	"errors"
	"fmt"
)

// Kind identifies the class of failure, independent of the Go type that
// carries it. These correspond to the error kinds components surface.
type Kind string

const (
	TaskNotFound               Kind = "TaskNotFound"
	CycleDetected              Kind = "CycleDetected"
	SpawnFailed                Kind = "SpawnFailed"
	Timeout                    Kind = "Timeout"
	Cancelled                  Kind = "Cancelled"
	CacheIOFailure             Kind = "CacheIOFailure"
	FingerprintInputMissing    Kind = "FingerprintInputMissing"
	WatcherFailure             Kind = "WatcherFailure"
	WorkspaceResolutionFailure Kind = "WorkspaceResolutionFailure"
	ConfigurationInvalid       Kind = "ConfigurationInvalid"
)

var sentinels = map[Kind]error{
	TaskNotFound:               errors.New("task not found"),
	CycleDetected:              errors.New("cycle detected"),
	SpawnFailed:                errors.New("spawn failed"),
	Timeout:                    errors.New("timeout"),
	Cancelled:                  errors.New("cancelled"),
	CacheIOFailure:             errors.New("cache io failure"),
	FingerprintInputMissing:    errors.New("fingerprint input missing"),
	WatcherFailure:             errors.New("watcher failure"),
	WorkspaceResolutionFailure: errors.New("workspace resolution failure"),
	ConfigurationInvalid:       errors.New("configuration invalid"),
}

// Error is a structured error carrying a Kind, a human-readable message, and
// the component that raised it (e.g. "scheduler", "cache", "watcher").
// errors.As against *Error works; errors.Is(err, zrerrors.Sentinel(kind))
// works when Cause is nil, since Unwrap then returns the kind's sentinel
// (with Cause set, Unwrap returns Cause). zrerrors.Is matches the Kind either way.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Component != "" {
		return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return sentinels[e.Kind]
}

// New builds a *Error for kind, raised by component, wrapping cause (which
// may be nil).
func New(kind Kind, component, message string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Cause: cause}
}

// Sentinel returns the stable comparison error for kind, for errors.Is
// checks against code that doesn't have the concrete *Error in scope.
func Sentinel(kind Kind) error {
	return sentinels[kind]
}

// Is reports whether err carries kind, either as a *Error.Kind or by
// matching kind's sentinel through the standard wrapping chain.
func Is(err error, kind Kind) bool {
	var ze *Error
	if errors.As(err, &ze) && ze != nil {
		return ze.Kind == kind
	}
	return errors.Is(err, sentinels[kind])
}
