// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	// ErrNoPriorState is returned by Load when no persisted state exists.
	// Callers decide whether to start fresh or abort.
	ErrNoPriorState = errors.New("no prior state")

	ErrInsufficientData = errors.New("insufficient data for calculation")
	ErrDataExhausted    = errors.New("market data exhausted")
	ErrEpisodeDone      = errors.New("episode already terminated")
	ErrInvalidAction    = errors.New("invalid action")
)

// ConfigError represents a construction-time configuration error.
// Configuration errors fail fast and are never silently defaulted.
type ConfigError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field string, value interface{}, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// InvariantError represents a fatal internal invariant violation, e.g. NaN
// reaching account state or a prediction-model dimension mismatch. It is
// never recoverable: the episode must abort.
type InvariantError struct {
	Component string
	Message   string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated [%s]: %s", e.Component, e.Message)
}

// NewInvariantError creates a new InvariantError.
func NewInvariantError(component, message string) *InvariantError {
	return &InvariantError{
		Component: component,
		Message:   message,
	}
}

// RiskError represents a risk limit breach surfaced to callers that want
// details beyond the governor's boolean verdict.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.2f, limit: %.2f)", e.Rule, e.Message, e.Current, e.Limit)
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{
		Rule:    rule,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// PersistenceError wraps a failed checkpoint save or load with its path.
type PersistenceError struct {
	Op   string // "save" or "load"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error [%s] %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(op, path string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Path: path, Err: err}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
