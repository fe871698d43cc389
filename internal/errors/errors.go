// Package errors provides the consolidated error definitions for evstore.
//
// This package defines:
// - Sentinel errors for all error conditions
// - Error category checking functions (IO, resource limit, capability)
// - Convenience wrappers around the standard errors package
package errors

import (
	"errors"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// IO errors. Fatal, surfaced to the caller, never retried.
	ErrNoMonitorEvents = errors.New("no monitor events found")
	ErrStoreClosed     = errors.New("store is closed")
	ErrWriterClosed    = errors.New("writer is closed")
	ErrTableNotFound   = errors.New("table not found")
	ErrColumnNotFound  = errors.New("column not found")

	// Resource limit errors. Recoverable by forcing the load or by
	// switching to chunked access.
	ErrTableTooLarge = errors.New("table exceeds the in-memory load guard")

	// Capability errors.
	ErrNoMonitorTable = errors.New("no monitor information was included in the creation of this file")

	// Input errors. Recovered locally by the telemetry parser: the line
	// is skipped with a warning and processing continues.
	ErrMalformedLine = errors.New("malformed monitor line")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsIO returns true if err is a fatal file or input-stream error.
func IsIO(err error) bool {
	return errors.Is(err, ErrNoMonitorEvents) ||
		errors.Is(err, ErrStoreClosed) ||
		errors.Is(err, ErrWriterClosed) ||
		errors.Is(err, ErrTableNotFound) ||
		errors.Is(err, ErrColumnNotFound)
}

// IsResourceLimit returns true if err indicates a memory-guard violation.
// The caller can recover by passing force or by iterating in chunks.
func IsResourceLimit(err error) bool {
	return errors.Is(err, ErrTableTooLarge)
}

// IsMissingCapability returns true if err indicates that the file was
// written without the requested table or column.
func IsMissingCapability(err error) bool {
	return errors.Is(err, ErrNoMonitorTable)
}

// IsMalformedInput returns true if err is a recoverable parse error.
func IsMalformedInput(err error) bool {
	return errors.Is(err, ErrMalformedLine)
}
