package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All components MUST use these constants instead of hardcoded strings.
const (
	// Configuration (fatal, surfaced before any dataset fetch)
	ErrCodeConfigMissingPath        ErrorCode = "configuration_missing_path"
	ErrCodeConfigPlaceholderPath    ErrorCode = "configuration_placeholder_path"
	ErrCodeConfigUnsupportedGeom    ErrorCode = "configuration_unsupported_geometry_type"
	ErrCodeConfigUnsupportedFormat  ErrorCode = "configuration_unsupported_format"
	ErrCodeConfigInvalidBuffer      ErrorCode = "configuration_invalid_buffer"
	ErrCodeConfigInvalidParameter   ErrorCode = "configuration_invalid_parameter"
	ErrCodeConfigUnsupportedTarget  ErrorCode = "configuration_unsupported_target"
	ErrCodeConfigUnsupportedProjCRS ErrorCode = "configuration_unsupported_crs"

	// Validation (fatal for the run)
	ErrCodeValidationGeometryMismatch ErrorCode = "validation_geometry_type_mismatch"
	ErrCodeValidationInvalidGeometry  ErrorCode = "validation_invalid_geometry"
	ErrCodeValidationEmptyInput       ErrorCode = "validation_empty_input"
	ErrCodeValidationInvalidLat       ErrorCode = "validation_invalid_latitude"
	ErrCodeValidationInvalidLon       ErrorCode = "validation_invalid_longitude"

	// Not Found
	ErrCodeNotFoundDataset ErrorCode = "not_found_dataset"
	ErrCodeNotFoundObject  ErrorCode = "not_found_object"

	// Per-unit outcomes (recoverable)
	ErrCodeWarningEmptyRegion ErrorCode = "warning_empty_region"
	ErrCodeLimitUnitBudget    ErrorCode = "limit_unit_budget_exceeded"

	// Internal/Upstream
	ErrCodeInternalUnalignedRaster ErrorCode = "internal_unaligned_raster"
	ErrCodeInternalCorruptChunk    ErrorCode = "internal_corrupt_chunk"
	ErrCodeInternalDB              ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected      ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamProvider        ErrorCode = "upstream_provider_unavailable"
	ErrCodeUpstreamStorage         ErrorCode = "upstream_storage_unavailable"
	ErrCodeUpstreamQueue           ErrorCode = "upstream_queue_unavailable"
)

// IsFatal reports whether a code must abort the whole run rather than a
// single cluster, tile or dataset unit.
func (c ErrorCode) IsFatal() bool {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "configuration_"),
		strings.HasPrefix(s, "validation_"),
		c == ErrCodeNotFoundDataset,
		c == ErrCodeInternalUnalignedRaster:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether an operation that failed with this code may be
// attempted again. Only upstream availability failures qualify; validation and
// configuration errors are never retried.
func (c ErrorCode) IsRetryable() bool {
	return strings.HasPrefix(string(c), "upstream_")
}

// AppError is the standard application error type used throughout the pipeline.
// All domain errors should be expressed as AppError to enable consistent
// classification (fatal vs per-unit) and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from the first AppError in err's chain.
// Returns ErrCodeInternalUnexpected for errors that carry no code.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return CodeOf(err).IsFatal()
}

// IsRetryable reports whether err is a transient upstream failure.
// Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code.IsRetryable()
}
