package domain

import (
	"errors"
	"fmt"
)

// Warning codes attached to Prediction.Warnings. Subsystem failures degrade into these instead of
// errors.
const (
	WarnInsufficientBaseline        = "INSUFFICIENT_BASELINE_DATA"
	WarnBaselineProviderUnavailable = "BASELINE_PROVIDER_UNAVAILABLE"
	WarnPlaybookUnavailable         = "PLAYBOOK_SERVICE_UNAVAILABLE"
	WarnUnsupportedConfiguration    = "UNSUPPORTED_CONFIGURATION"
	warnDetectorErrorPrefix         = "DETECTOR_ERROR_"
)

// DetectorErrorWarning returns the warning code for the i-th selected detector.
func DetectorErrorWarning(i int) string {
	return fmt.Sprintf("%s%d", warnDetectorErrorPrefix, i)
}

// Sentinel errors
var (
	ErrNilRequest = errors.New("prediction request is required")
	ErrNotFound   = errors.New("not found")
)

// ValidationError represents a request that fails boundary validation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// DetectorError wraps a failure raised inside one detector.
type DetectorError struct {
	Detector string
	Index    int
	Err      error
}

// Error implements the error interface
func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s (#%d) failed: %v", e.Detector, e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *DetectorError) Unwrap() error {
	return e.Err
}
