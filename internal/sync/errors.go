package sync

import (
	"errors"
	"fmt"
)

// ErrorCode classifies sync failures for programmatic handling. The code
// decides retry-vs-surface behavior; the message is for humans.
type ErrorCode string

const (
	ErrCodeNetwork          ErrorCode = "NETWORK"
	ErrCodeValidation       ErrorCode = "VALIDATION"
	ErrCodeConflict         ErrorCode = "CONFLICT"
	ErrCodeConfig           ErrorCode = "CONFIG"
	ErrCodeConnectivityLost ErrorCode = "CONNECTIVITY_LOST"
	ErrCodeSyncInProgress   ErrorCode = "SYNC_IN_PROGRESS"
	ErrCodeCancelled        ErrorCode = "CANCELLED"
)

// SyncError carries a stable code plus free-form context alongside the
// wrapped cause.
type SyncError struct {
	Code    ErrorCode
	Message string
	Context map[string]interface{}
	Err     error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func NewSyncError(code ErrorCode, message string) *SyncError {
	return &SyncError{Code: code, Message: message}
}

// WithContext attaches a key/value pair and returns the error for chaining.
func (e *SyncError) WithContext(key string, value interface{}) *SyncError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap records the underlying cause and returns the error for chaining.
func (e *SyncError) Wrap(err error) *SyncError {
	e.Err = err
	return e
}

// IsCode reports whether err carries the given sync error code anywhere in
// its chain.
func IsCode(err error, code ErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
