package sessions

import (
	"errors"
	"fmt"
)

// SessionError represents errors related to session operations
type SessionError struct {
	Type      string
	SessionID string
	Message   string
	Cause     error
}

func (e *SessionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session error [%s] for session %s: %s (caused by: %v)", e.Type, e.SessionID, e.Message, e.Cause)
	}
	return fmt.Sprintf("session error [%s] for session %s: %s", e.Type, e.SessionID, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.Cause
}

// Session error types
const (
	SessionErrorTypeNotFound      = "not_found"
	SessionErrorTypeExpired       = "expired"
	SessionErrorTypeAlreadyExists = "already_exists"
)

// NewSessionNotFoundError creates an error for when a session is not found
func NewSessionNotFoundError(sessionID string) *SessionError {
	return &SessionError{
		Type:      SessionErrorTypeNotFound,
		SessionID: sessionID,
		Message:   "session not found",
	}
}

// NewSessionExpiredError creates an error for when a session is past its expiry
func NewSessionExpiredError(sessionID string) *SessionError {
	return &SessionError{
		Type:      SessionErrorTypeExpired,
		SessionID: sessionID,
		Message:   "session has expired",
	}
}

// NewSessionExistsError creates an error for an id collision on creation
func NewSessionExistsError(sessionID string) *SessionError {
	return &SessionError{
		Type:      SessionErrorTypeAlreadyExists,
		SessionID: sessionID,
		Message:   "session id already in use",
	}
}

// ParticipantError represents errors related to participant operations
type ParticipantError struct {
	Type          string
	SessionID     string
	ParticipantID string
	Message       string
	Cause         error
}

func (e *ParticipantError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("participant error [%s] for participant %s in session %s: %s (caused by: %v)",
			e.Type, e.ParticipantID, e.SessionID, e.Message, e.Cause)
	}
	return fmt.Sprintf("participant error [%s] for participant %s in session %s: %s",
		e.Type, e.ParticipantID, e.SessionID, e.Message)
}

func (e *ParticipantError) Unwrap() error {
	return e.Cause
}

// Participant error types
const (
	ParticipantErrorTypeNotFound = "not_found"
)

// NewParticipantNotFoundError creates an error for when a participant is not in a session
func NewParticipantNotFoundError(sessionID, participantID string) *ParticipantError {
	return &ParticipantError{
		Type:          ParticipantErrorTypeNotFound,
		SessionID:     sessionID,
		ParticipantID: participantID,
		Message:       "participant not found",
	}
}

// ValidationError represents errors in request validation
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// StorageError represents failures of the underlying storage backend.
// These are surfaced as internal errors and never retried by the service.
type StorageError struct {
	Operation string
	Message   string
	Cause     error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage error during %s: %s (caused by: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("storage error during %s: %s", e.Operation, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates an error for a failed storage operation
func NewStorageError(operation string, cause error) *StorageError {
	return &StorageError{
		Operation: operation,
		Message:   "storage operation failed",
		Cause:     cause,
	}
}

// Classification helpers used by the API layer to pick response codes.

// IsSessionNotFound reports whether err means the session id is unknown
func IsSessionNotFound(err error) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Type == SessionErrorTypeNotFound
}

// IsSessionExpired reports whether err means the session exists but is past expiry
func IsSessionExpired(err error) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Type == SessionErrorTypeExpired
}

// IsSessionExists reports whether err means the session id is already taken
func IsSessionExists(err error) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Type == SessionErrorTypeAlreadyExists
}

// IsParticipantNotFound reports whether err means the participant is not in the session
func IsParticipantNotFound(err error) bool {
	var pe *ParticipantError
	return errors.As(err, &pe) && pe.Type == ParticipantErrorTypeNotFound
}

// IsValidationError reports whether err is a request validation failure
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
