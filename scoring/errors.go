package scoring

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Validation
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeInvalidEvent     Code = "INVALID_EVENT"

	// State
	CodeNotAcceptingEvents     Code = "COMPETITION_NOT_ACCEPTING_EVENTS"
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"
	CodeEventAlreadyReversed   Code = "EVENT_ALREADY_REVERSED"
	CodeCompetitionFrozen      Code = "COMPETITION_FROZEN"
	CodeTestingOpsDisabled     Code = "TESTING_OPS_DISABLED"
	CodeUndoWindowExpired      Code = "UNDO_WINDOW_EXPIRED"
	CodeCompetitionNotFound    Code = "COMPETITION_NOT_FOUND"
	CodeEventNotFound          Code = "EVENT_NOT_FOUND"
	CodePlayerNotEnrolled      Code = "PLAYER_NOT_ENROLLED"
)

// HTTPStatus maps a code to the status the HTTP binding answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidationFailed, CodeInvalidEvent:
		return http.StatusBadRequest
	case CodeNotAcceptingEvents, CodeInvalidStateTransition, CodeEventAlreadyReversed, CodeCompetitionFrozen:
		return http.StatusConflict
	case CodeCompetitionNotFound, CodeEventNotFound, CodePlayerNotEnrolled:
		return http.StatusNotFound
	case CodeUndoWindowExpired:
		return http.StatusGone
	case CodeTestingOpsDisabled:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks.
var (
	ErrNotAcceptingEvents     = NewError(CodeNotAcceptingEvents, "competition is not accepting events")
	ErrInvalidStateTransition = NewError(CodeInvalidStateTransition, "invalid state transition")
	ErrEventAlreadyReversed   = NewError(CodeEventAlreadyReversed, "event already reversed")
	ErrCompetitionFrozen      = NewError(CodeCompetitionFrozen, "competition is finalized")
	ErrUndoWindowExpired      = NewError(CodeUndoWindowExpired, "undo window expired")
	ErrCompetitionNotFound    = NewError(CodeCompetitionNotFound, "competition not found")
	ErrEventNotFound          = NewError(CodeEventNotFound, "event not found")
	ErrPlayerNotEnrolled      = NewError(CodePlayerNotEnrolled, "player not enrolled")
	ErrTestingOpsDisabled     = NewError(CodeTestingOpsDisabled, "testing operations are disabled")
	ErrValidationFailed       = NewError(CodeValidationFailed, "validation failed")
	ErrInvalidEvent           = NewError(CodeInvalidEvent, "invalid event")
)

// CodeOf extracts the code from an error chain, CodeUnknown when none is present.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeUnknown
}
