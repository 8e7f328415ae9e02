package errorutil

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned to callers. They are stable and safe to match on.
const (
	CodeNotFound         = "NOT_FOUND"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeAlreadyClaimed   = "ALREADY_CLAIMED"
	CodeNotClaimed       = "NOT_CLAIMED"
	CodeNotOwner         = "NOT_OWNER"
	CodeNotCreator       = "NOT_CREATOR"
	CodeLimitExceeded    = "LIMIT_EXCEEDED"
	CodeNotConfigured    = "NOT_CONFIGURED"
	CodeAlreadyRequested = "ALREADY_REQUESTED"
	CodeValidation       = "VALIDATION_FAILED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInternal         = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrNotFound         = &DomainError{Code: CodeNotFound}
	ErrPermissionDenied = &DomainError{Code: CodePermissionDenied}
	ErrAlreadyClaimed   = &DomainError{Code: CodeAlreadyClaimed}
	ErrNotClaimed       = &DomainError{Code: CodeNotClaimed}
	ErrNotOwner         = &DomainError{Code: CodeNotOwner}
	ErrNotCreator       = &DomainError{Code: CodeNotCreator}
	ErrLimitExceeded    = &DomainError{Code: CodeLimitExceeded}
	ErrNotConfigured    = &DomainError{Code: CodeNotConfigured}
	ErrAlreadyRequested = &DomainError{Code: CodeAlreadyRequested}
	ErrValidation       = &DomainError{Code: CodeValidation}
	ErrInternal         = &DomainError{Code: CodeInternal}
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewPermissionDenied(message string) error {
	return NewDomainError(CodePermissionDenied, message, http.StatusForbidden, nil)
}

func NewAlreadyClaimed(claimant string) error {
	return NewDomainError(CodeAlreadyClaimed, "ticket is already claimed", http.StatusConflict,
		map[string]any{"claimed_by": claimant})
}

func NewNotClaimed() error {
	return NewDomainError(CodeNotClaimed, "ticket is not claimed", http.StatusConflict, nil)
}

func NewNotOwner() error {
	return NewDomainError(CodeNotOwner, "only the claimant or an administrator can unclaim this ticket", http.StatusForbidden, nil)
}

func NewNotCreator() error {
	return NewDomainError(CodeNotCreator, "only the ticket creator can do this", http.StatusForbidden, nil)
}

func NewLimitExceeded(max int) error {
	return NewDomainError(CodeLimitExceeded, fmt.Sprintf("you can only have %d open tickets at a time", max),
		http.StatusConflict, map[string]any{"max_tickets": max})
}

func NewNotConfigured(setting string) error {
	return NewDomainError(CodeNotConfigured, fmt.Sprintf("%s is not set up", setting),
		http.StatusPreconditionFailed, map[string]any{"setting": setting})
}

func NewAlreadyRequested() error {
	return NewDomainError(CodeAlreadyRequested, "close request already sent", http.StatusConflict, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "the action could not be completed",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		if domainErr.HTTPStatus == 0 {
			cp := *domainErr
			cp.HTTPStatus = http.StatusInternalServerError
			return &cp
		}
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return NewNotFound("resource", nil).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

// CodeOf returns the error code carried by err, or CodeInternal.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return ToDomainError(err).Code
}
