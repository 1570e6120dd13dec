package app

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingCredential means the request carried no token at all.
var ErrMissingCredential = errors.New("missing credential")

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

// notFound is returned both for missing notes and for notes owned by
// someone else.
func notFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Note not found or not authorized", nil)
}

func upstreamUnavailable(message string) *DomainError {
	return domainError(http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", message, nil)
}
