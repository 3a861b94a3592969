package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Error taxonomy text codes. Validation errors are rejected locally and never
// retried; transient errors are retried inside the fan-out processor until
// they harden into permanent ones; conflicts mean another writer already
// advanced the bundle; continuation errors are terminal for the wait.
const (
	SigningErrorValidation     = "SIGNING_VALIDATION"
	SigningErrorTransient      = "SIGNING_TRANSIENT"
	SigningErrorPermanent      = "SIGNING_PERMANENT"
	SigningErrorConflict       = "SIGNING_CONFLICT"
	SigningErrorContinuation   = "SIGNING_CONTINUATION"
	SigningErrorBundleNotFound = "SIGNING_BUNDLE_NOT_FOUND"
	SigningErrorInternal       = "SIGNING_INTERNAL_ERROR"
)

// NewTransientError marks a collaborator failure as retryable.
func NewTransientError(message string) *goerrors.Error {
	return ensureSigningErrorEnvelope(
		goerrors.New(message, goerrors.CategoryExternal).
			WithTextCode(SigningErrorTransient),
	)
}

// NewPermanentError marks a unit of work as failed beyond retry.
func NewPermanentError(message string) *goerrors.Error {
	return ensureSigningErrorEnvelope(
		goerrors.New(message, goerrors.CategoryOperation).
			WithTextCode(SigningErrorPermanent),
	)
}

func NewValidationError(message string) *goerrors.Error {
	return ensureSigningErrorEnvelope(
		goerrors.New(message, goerrors.CategoryValidation).
			WithTextCode(SigningErrorValidation),
	)
}

func NewConflictError(message string) *goerrors.Error {
	return ensureSigningErrorEnvelope(
		goerrors.New(message, goerrors.CategoryConflict).
			WithTextCode(SigningErrorConflict),
	)
}

// IsTransient reports whether the fan-out processor should retry err.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if strings.EqualFold(richErr.TextCode, SigningErrorTransient) {
			return true
		}
		return richErr.Category == goerrors.CategoryExternal ||
			richErr.Category == goerrors.CategoryRateLimit
	}
	return false
}

// IsConflict reports a lost compare-and-set race: logged, never retried by the
// losing caller.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryConflict {
		return true
	}
	return errors.Is(err, ErrInvalidBundleStatusTransition)
}

func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryValidation ||
			richErr.Category == goerrors.CategoryBadInput
	}
	return errors.Is(err, ErrDuplicateSequenceNo)
}

func signingErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureSigningErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrBundleNotFound), errors.Is(err, ErrVehicleNotFound):
		return newSigningError(err.Error(), goerrors.CategoryNotFound, SigningErrorBundleNotFound)
	case errors.Is(err, ErrWaitNotFound), errors.Is(err, ErrWaitAlreadyResumed):
		return newSigningError(err.Error(), goerrors.CategoryConflict, SigningErrorContinuation)
	case errors.Is(err, ErrInvalidBundleStatusTransition),
		errors.Is(err, ErrInvalidVehicleStatusTransition),
		errors.Is(err, ErrBundleAlreadyStarted):
		return newSigningError(err.Error(), goerrors.CategoryConflict, SigningErrorConflict)
	case errors.Is(err, ErrDuplicateSequenceNo):
		return newSigningError(err.Error(), goerrors.CategoryValidation, SigningErrorValidation)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "throttl"),
		strings.Contains(msg, "temporarily"):
		return newSigningError(err.Error(), goerrors.CategoryExternal, SigningErrorTransient)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newSigningError(err.Error(), goerrors.CategoryBadInput, SigningErrorValidation)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureSigningErrorEnvelope(mapped)
}

func newSigningError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureSigningErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureSigningErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = signingHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultSigningTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultSigningTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return SigningErrorValidation
	case goerrors.CategoryNotFound:
		return SigningErrorBundleNotFound
	case goerrors.CategoryConflict:
		return SigningErrorConflict
	case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
		return SigningErrorTransient
	case goerrors.CategoryOperation:
		return SigningErrorPermanent
	default:
		return SigningErrorInternal
	}
}

func signingHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
