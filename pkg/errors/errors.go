package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
)

// Pipeline taxonomy. Duplicate admissions are a decision, not an error.
var (
	ErrUnauthorized         = NewError("UNAUTHORIZED", "webhook signature invalid", http.StatusUnauthorized).AsFatal()
	ErrUnsupportedProvider  = NewError("UNSUPPORTED_PROVIDER", "unsupported webhook provider", http.StatusBadRequest).AsFatal()
	ErrMalformedPayload     = NewError("MALFORMED_PAYLOAD", "malformed webhook payload", http.StatusBadRequest).AsFatal()
	ErrPayloadTooLarge      = NewError("PAYLOAD_TOO_LARGE", "webhook payload exceeds size limit", http.StatusRequestEntityTooLarge).AsFatal()
	ErrAdmissionUnavailable = NewError("ADMISSION_UNAVAILABLE", "admission store unavailable", http.StatusServiceUnavailable).AsRetryable()
	ErrBusy                 = NewError("BUSY", "event queue full", http.StatusServiceUnavailable).AsRetryable()
	ErrDeliveryFailed       = NewError("DELIVERY_FAILED", "notification delivery failed", http.StatusBadGateway).AsRetryable()
	ErrDeadLettered         = NewError("DEAD_LETTERED", "notification delivery exhausted", http.StatusBadGateway).AsFatal()
	ErrDuplicateAttempt     = NewError("DUPLICATE_ATTEMPT", "delivery already in flight", http.StatusConflict).AsFatal()
)

// RetryableError and FatalError let callers classify errors without
// depending on *Error.
type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type class uint8

const (
	classDefault class = iota
	classRetryable
	classFatal
)

// internalDetails never leave the process in an HTTP response.
var internalDetails = map[string]bool{"stack_trace": true}

// Error is the pipeline's error taxonomy entry. Values are immutable; the
// With* and As* builders return modified copies, so the package sentinels
// can be shared.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error
	class   class
}

func NewError(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so that copies made by the With* builders still
// satisfy errors.Is against the package sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable follows an explicit AsRetryable/AsFatal, then the cause's own
// classification. Unclassified errors other than validation and not-found
// are worth retrying.
func (e *Error) IsRetryable() bool {
	switch e.class {
	case classRetryable:
		return true
	case classFatal:
		return false
	}
	if fatal, ok := e.causeFatal(); ok {
		return !fatal
	}
	return e.Code != ErrValidation.Code && e.Code != ErrNotFound.Code
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) causeFatal() (fatal, known bool) {
	if e.Cause == nil {
		return false, false
	}
	var retryable RetryableError
	if errors.As(e.Cause, &retryable) {
		return !retryable.IsRetryable(), true
	}
	var f FatalError
	if errors.As(e.Cause, &f) {
		return f.IsFatal(), true
	}
	return false, false
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	err.Details[key] = value
	return &err
}

func (e *Error) WithMessage(message string) *Error {
	err := *e
	err.Message = message
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	err.class = classRetryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	err.class = classFatal
	return &err
}

// Code returns the taxonomy code of err, or ErrInternal's code for foreign
// errors. It is recorded on audit entries.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal.Code
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsRetryable(err error) bool {
	var retryableErr RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.IsRetryable()
	}
	return false
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ToErrorResponse renders err as the JSON error body. Foreign errors are
// reported as ErrInternal without their text.
func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	details := make(map[string]interface{}, len(appErr.Details))
	for k, v := range appErr.Details {
		if !internalDetails[k] {
			details[k] = v
		}
	}
	if len(details) > 0 {
		response["details"] = details
	}
	return response
}
