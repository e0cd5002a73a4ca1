package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrRecordNotFound         = errors.New("record not found")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

type Code string

const (
	CodeInvalidRange          Code = "INVALID_RANGE"
	CodeDurationExceeded      Code = "DURATION_EXCEEDED"
	CodeLeadTimeTooShort      Code = "LEAD_TIME_TOO_SHORT"
	CodeOutsideOperatingHours Code = "OUTSIDE_OPERATING_HOURS"
	CodeInvalidQuantity       Code = "INVALID_QUANTITY"
	CodeInvalidRequest        Code = "INVALID_REQUEST"

	CodeSlotConflict     Code = "SLOT_CONFLICT"
	CodeAlreadyCancelled Code = "ALREADY_CANCELLED"
	CodeOutOfStock       Code = "OUT_OF_STOCK"

	CodeForbidden Code = "FORBIDDEN"
	CodeNotFound  Code = "NOT_FOUND"

	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"

	CodeCancellationWindowPassed Code = "CANCELLATION_WINDOW_PASSED"

	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeConfirmationRequired Code = "CONFIRMATION_REQUIRED"
	CodeInternal             Code = "INTERNAL"
)

type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryConflict      Category = "conflict"
	CategoryAuthorization Category = "authorization"
	CategoryResource      Category = "resource"
	CategoryPolicy        Category = "policy"
	CategoryTransport     Category = "transport"
	CategoryInternal      Category = "internal"
)

type Metadata struct {
	Category      Category
	HTTPStatus    int
	PublicMessage string
}

var metadata = map[Code]Metadata{
	CodeInvalidRange:             {CategoryValidation, http.StatusUnprocessableEntity, "start must be before end"},
	CodeDurationExceeded:         {CategoryValidation, http.StatusUnprocessableEntity, "booking is longer than allowed"},
	CodeLeadTimeTooShort:         {CategoryValidation, http.StatusUnprocessableEntity, "booking starts too soon"},
	CodeOutsideOperatingHours:    {CategoryValidation, http.StatusUnprocessableEntity, "resource is closed at the requested time"},
	CodeInvalidQuantity:          {CategoryValidation, http.StatusUnprocessableEntity, "quantity must be at least 1"},
	CodeInvalidRequest:           {CategoryValidation, http.StatusBadRequest, "invalid request"},
	CodeSlotConflict:             {CategoryConflict, http.StatusConflict, "slot no longer available"},
	CodeAlreadyCancelled:         {CategoryConflict, http.StatusConflict, "reservation is already cancelled"},
	CodeOutOfStock:               {CategoryConflict, http.StatusConflict, "not enough copies in stock"},
	CodeForbidden:                {CategoryAuthorization, http.StatusForbidden, "not allowed"},
	CodeNotFound:                 {CategoryAuthorization, http.StatusNotFound, "not found"},
	CodeInsufficientBalance:      {CategoryResource, http.StatusPaymentRequired, "insufficient balance"},
	CodeCancellationWindowPassed: {CategoryPolicy, http.StatusConflict, "too late to cancel this reservation"},
	CodeUnauthorized:             {CategoryTransport, http.StatusUnauthorized, "authentication required"},
	CodeRateLimited:              {CategoryTransport, http.StatusTooManyRequests, "rate limit exceeded"},
	CodeConfirmationRequired:     {CategoryTransport, http.StatusConflict, "confirmation required"},
	CodeInternal:                 {CategoryInternal, http.StatusInternalServerError, "internal error"},
}

// MetadataFor returns the metadata registered for code, falling back to INTERNAL.
func MetadataFor(code Code) Metadata {
	if md, ok := metadata[code]; ok {
		return md
	}
	return metadata[CodeInternal]
}

// Error is a typed ledger failure carrying a stable machine-readable code.
type Error struct {
	code    Code
	message string
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	return e.code
}

func (e *Error) Message() string {
	if e.message == "" {
		return MetadataFor(e.code).PublicMessage
	}
	return e.message
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.Message(), e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.Message())
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error by code so callers can compare against a bare
// New(code, "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.code == e.code
}

func As(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, INTERNAL for untyped errors and ""
// for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if typed, ok := As(err); ok {
		return typed.code
	}
	return CodeInternal
}
