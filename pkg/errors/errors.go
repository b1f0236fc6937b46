package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeInsufficientStock   Code = "INSUFFICIENT_STOCK"
	CodeComponentNotFound   Code = "COMPONENT_NOT_FOUND"
	CodePrematureCompletion Code = "PREMATURE_COMPLETION"
	CodeBusy                Code = "BUSY"
	CodeIdempotency         Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal            Code = "INTERNAL_ERROR"
	CodeDependency          Code = "DEPENDENCY_ERROR"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeUnauthorized: {
		HTTPStatus:    http.StatusUnauthorized,
		PublicMessage: "authentication required",
	},
	CodeForbidden: {
		HTTPStatus:    http.StatusForbidden,
		PublicMessage: "access denied",
	},
	CodeNotFound: {
		HTTPStatus:    http.StatusNotFound,
		PublicMessage: "resource not found",
	},
	CodeConflict: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "conflict detected",
	},
	CodeInvalidTransition: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "state transition disallowed",
		DetailsAllowed: true,
	},
	CodeInsufficientStock: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "insufficient stock",
		DetailsAllowed: true,
	},
	CodeComponentNotFound: {
		HTTPStatus:     http.StatusNotFound,
		PublicMessage:  "component not found",
		DetailsAllowed: true,
	},
	CodePrematureCompletion: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "repair is not finished",
		DetailsAllowed: true,
	},
	CodeBusy: {
		HTTPStatus:    http.StatusServiceUnavailable,
		Retryable:     true,
		PublicMessage: "resource busy, retry later",
	},
	CodeIdempotency: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "idempotency key reused",
		DetailsAllowed: true,
	},
	CodeInternal: {
		HTTPStatus:    http.StatusInternalServerError,
		Retryable:     true,
		PublicMessage: "internal server error",
	},
	CodeDependency: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "dependency unavailable",
		DetailsAllowed: true,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

// TransitionDetails names the state a caller found and the one it asked for.
type TransitionDetails struct {
	Entity    string `json:"entity"`
	Current   string `json:"current"`
	Attempted string `json:"attempted"`
}

// InvalidTransition builds the error returned for any state machine violation.
func InvalidTransition(entity, current, attempted string) *Error {
	return New(CodeInvalidTransition, fmt.Sprintf("%s cannot move from %s to %s", entity, current, attempted)).
		WithDetails(TransitionDetails{Entity: entity, Current: current, Attempted: attempted})
}

// Validation is shorthand for a CodeValidation error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}
