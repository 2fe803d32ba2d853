package errors

import (
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Type mirrors the protocol's error.type field.
type Type string

const (
	TypeInvalidRequest       Type = "invalid_request"
	TypeRequestNotIdempotent Type = "request_not_idempotent"
	TypeProcessingError      Type = "processing_error"
	TypeServiceUnavailable   Type = "service_unavailable"
)

// Code is the machine-readable identifier for the specific failure.
type Code string

const (
	CodeMissingRequiredField        Code = "missing_required_field"
	CodeUnsupportedAPIVersion       Code = "unsupported_api_version"
	CodeUnauthorized                Code = "unauthorized"
	CodeInvalidJSON                 Code = "invalid_json"
	CodeNotFound                    Code = "not_found"
	CodeInvalidFulfillmentOption    Code = "invalid_fulfillment_option"
	CodeInvalidStatus               Code = "invalid_status"
	CodeRequires3DS                 Code = "requires_3ds"
	CodePaymentDeclined             Code = "payment_declined"
	CodeIdempotencyKeyReuseMismatch Code = "idempotency_key_reuse_mismatch"
	CodeProcessingError             Code = "processing_error"
	CodeServiceUnavailable          Code = "service_unavailable"
)

type Metadata struct {
	Type       Type
	HTTPStatus int
}

var metadataByCode = map[Code]Metadata{
	CodeMissingRequiredField:        {Type: TypeInvalidRequest, HTTPStatus: http.StatusBadRequest},
	CodeUnsupportedAPIVersion:       {Type: TypeInvalidRequest, HTTPStatus: http.StatusBadRequest},
	CodeUnauthorized:                {Type: TypeInvalidRequest, HTTPStatus: http.StatusUnauthorized},
	CodeInvalidJSON:                 {Type: TypeInvalidRequest, HTTPStatus: http.StatusBadRequest},
	CodeNotFound:                    {Type: TypeInvalidRequest, HTTPStatus: http.StatusNotFound},
	CodeInvalidFulfillmentOption:    {Type: TypeInvalidRequest, HTTPStatus: http.StatusBadRequest},
	CodeInvalidStatus:               {Type: TypeInvalidRequest, HTTPStatus: http.StatusBadRequest},
	CodeRequires3DS:                 {Type: TypeInvalidRequest, HTTPStatus: http.StatusBadRequest},
	CodePaymentDeclined:             {Type: TypeInvalidRequest, HTTPStatus: http.StatusBadRequest},
	CodeIdempotencyKeyReuseMismatch: {Type: TypeRequestNotIdempotent, HTTPStatus: http.StatusConflict},
	CodeProcessingError:             {Type: TypeProcessingError, HTTPStatus: http.StatusInternalServerError},
	CodeServiceUnavailable:          {Type: TypeServiceUnavailable, HTTPStatus: http.StatusServiceUnavailable},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeProcessingError]
}

// Error is the protocol error payload. Every lifecycle operation returns one
// of these as a value; nothing in the core raises for control flow.
type Error struct {
	code    Code
	message string
	param   string
	status  int
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
		return CodeProcessingError
	}
	return e.code
}

func (e *Error) Type() Type {
	return MetadataFor(e.Code()).Type
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Param is a JSON-path-like pointer to the offending request field.
func (e *Error) Param() string {
	if e == nil {
		return ""
	}
	return e.param
}

// WithParam records the JSON path of the field that triggered the error.
func (e *Error) WithParam(jsonPath string) *Error {
	if e == nil {
		return nil
	}
	e.param = jsonPath
	return e
}

// WithStatus overrides the HTTP status derived from the code. The cancel
// endpoint uses this for its 405 on invalid-state attempts.
func (e *Error) WithStatus(status int) *Error {
	if e == nil {
		return nil
	}
	e.status = status
	return e
}

func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	if e.status != 0 {
		return e.status
	}
	return MetadataFor(e.code).HTTPStatus
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

// MarshalJSON emits the wire shape {type, code, message, param?}.
func (e *Error) MarshalJSON() ([]byte, error) {
	payload := struct {
		Type    Type    `json:"type"`
		Code    Code    `json:"code"`
		Message string  `json:"message"`
		Param   *string `json:"param,omitempty"`
	}{
		Type:    e.Type(),
		Code:    e.Code(),
		Message: e.Message(),
	}
	if e != nil && e.param != "" {
		payload.Param = &e.param
	}
	return json.Marshal(payload)
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
