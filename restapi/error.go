/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"net/http"
	"strings"
	"unicode"
)

// Error is the body of every error response: {"error": true, "code": "...", "message": "..."}.
// Clients rely on the "error" flag and the human-readable message; the code is informational.
type Error struct {
	IsError bool                   `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error codes.
// We are using "var" here because some services may want to use different error codes.
var (
	ErrCodeInternal         = "internalError"
	ErrCodeNotFound         = "notFound"
	ErrCodeMethodNotAllowed = "methodNotAllowed"
	ErrCodeTooManyRequests  = "tooManyRequests"
	ErrCodeBadGateway       = "badGateway"
)

// Error messages.
// We are using "var" here because some services may want to use different error messages.
var (
	ErrMessageInternal         = "Internal error."
	ErrMessageNotFound         = "Not found."
	ErrMessageMethodNotAllowed = "Method not allowed."
	ErrMessageBadGateway       = "Upstream service is unavailable."
)

// NewError creates a new Error with specified code and message.
func NewError(code, message string) *Error {
	return &Error{IsError: true, Code: code, Message: message}
}

// NewErrorForStatus creates a new Error whose code is derived from the HTTP status text
// (e.g. 429 -> "tooManyRequests").
func NewErrorForStatus(httpStatusCode int, message string) *Error {
	return NewError(httpCode2ErrorCode(httpStatusCode), message)
}

// NewInternalError creates a new internal error.
func NewInternalError() *Error {
	return NewError(ErrCodeInternal, ErrMessageInternal)
}

// AddContext adds value to error context.
func (e *Error) AddContext(field string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[field] = value
	return e
}

func httpCode2ErrorCode(httpCode int) string {
	if httpCode == http.StatusInternalServerError {
		return ErrCodeInternal
	}
	var builder strings.Builder
	capitalizeNext := false
	for _, char := range http.StatusText(httpCode) {
		if unicode.IsSpace(char) {
			capitalizeNext = true
			continue
		}
		if capitalizeNext {
			builder.WriteRune(unicode.ToTitle(char))
			capitalizeNext = false
			continue
		}
		builder.WriteRune(unicode.ToLower(char))
	}
	return builder.String()
}
