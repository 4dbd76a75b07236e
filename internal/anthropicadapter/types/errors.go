package types

import (
	"fmt"
	"net/http"
)

// ErrorType enumerates the error taxonomy surfaced to clients.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeAuthentication ErrorType = "authentication_error"
	ErrorTypeNotFound       ErrorType = "not_found_error"
	ErrorTypeValidation     ErrorType = "validation_error"
	ErrorTypeRateLimit      ErrorType = "rate_limit_error"
	ErrorTypeAPI            ErrorType = "api_error"
	ErrorTypeTimeout        ErrorType = "timeout_error"
	ErrorTypeServer         ErrorType = "server_error"
)

// ErrorResponse is the Anthropic error envelope. It implements error so
// translation failures can travel through ordinary error returns and be
// serialized as-is at the HTTP boundary.
type ErrorResponse struct {
	Type   string      `json:"type"`
	Detail ErrorDetail `json:"error"`
}

// ErrorDetail is the inner error object of the envelope.
type ErrorDetail struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// NewError builds an error envelope of the given type.
func NewError(t ErrorType, format string, args ...any) *ErrorResponse {
	return &ErrorResponse{
		Type: "error",
		Detail: ErrorDetail{
			Type:    t,
			Message: fmt.Sprintf(format, args...),
		},
	}
}

// Error implements the error interface.
func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("%s: %s", e.Detail.Type, e.Detail.Message)
}

// HTTPStatus maps an error type to the status code it is served with.
func (t ErrorType) HTTPStatus() int {
	switch t {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeValidation:
		return http.StatusUnprocessableEntity
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeServer:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorTypeForUpstreamStatus maps a non-2xx upstream status to the taxonomy.
func ErrorTypeForUpstreamStatus(status int) ErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	default:
		return ErrorTypeAPI
	}
}
