// Package apierrors maps service errors to namespaced API error codes
// ("core:not_found", "transfer:auth_failed") and writes gin error responses.
package apierrors

import "net/http"

const (
	CodeUnauthorized   = "core:unauthorized"
	CodeInvalidToken   = "core:invalid_token"
	CodeInvalidRequest = "core:invalid_request"
	CodeInvalidID      = "core:invalid_id"
	CodeNotFound       = "core:not_found"
	CodeConflict       = "core:conflict"
	CodeRateLimited    = "core:rate_limited"
	CodeInternalError  = "core:internal_error"
)

const (
	CodeTransferValidation = "transfer:validation_failed"
	CodeTransferAuth       = "transfer:auth_failed"
	CodeTransferRemoteCall = "transfer:remote_call_failed"
	CodeTransferTimeout    = "transfer:timeout"
)

var coreErrors = []ErrorCode{
	{Code: CodeUnauthorized, Message: "Authentication required", HTTPStatus: http.StatusUnauthorized},
	{Code: CodeInvalidToken, Message: "Invalid API key", HTTPStatus: http.StatusUnauthorized},
	{Code: CodeInvalidRequest, Message: "Invalid request body", HTTPStatus: http.StatusBadRequest},
	{Code: CodeInvalidID, Message: "Invalid ID format", HTTPStatus: http.StatusBadRequest},
	{Code: CodeNotFound, Message: "Resource not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeConflict, Message: "Resource conflict", HTTPStatus: http.StatusConflict},
	{Code: CodeRateLimited, Message: "Too many requests", HTTPStatus: http.StatusTooManyRequests},
	{Code: CodeInternalError, Message: "Internal server error", HTTPStatus: http.StatusInternalServerError},
}

// Registered under "transfer".
var transferErrors = []ErrorCode{
	{Code: "validation_failed", Message: "Transfer request is invalid", HTTPStatus: http.StatusBadRequest},
	{Code: "auth_failed", Message: "Authentication with the remote system failed", HTTPStatus: http.StatusBadGateway},
	{Code: "remote_call_failed", Message: "The remote system rejected the request", HTTPStatus: http.StatusBadGateway},
	{Code: "timeout", Message: "The remote system did not answer in time", HTTPStatus: http.StatusGatewayTimeout},
}

func init() {
	Registry.RegisterNamespace("core", coreErrors)
	Registry.RegisterNamespace("transfer", transferErrors)
}
