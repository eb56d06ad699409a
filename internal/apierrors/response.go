package apierrors

import (
	"github.com/gin-gonic/gin"
)

// APIError is the body of every error response: {"error": {...}}.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error sends the registered status and message for code.
func Error(c *gin.Context, code string) {
	ErrorWithMessage(c, code, Registry.Message(code))
}

// ErrorWithMessage sends the registered status for code with a custom message.
func ErrorWithMessage(c *gin.Context, code, message string) {
	c.JSON(Registry.HTTPStatus(code), gin.H{"error": NewWithMessage(code, message)})
}

// Abort sends code and stops the handler chain. Used by middleware.
func Abort(c *gin.Context, code string) {
	c.AbortWithStatusJSON(Registry.HTTPStatus(code), gin.H{"error": NewWithMessage(code, Registry.Message(code))})
}

// NewWithMessage builds an APIError for bodies that carry more than the error.
func NewWithMessage(code, message string) APIError {
	return APIError{Code: code, Message: message}
}
