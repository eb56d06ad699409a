package remoterpc

import (
	"errors"
	"fmt"
)

// AuthenticationError means the destination rejected the credentials or could
// not be reached while authenticating.
type AuthenticationError struct {
	URL     string
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %s", e.URL, e.Message)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RemoteCallError carries the message reported by the destination for a
// failed model call, or the transport failure that prevented it.
type RemoteCallError struct {
	Model   string
	Method  string
	Code    int
	Name    string
	Message string
	Err     error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("remote call %s.%s failed: %s", e.Model, e.Method, e.Message)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

// SessionExpired reports whether the destination dropped the session.
func (e *RemoteCallError) SessionExpired() bool {
	return e.Name == "odoo.http.SessionExpiredException"
}

// IsAuthentication reports whether err is or wraps an AuthenticationError.
func IsAuthentication(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}
