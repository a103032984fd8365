package gmailapi

import (
	"fmt"

	"google.golang.org/api/googleapi"
)

// AuthError wraps a failure in the OAuth2 bootstrap or refresh path.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("gmail auth: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// ErrAuth wraps err as an *AuthError, or returns nil if err is nil.
func ErrAuth(err error) error {
	if err == nil {
		return nil
	}
	return &AuthError{Err: err}
}

// IsNotFound reports whether err is a Gmail 404, the signal used to
// detect an expired history cursor during incremental sync.
func IsNotFound(err error) bool {
	var gerr *googleapi.Error
	return asGoogleAPIError(err, &gerr) && gerr.Code == 404
}
