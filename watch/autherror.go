package watch

import (
	"fmt"

	"github.com/veyra/listwatch/errors"
)

// AuthError marks a scrape failure caused by invalid or expired user
// credentials for a site, as opposed to a site-wide outage. Auth errors are
// handled as session-lifecycle events and are explicitly excluded from
// circuit-breaker failure accounting.
type AuthError struct {
	Site   string
	UserID string
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("authentication failed for %s: %s", e.Site, e.Detail)
	}
	return fmt.Sprintf("authentication failed for %s", e.Site)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError builds an auth-class error for a (site, user) pair.
func NewAuthError(site, userID, detail string, cause error) *AuthError {
	return &AuthError{Site: site, UserID: userID, Detail: detail, Err: cause}
}

// IsAuthError reports whether err is or wraps an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
