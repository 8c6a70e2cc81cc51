package remote

import (
	"fmt"
	"net/http"

	"placement/internal/core"
	"placement/internal/identity"
)

// APIError is an error response of the API. It unwraps to the identity or
// validation error its code stands for, so callers can use errors.Is.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("api request failed (%d %s): %s", e.Status, e.Code, e.Message)
	case e.Code != "":
		return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Code)
	}
	return fmt.Sprintf("api request failed with status %d", e.Status)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "invalid_request":
		return core.ErrValidation
	case "invalid_credentials":
		return identity.ErrInvalidCredentials
	case "credential_not_provisioned":
		return identity.ErrCredentialNotProvisioned
	case "email_taken":
		return identity.ErrEmailTaken
	case "not_found":
		return identity.ErrNotFound
	case "forbidden":
		return identity.ErrForbidden
	case "rate_limited":
		return identity.ErrRateLimited
	}
	switch e.Status {
	case http.StatusUnauthorized:
		return identity.ErrNotSignedIn
	case http.StatusNotFound:
		return identity.ErrNotFound
	case http.StatusTooManyRequests:
		return identity.ErrRateLimited
	}
	return nil
}

// sessionGone reports whether the server no longer knows the session.
func (e *APIError) sessionGone() bool {
	if e.Status != http.StatusUnauthorized {
		return false
	}
	return e.Code == "invalid_token" || e.Code == "missing_token"
}
