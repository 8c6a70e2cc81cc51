// Package core implements the account lifecycle and the session gate that
// decides whether a login may become a session.
package core

import (
	"errors"
	"fmt"
)

// Authentication failures. The message never says whether the email or the
// password was wrong.
var (
	ErrAuthenticationFailed = errors.New("invalid email or password")
	ErrNoCredential         = errors.New("account has no login credential, contact the administrator")
)

// Authorization denials.
var (
	ErrAccountBlocked  = errors.New("account blocked")
	ErrPendingApproval = errors.New("pending approval")
)

// ErrAccountMissing means a credential authenticated but no account record
// exists for it. The session is always terminated.
var ErrAccountMissing = errors.New("authenticated credential has no account record")

var ErrRegistrationIncomplete = errors.New("registration incomplete")

var ErrValidation = errors.New("validation error")

var (
	ErrCredentialsRequired = fmt.Errorf("%w: email and password are required", ErrValidation)
	ErrPasswordMismatch    = fmt.Errorf("%w: passwords do not match", ErrValidation)
	ErrPasswordTooShort    = fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	ErrEmailRequired       = fmt.Errorf("%w: email is required", ErrValidation)
	ErrInvalidRole         = fmt.Errorf("%w: unknown role", ErrValidation)
	ErrInvalidStatus       = fmt.Errorf("%w: status must be approved or rejected", ErrValidation)
	ErrAccountIDRequired   = fmt.Errorf("%w: account id is required", ErrValidation)
)

const MinPasswordLength = 6
