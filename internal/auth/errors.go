package auth

import "errors"

// Categories. Every concrete error below matches exactly one of them with
// errors.Is.
var (
	ErrValidation     = errors.New("validation failed")
	ErrAuthentication = errors.New("authentication failed")
	ErrToken          = errors.New("token rejected")
	ErrAuthorization  = errors.New("not authorized")
)

var (
	ErrWeakPassword      = newError(ErrValidation, "weak password")
	ErrChallengeFailed   = newError(ErrValidation, "captcha failed")
	ErrDuplicateIdentity = newError(ErrValidation, "email already registered")
	ErrMissingFields     = newError(ErrValidation, "missing required fields")

	// ErrInvalidCredentials covers both an unknown identity and a wrong
	// password.
	ErrInvalidCredentials = newError(ErrAuthentication, "invalid credentials")
	ErrAccountLocked      = newError(ErrAuthentication, "account locked, try later")
	// ErrTooManyAttempts is returned by the failure that engages the lock.
	// It also matches ErrAccountLocked.
	ErrTooManyAttempts = &Error{kind: ErrAuthentication, msg: "too many attempts, account locked", also: ErrAccountLocked}

	ErrTokenExpired          = newError(ErrToken, "session expired")
	ErrTokenMalformed        = newError(ErrToken, "malformed token")
	ErrTokenSignatureInvalid = newError(ErrToken, "invalid token signature")

	ErrForbidden = newError(ErrAuthorization, "forbidden")
)

// Error is a classified auth error.
type Error struct {
	kind error
	msg  string
	also error
}

func newError(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string {
	return e.msg
}

// Is matches the error's category and, for ErrTooManyAttempts, ErrAccountLocked.
func (e *Error) Is(target error) bool {
	if target == e.kind {
		return true
	}
	return e.also != nil && target == e.also
}
