package auth

import "errors"

// Typed failures returned by the session service. Handlers map these to HTTP
// statuses; anything else is treated as an unexpected dependency error and
// surfaced as a generic server error.
var (
	ErrInvalidCredentials    = errors.New("auth: invalid credentials")
	ErrAccountLocked         = errors.New("auth: account locked")
	ErrEmailNotVerified      = errors.New("auth: email not verified")
	ErrInvalidOrExpiredToken = errors.New("auth: invalid or expired token")
	ErrInvalidMFAToken       = errors.New("auth: invalid mfa token")
	ErrUnauthenticated       = errors.New("auth: unauthenticated")
	ErrForbidden             = errors.New("auth: forbidden")
	ErrNotFound              = errors.New("auth: not found")
	ErrAlreadyExists         = errors.New("auth: already exists")
	ErrInvalidInput          = errors.New("auth: invalid input")
)
