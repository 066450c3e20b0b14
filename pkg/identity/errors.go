package identity

import "errors"

var (
	// ErrInvalidCredentials is returned on any sign-in mismatch. The message
	// is user-facing and must not reveal whether the email exists.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailInUse is returned when a sign-up collides with an existing
	// directory email.
	ErrEmailInUse = errors.New("email already in use")

	// ErrNotAuthenticated is returned by operations that need an active
	// session.
	ErrNotAuthenticated = errors.New("not authenticated")
)
