package admin

import "errors"

var (
	// ErrUnauthorized represents missing or invalid operator tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned for valid tokens without the operator role.
	ErrForbidden = errors.New("forbidden")
	// ErrSecretMissing indicates the operator API has no signing secret.
	ErrSecretMissing = errors.New("admin token secret not configured")
)
