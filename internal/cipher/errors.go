package cipher

import "errors"

var (
	// ErrAuthenticationFailed signals a wrong password or a tampered ciphertext.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrUnknownVersion is returned when a record was sealed with a suite this build does not know.
	ErrUnknownVersion = errors.New("unknown cipher suite version")
	// ErrMalformed indicates salt or nonce lengths that do not match the suite.
	ErrMalformed = errors.New("malformed cipher parameters")
)
