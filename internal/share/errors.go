package share

import (
	"errors"
	"fmt"

	"github.com/abduss/ciphare/internal/cipher"
)

var (
	// ErrValidationFailed signals input that was rejected before any storage I/O.
	ErrValidationFailed = errors.New("validation failed")
	// ErrSizeExceeded signals a payload above the configured ceiling.
	ErrSizeExceeded = fmt.Errorf("%w: payload too large", ErrValidationFailed)
	// ErrNotFound covers absent, expired and exhausted shares alike.
	ErrNotFound = errors.New("share not found")
	// ErrAuthenticationFailed signals a wrong password or a tampered ciphertext.
	ErrAuthenticationFailed = cipher.ErrAuthenticationFailed
	// ErrStorageFailed wraps any blob or metadata store failure, timeouts included.
	ErrStorageFailed = errors.New("storage failed")
	// ErrCorrupt marks a live metadata record whose blob is missing.
	ErrCorrupt = fmt.Errorf("%w: blob missing for live record", ErrStorageFailed)
)

// Errors returned by store adapters.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateID    = errors.New("duplicate share id")
	ErrBlobNotFound   = errors.New("blob not found")
	ErrBlobTooLarge   = errors.New("blob too large")
)
