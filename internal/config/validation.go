package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// storeInsertAttempts matches the id-collision retry limit of share.Service.
const storeInsertAttempts = 5

var validate = validator.New()

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	switch cfg.Storage.MetadataBackend {
	case "bolt":
		if cfg.Bolt.Path == "" {
			return fmt.Errorf("Bolt.Path: required when metadata backend is bolt")
		}
	}

	if cfg.Storage.BlobBackend == "s3" && cfg.S3.Bucket == "" {
		return fmt.Errorf("S3.Bucket: required when blob backend is s3")
	}

	// A Store makes one blob Put and up to storeInsertAttempts metadata
	// inserts; the collector must not see its blob as orphaned meanwhile.
	if minGrace := time.Duration(storeInsertAttempts+1) * cfg.Storage.OpTimeout; cfg.Janitor.Grace < minGrace {
		return fmt.Errorf("Janitor.Grace: must be at least %s (storage timeout x %d)", minGrace, storeInsertAttempts+1)
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
