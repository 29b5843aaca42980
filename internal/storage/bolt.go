package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/abduss/ciphare/internal/config"
)

// OpenBolt opens or creates the embedded metadata database. The parent
// directory is created if it does not exist.
func OpenBolt(cfg config.BoltConfig) (*bbolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("create bolt directory: %w", err)
	}

	db, err := bbolt.Open(cfg.Path, 0600, &bbolt.Options{Timeout: cfg.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	return db, nil
}
