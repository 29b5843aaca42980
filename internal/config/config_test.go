package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.MetadataBackend != "postgres" || cfg.Storage.BlobBackend != "minio" {
		t.Fatalf("unexpected backends %q/%q", cfg.Storage.MetadataBackend, cfg.Storage.BlobBackend)
	}
	if cfg.Share.MaxPayloadBytes != 100*1024*1024 {
		t.Fatalf("MaxPayloadBytes = %d", cfg.Share.MaxPayloadBytes)
	}
	if cfg.Storage.BlobPrefix != "encrypted/" {
		t.Fatalf("BlobPrefix = %q", cfg.Storage.BlobPrefix)
	}
	if cfg.Admin.Enabled() {
		t.Fatalf("admin API should be disabled without a secret")
	}
	if got := cfg.Server.Address(); got != "0.0.0.0:8080" {
		t.Fatalf("Address() = %q", got)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CIPHARE_METADATA_BACKEND", "BOLT")
	t.Setenv("CIPHARE_BOLT_PATH", "/tmp/ciphare.db")
	t.Setenv("CIPHARE_MAX_TTL", "48h")
	t.Setenv("CIPHARE_PUBLIC_BASE_URL", "https://share.example.com/")
	t.Setenv("CIPHARE_ADMIN_TOKEN_SECRET", strings.Repeat("s", 32))
	t.Setenv("CIPHARE_GC_DRY_RUN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.MetadataBackend != "bolt" {
		t.Fatalf("MetadataBackend = %q", cfg.Storage.MetadataBackend)
	}
	if cfg.Share.MaxTTL != 48*time.Hour {
		t.Fatalf("MaxTTL = %s", cfg.Share.MaxTTL)
	}
	if cfg.Share.PublicBaseURL != "https://share.example.com" {
		t.Fatalf("PublicBaseURL = %q", cfg.Share.PublicBaseURL)
	}
	if !cfg.Admin.Enabled() || !cfg.Janitor.DryRun {
		t.Fatalf("expected admin enabled and dry run set")
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CIPHARE_API_PORT", "eighty")
	t.Setenv("CIPHARE_SWEEP_INTERVAL", "often")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Janitor.SweepInterval != time.Minute {
		t.Fatalf("malformed values should fall back to defaults")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend":   func(c *Config) { c.Storage.MetadataBackend = "redis" },
		"short secret":      func(c *Config) { c.Admin.TokenSecret = "short" },
		"ttl bounds":        func(c *Config) { c.Share.MaxTTL = c.Share.MinTTL },
		"bad base url":      func(c *Config) { c.Share.PublicBaseURL = "not a url" },
		"grace too short":   func(c *Config) { c.Janitor.Grace = time.Second },
		"grace vs retries":  func(c *Config) { c.Janitor.Grace = 2 * c.Storage.OpTimeout },
		"s3 without bucket": func(c *Config) { c.Storage.BlobBackend, c.S3.Bucket = "s3", "" },
		"bolt without path": func(c *Config) { c.Storage.MetadataBackend, c.Bolt.Path = "bolt", "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			mutate(&cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateGraceCoversInsertRetries(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Storage.OpTimeout = 10 * time.Second

	cfg.Janitor.Grace = 59 * time.Second
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected grace below six storage timeouts to be rejected")
	}

	cfg.Janitor.Grace = time.Minute
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
