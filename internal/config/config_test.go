package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.HTTPPort != 8765 {
		t.Errorf("port = %d", cfg.HTTPPort)
	}
	if cfg.RateLimitPerMinute != 100 {
		t.Errorf("rate = %d", cfg.RateLimitPerMinute)
	}
	if cfg.ReservationDefaultTTL != 3600 || cfg.BuildSlotDefaultTTL != 600 {
		t.Errorf("ttls = %d %d", cfg.ReservationDefaultTTL, cfg.BuildSlotDefaultTTL)
	}
	if cfg.ArchiveCommitAuthor != "agent-mail <agent-mail@localhost>" {
		t.Errorf("author = %q", cfg.ArchiveCommitAuthor)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentmail.yaml")
	content := `http_port: 9100
log_format: json
reservation_default_ttl_seconds: 1800
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AGENTMAIL_HTTP_PORT", "9200")
	t.Setenv("AGENTMAIL_AUTH_MODE", "bearer")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 9200 {
		t.Errorf("env must override the file: port = %d", cfg.HTTPPort)
	}
	if cfg.LogFormat != "json" || cfg.AuthMode != "bearer" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.ReservationDefaultTTL != 1800 {
		t.Errorf("ttl = %d", cfg.ReservationDefaultTTL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.AuthMode = "oauth" },
		func(c *Config) { c.LogFormat = "xml" },
		func(c *Config) { c.HTTPPort = 0 },
		func(c *Config) { c.ReservationDefaultTTL = MaxReservationTTL + 1 },
		func(c *Config) { c.BuildSlotDefaultTTL = MaxBuildSlotTTL + 1 },
		func(c *Config) { c.RateLimitPerMinute = 0 },
	}
	for i, mutate := range bad {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
