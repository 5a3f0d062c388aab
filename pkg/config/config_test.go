package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/mail")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MAILBOX_ENCRYPTION_KEY", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Sync.DefaultBackfillDays != 30 {
		t.Errorf("DefaultBackfillDays = %d, want 30", cfg.Sync.DefaultBackfillDays)
	}
	if cfg.Google.PageSize != 100 || cfg.Google.MaxPages != 1 {
		t.Errorf("gmail paging = %d/%d, want 100/1", cfg.Google.PageSize, cfg.Google.MaxPages)
	}
	if !cfg.Sync.VerifyOnConnect {
		t.Error("VerifyOnConnect should default to true")
	}
	if cfg.Sync.IMAPDialTimeout != 15*time.Second {
		t.Errorf("IMAPDialTimeout = %v", cfg.Sync.IMAPDialTimeout)
	}
	if cfg.Sync.Interval != 0 {
		t.Errorf("Interval = %v, want disabled", cfg.Sync.Interval)
	}
	if cfg.PushEnabled() {
		t.Error("push should be disabled without project and topic")
	}
}

func TestValidate_ReportsMissingSettings(t *testing.T) {
	cfg := &Config{
		Google: GoogleConfig{PageSize: 100, MaxPages: 1},
		Sync:   SyncConfig{DefaultBackfillDays: 30},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"DATABASE_URL", "JWT_SECRET", "MAILBOX_ENCRYPTION_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q does not mention %s", err, want)
		}
	}
}
