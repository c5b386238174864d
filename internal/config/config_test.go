package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "PAYMENT_TIMEOUT_MINUTES")
	unsetEnvWithCleanup(t, "SWEEP_SCHEDULE")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.PaymentTimeoutMinutes != 30 {
		t.Fatalf("expected default payment timeout of 30 minutes, got %d", cfg.PaymentTimeoutMinutes)
	}
	if cfg.SessionMaxAgeMinutes != 60 {
		t.Fatalf("expected default session max age of 60 minutes, got %d", cfg.SessionMaxAgeMinutes)
	}
	if cfg.FulfillmentRetentionHrs != 24 {
		t.Fatalf("expected default fulfillment retention of 24 hours, got %d", cfg.FulfillmentRetentionHrs)
	}
	if cfg.PollMaxAttempts != 10 || cfg.PollIntervalSeconds != 3 {
		t.Fatalf("unexpected poll defaults: %d x %ds", cfg.PollMaxAttempts, cfg.PollIntervalSeconds)
	}
	if cfg.SweepSchedule != "*/5 * * * *" || cfg.CleanupSchedule != "0 0 * * *" {
		t.Fatalf("unexpected schedules: %q / %q", cfg.SweepSchedule, cfg.CleanupSchedule)
	}
	if cfg.FlutterwaveBaseURL != "https://api.flutterwave.com/v3" {
		t.Fatalf("unexpected flutterwave base url: %q", cfg.FlutterwaveBaseURL)
	}
	if !cfg.IsDevelopment() {
		t.Fatal("expected development mode by default")
	}
}

func TestLoadConfig_PortAliasWins(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to take precedence, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_CoercesInvalidDurations(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PAYMENT_TIMEOUT_MINUTES", "-5")
	setEnvWithCleanup(t, "POLL_MAX_ATTEMPTS", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PaymentTimeoutMinutes != 30 {
		t.Fatalf("expected invalid timeout coerced to 30, got %d", cfg.PaymentTimeoutMinutes)
	}
	if cfg.PollMaxAttempts != 10 {
		t.Fatalf("expected invalid attempts coerced to 10, got %d", cfg.PollMaxAttempts)
	}
}

func TestLoadConfig_ProductionMode(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "APP_ENV", "production")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.IsDevelopment() {
		t.Fatal("expected production mode")
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
