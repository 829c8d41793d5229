package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	t.Run("store", func(t *testing.T) {
		if cfg.Store.ShardCount != 26 {
			t.Errorf("ShardCount = %d, want 26", cfg.Store.ShardCount)
		}
	})

	t.Run("session", func(t *testing.T) {
		if cfg.Session.MaxSessions != 32 {
			t.Errorf("MaxSessions = %d, want 32", cfg.Session.MaxSessions)
		}
		if cfg.Session.MaxSubsPerSession != 32 {
			t.Errorf("MaxSubsPerSession = %d, want 32", cfg.Session.MaxSubsPerSession)
		}
		if cfg.Session.RegisterPipePath != "/tmp/kvsd_register" {
			t.Errorf("RegisterPipePath = %q, want /tmp/kvsd_register", cfg.Session.RegisterPipePath)
		}
	})

	t.Run("jobs", func(t *testing.T) {
		if cfg.Jobs.Directory != "./jobs" {
			t.Errorf("Directory = %q, want ./jobs", cfg.Jobs.Directory)
		}
		if cfg.Jobs.MaxThreads != 4 {
			t.Errorf("MaxThreads = %d, want 4", cfg.Jobs.MaxThreads)
		}
		if cfg.Jobs.MaxBackups != 2 {
			t.Errorf("MaxBackups = %d, want 2", cfg.Jobs.MaxBackups)
		}
	})

	t.Run("ratelimit", func(t *testing.T) {
		if cfg.RateLimit.RegistrationBurst != 50 || cfg.RateLimit.RegistrationRate != 20.0 {
			t.Errorf("registration limits = %+v, want burst=50 rate=20", cfg.RateLimit)
		}
		if cfg.RateLimit.SessionBurst != 20 || cfg.RateLimit.SessionRate != 50.0 {
			t.Errorf("session limits = %+v, want burst=20 rate=50", cfg.RateLimit)
		}
	})

	t.Run("secrets", func(t *testing.T) {
		if cfg.Secrets.NATSURL == "" {
			t.Error("NATSURL should default to a non-empty value")
		}
	})

	t.Run("logging", func(t *testing.T) {
		if cfg.Logging.Encoding != "json" {
			t.Errorf("Encoding = %q, want json", cfg.Logging.Encoding)
		}
		if len(cfg.Logging.OutputPaths) != 1 || cfg.Logging.OutputPaths[0] != "stdout" {
			t.Errorf("OutputPaths = %v, want [stdout]", cfg.Logging.OutputPaths)
		}
	})
}
