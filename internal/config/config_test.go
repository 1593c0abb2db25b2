package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Retention != time.Hour {
		t.Errorf("Retention = %v, want 1h", cfg.Retention)
	}
	if cfg.TaskConcurrency != 1 {
		t.Errorf("TaskConcurrency = %d, want 1", cfg.TaskConcurrency)
	}
	if cfg.DebateRounds != 2 {
		t.Errorf("DebateRounds = %d, want 2", cfg.DebateRounds)
	}
	if cfg.FirstMover != "alpha" {
		t.Errorf("FirstMover = %q, want alpha", cfg.FirstMover)
	}
	if cfg.AzureAPIVersion != "2024-12-01-preview" {
		t.Errorf("AzureAPIVersion = %q", cfg.AzureAPIVersion)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SNOWFLOW_PORT", "9090")
	t.Setenv("SNOWFLOW_TASK_CONCURRENCY", "4")
	t.Setenv("SNOWFLOW_RETENTION", "30m")
	t.Setenv("SNOWFLOW_FIRST_MOVER", "beta")
	t.Setenv("SNOWFLOW_RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.TaskConcurrency != 4 {
		t.Errorf("TaskConcurrency = %d, want 4", cfg.TaskConcurrency)
	}
	if cfg.Retention != 30*time.Minute {
		t.Errorf("Retention = %v, want 30m", cfg.Retention)
	}
	if cfg.FirstMover != "beta" {
		t.Errorf("FirstMover = %q, want beta", cfg.FirstMover)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Errorf("RateLimitRPS = %v, want 2.5", cfg.RateLimitRPS)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SNOWFLOW_PORT", "not-a-port")
	t.Setenv("SNOWFLOW_RETENTION", "sometimes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Port)
	}
	if cfg.Retention != time.Hour {
		t.Errorf("Retention = %v, want default 1h", cfg.Retention)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port out of range", "SNOWFLOW_PORT", "70000"},
		{"negative concurrency", "SNOWFLOW_TASK_CONCURRENCY", "-1"},
		{"zero debate rounds", "SNOWFLOW_DEBATE_ROUNDS", "0"},
		{"unknown first mover", "SNOWFLOW_FIRST_MOVER", "gamma"},
		{"non-positive body limit", "SNOWFLOW_MAX_REQUEST_BODY_BYTES", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("Load accepted %s=%s", tt.key, tt.val)
			}
		})
	}
}

func TestValidateRequiresAPIKeyWithEndpoint(t *testing.T) {
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com")
	t.Setenv("AZURE_OPENAI_API_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted an endpoint without an API key")
	}
}
