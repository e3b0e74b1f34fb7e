package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	os.Setenv("SUPABASE_URL", "https://demo.supabase.co")
	os.Setenv("AGENT_FUNCTION", "")
	os.Setenv("CONNECT_TIMEOUT_SECONDS", "")
	cfg := Load()
	if cfg.SupabaseURL != "https://demo.supabase.co" {
		t.Fatalf("expected SUPABASE_URL to be read, got %q", cfg.SupabaseURL)
	}
	if cfg.AgentFunction == "" {
		t.Fatalf("expected default agent function")
	}
	if cfg.ConnectTimeout != 15*time.Second {
		t.Fatalf("expected default connect timeout, got %s", cfg.ConnectTimeout)
	}
}

func TestLoad_ConnectTimeoutOverride(t *testing.T) {
	os.Setenv("CONNECT_TIMEOUT_SECONDS", "5")
	defer os.Setenv("CONNECT_TIMEOUT_SECONDS", "")
	cfg := Load()
	if cfg.ConnectTimeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %s", cfg.ConnectTimeout)
	}
}

func TestLoad_InvalidTimeoutFallsBack(t *testing.T) {
	os.Setenv("CONNECT_TIMEOUT_SECONDS", "not-a-number")
	defer os.Setenv("CONNECT_TIMEOUT_SECONDS", "")
	cfg := Load()
	if cfg.ConnectTimeout != 15*time.Second {
		t.Fatalf("expected default timeout on invalid value, got %s", cfg.ConnectTimeout)
	}
}
