package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NEXT_PUBLIC_API_BASE_URL", "https://api.example.com/")
	t.Setenv("MESSENGER_TOKEN_BACKEND", "redis")
	t.Setenv("MESSENGER_REQUEST_TIMEOUT", "3s")
	t.Setenv("MESSENGER_SEND_BURST", "9")

	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))

	if cfg.APIBaseURL != "https://api.example.com" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.APIBaseURL)
	}
	if cfg.TokenBackend != BackendRedis {
		t.Errorf("expected backend %q, got %q", BackendRedis, cfg.TokenBackend)
	}
	if cfg.RequestTimeout != 3*time.Second {
		t.Errorf("expected 3s timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.SendBurst != 9 {
		t.Errorf("expected burst 9, got %d", cfg.SendBurst)
	}
}

func TestLoad_InvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("MESSENGER_TOKEN_BACKEND", "floppy")
	t.Setenv("MESSENGER_HEARTBEAT_INTERVAL", "soon")
	t.Setenv("MESSENGER_SEND_RATE", "-1")

	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	def := Default()

	if cfg.TokenBackend != def.TokenBackend {
		t.Errorf("expected default backend, got %q", cfg.TokenBackend)
	}
	if cfg.HeartbeatInterval != def.HeartbeatInterval {
		t.Errorf("expected default heartbeat, got %s", cfg.HeartbeatInterval)
	}
	if cfg.SendRate != def.SendRate {
		t.Errorf("expected default send rate, got %v", cfg.SendRate)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("NATS_URL=nats://bus:4222\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv does not override variables already present in the
	// environment; make sure ours is unset for the test.
	t.Setenv("NATS_URL", "")
	os.Unsetenv("NATS_URL")

	cfg := Load(path)
	if cfg.NATSURL != "nats://bus:4222" {
		t.Errorf("expected NATS URL from .env, got %q", cfg.NATSURL)
	}
}

func TestRealtimeURL(t *testing.T) {
	cases := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{"http://localhost:8000", "ws://localhost:8000/ws", false},
		{"https://api.example.com/v1/", "wss://api.example.com/v1/ws", false},
		{"ftp://nope", "", true},
	}

	for _, tc := range cases {
		cfg := Default()
		cfg.APIBaseURL = tc.base
		got, err := cfg.RealtimeURL()
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tc.base)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.base, err)
		}
		if got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.base, tc.want, got)
		}
	}
}
