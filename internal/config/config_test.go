package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Ringout != 30*time.Second {
		t.Errorf("expected 30s ringout, got %s", cfg.Ringout)
	}
	if cfg.MediaTimeout != 5*time.Second {
		t.Errorf("expected 5s media timeout, got %s", cfg.MediaTimeout)
	}
	if cfg.LivenessWindow != 20*time.Second {
		t.Errorf("expected 20s liveness window, got %s", cfg.LivenessWindow)
	}
	if cfg.KeepalivePeriod != 11*time.Second {
		t.Errorf("expected 11s keepalive period, got %s", cfg.KeepalivePeriod)
	}
	if cfg.FlushWindow != 500*time.Millisecond {
		t.Errorf("expected 500ms flush window, got %s", cfg.FlushWindow)
	}
	if cfg.DispatchPeriod != time.Second {
		t.Errorf("expected 1s dispatch period, got %s", cfg.DispatchPeriod)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DEFAULT_RINGOUT", "15")
	t.Setenv("POLL_FLUSH_MS", "250")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example.com, http://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("expected port 9000, got %s", cfg.Port)
	}
	if cfg.Ringout != 15*time.Second {
		t.Errorf("expected 15s ringout, got %s", cfg.Ringout)
	}
	if cfg.FlushWindow != 250*time.Millisecond {
		t.Errorf("expected 250ms flush window, got %s", cfg.FlushWindow)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.example.com" {
		t.Errorf("expected trimmed origins, got %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	t.Setenv("DEFAULT_RINGOUT", "soon")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid DEFAULT_RINGOUT")
	}
}
