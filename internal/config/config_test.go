package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("UPSTREAM_BASE_URL", "")
	t.Setenv("DB_PATH", ":memory:")

	cfg, err := Load()
	if err == nil {
		t.Fatalf("expected error for empty upstream base url, got config %+v", cfg)
	}
}

func TestLoadUpstreamFallsBackToAPIPrefix(t *testing.T) {
	t.Setenv("API_PREFIX", "http://upstream.local/api/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Upstream.BaseURL != "http://upstream.local/api" {
		t.Fatalf("unexpected base url: %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.UploadTimeout != 30*time.Second {
		t.Errorf("expected 30s upload timeout, got %v", cfg.Upstream.UploadTimeout)
	}
	if cfg.Search.Debounce != 300*time.Millisecond {
		t.Errorf("expected 300ms debounce, got %v", cfg.Search.Debounce)
	}
	if cfg.DBPath != ":memory:" {
		t.Errorf("expected in-memory database by default, got %q", cfg.DBPath)
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "go duration", value: "750ms", want: 750 * time.Millisecond},
		{name: "bare milliseconds", value: "1500", want: 1500 * time.Millisecond},
		{name: "garbage", value: "soon", want: time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			if got := getEnvDuration("TEST_DURATION", time.Second); got != tt.want {
				t.Fatalf("getEnvDuration(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_ORIGINS", " http://a.test , ,http://b.test")
	got := getEnvList("TEST_ORIGINS", nil)
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %v", got)
	}
}
