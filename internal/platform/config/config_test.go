package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("RELAY_TEST_STR", "value")
	if got := GetEnv("RELAY_TEST_STR", "fallback"); got != "value" {
		t.Errorf("expected value, got %s", got)
	}
	if got := GetEnv("RELAY_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %s", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("RELAY_TEST_INT", "42")
	t.Setenv("RELAY_TEST_BAD_INT", "forty")
	if got := GetEnvInt("RELAY_TEST_INT", 1); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if got := GetEnvInt("RELAY_TEST_BAD_INT", 1); got != 1 {
		t.Errorf("expected fallback 1, got %d", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"1m30s": 90 * time.Second,
		"15":    15 * time.Second,
		"bogus": 5 * time.Second,
		"":      5 * time.Second,
	}
	for raw, want := range cases {
		t.Setenv("RELAY_TEST_DUR", raw)
		if got := GetEnvDuration("RELAY_TEST_DUR", 5*time.Second); got != want {
			t.Errorf("%q: expected %s, got %s", raw, want, got)
		}
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("RELAY_TEST_BOOL", "false")
	if GetEnvBool("RELAY_TEST_BOOL", true) {
		t.Error("expected false")
	}
	t.Setenv("RELAY_TEST_BOOL", "maybe")
	if !GetEnvBool("RELAY_TEST_BOOL", true) {
		t.Error("expected fallback true")
	}
}

func TestLoad_dotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("RELAY_TEST_FROM_FILE=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RELAY_TEST_FROM_FILE", "")
	os.Unsetenv("RELAY_TEST_FROM_FILE")

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnv("RELAY_TEST_FROM_FILE", ""); got != "loaded" {
		t.Errorf("expected loaded, got %q", got)
	}
}

func TestLoad_missing_file(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing file")
	}
}
