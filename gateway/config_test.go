package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_DefaultsListenAddr(t *testing.T) {
	path := writeConfigFile(t, "downstream:\n  - name: local\n    url: http://localhost:9000\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Fatalf("expected default listen addr :8080, got %q", cfg.Listen)
	}
}

func TestLoadConfig_DownstreamURLOverrideFromEnv(t *testing.T) {
	path := writeConfigFile(t, "downstream:\n  - name: local\n    url: http://localhost:9000\n")
	t.Setenv("LOOM_DOWNSTREAM_LOCAL_URL", "http://override:9001")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Downstream[0].URL != "http://override:9001" {
		t.Fatalf("expected env override to win, got %q", cfg.Downstream[0].URL)
	}
}

func TestLoadConfig_AuthEnabledWithoutSecretFails(t *testing.T) {
	path := writeConfigFile(t, "auth:\n  enabled: true\n")

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an error when auth is enabled without a jwt_secret")
	}
}

func TestLoadConfig_UserWithUndefinedRoleFails(t *testing.T) {
	path := writeConfigFile(t, `auth:
  enabled: true
  jwt_secret: s3cr3t
users:
  - username: alice
    password_hash: hash
    role: nope
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an error for a user referencing an undefined role")
	}
}
