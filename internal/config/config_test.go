// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// isolateHome points the home directory at an empty temp dir so Load sees
// no config files.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	return home
}

// unsetEnv clears key for the test and restores it afterwards.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

// =============================================================================
// GLOBAL INSTANCE
// =============================================================================

// TestConfig_ConcurrentAccess tests that Global() and SetGlobal() can be
// safely called concurrently.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolateHome(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func(id int) {
			defer wg.Done()
			c := Default()
			c.LLM.Model = fmt.Sprintf("model-%d", id)
			SetGlobal(c)
		}(i)

		go func() {
			defer wg.Done()
			if cfg := Global(); cfg == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

// TestConfig_GlobalInitialization tests that Global() loads defaults on
// first access.
func TestConfig_GlobalInitialization(t *testing.T) {
	isolateHome(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	cfg := Global()
	if cfg == nil {
		t.Fatal("Global() returned nil")
	}
	if cfg.Version == "" {
		t.Error("Config version should not be empty")
	}
	if cfg.Export.ArtifactName != "chat_history.enc" {
		t.Errorf("Export.ArtifactName = %q, want chat_history.enc", cfg.Export.ArtifactName)
	}
}

// TestConfig_SetGlobalBeforeGlobal tests that a config installed with
// SetGlobal is not replaced by the lazy load.
func TestConfig_SetGlobalBeforeGlobal(t *testing.T) {
	isolateHome(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	custom := Default()
	custom.Database.Path = "custom.db"
	SetGlobal(custom)

	if got := Global().Database.Path; got != "custom.db" {
		t.Errorf("Global().Database.Path = %q, want custom.db", got)
	}
}

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

// TestConfig_Default tests that Default() returns a valid config.
func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Export.PublicKeyPath != "public_key.pem" {
		t.Errorf("Export.PublicKeyPath = %q, want public_key.pem", cfg.Export.PublicKeyPath)
	}
	if cfg.Export.MinRSABits != 2048 {
		t.Errorf("Export.MinRSABits = %d, want 2048", cfg.Export.MinRSABits)
	}
	if cfg.LLM.OllamaURL == "" {
		t.Error("Default config should have an Ollama URL")
	}
}

// TestConfig_Validate tests configuration validation.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, "", false},
		{"empty database path", func(c *Config) { c.Database.Path = " " }, "database.path", true},
		{"artifact name with separator", func(c *Config) { c.Export.ArtifactName = "../x.enc" }, "export.artifact_name", true},
		{"small rsa minimum", func(c *Config) { c.Export.MinRSABits = 1024 }, "export.min_rsa_bits", true},
		{"rsa minimum 4096", func(c *Config) { c.Export.MinRSABits = 4096 }, "", false},
		{"bad ollama scheme", func(c *Config) { c.LLM.OllamaURL = "ftp://localhost" }, "llm.ollama_url", true},
		{"short jwt secret", func(c *Config) { c.Server.JWTSecret = "short" }, "server.jwt_secret", true},
		{"long jwt secret", func(c *Config) { c.Server.JWTSecret = strings.Repeat("s", 32) }, "", false},
		{"zero rate", func(c *Config) { c.Server.RatePerMinute = 0 }, "server.rate_per_minute", true},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level", true},
		{"file sink", func(c *Config) { c.Log.Sink = "file:/tmp/chatvault.log" }, "", false},
		{"bad sink", func(c *Config) { c.Log.Sink = "syslog" }, "log.sink", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() error type = %T, want ValidateErrors", err)
			}
			if verrs[0].Field != tt.field {
				t.Errorf("Validate() field = %q, want %q", verrs[0].Field, tt.field)
			}
		})
	}
}

// TestConfig_ValidateAggregates tests that all problems are reported together.
func TestConfig_ValidateAggregates(t *testing.T) {
	cfg := Default()
	cfg.Export.MinRSABits = 512
	cfg.Log.Level = "loud"

	var verrs ValidateErrors
	if !errors.As(cfg.Validate(), &verrs) || len(verrs) != 2 {
		t.Fatalf("Validate() = %v, want 2 errors", verrs)
	}
}

// TestConfig_MigrateAndDefaults tests legacy value migration.
func TestConfig_MigrateAndDefaults(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "WARNING"}, LLM: LLMConfig{OllamaURL: "http://host:11434/"}}
	if err := cfg.Migrate(); err != nil {
		t.Fatal(err)
	}
	cfg.SetDefaults()

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
	if cfg.LLM.OllamaURL != "http://host:11434" {
		t.Errorf("LLM.OllamaURL = %q", cfg.LLM.OllamaURL)
	}
	if cfg.Server.Burst != Default().Server.Burst {
		t.Errorf("Server.Burst = %d, want default", cfg.Server.Burst)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() after SetDefaults = %v", err)
	}
}

// =============================================================================
// LOADING
// =============================================================================

func TestLoadFromPath_Formats(t *testing.T) {
	unsetEnv(t, "CHATVAULT_DB")
	dir := t.TempDir()

	files := map[string]string{
		"config.toml": "[database]\npath = \"from-toml.db\"\n[export]\nmin_rsa_bits = 3072\n",
		"config.json": `{"database": {"path": "from-json.db"}, "export": {"min_rsa_bits": 3072}}`,
		"config.yaml": "database:\n  path: from-yaml.db\nexport:\n  min_rsa_bits: 3072\n",
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			writeFile(t, path, content)

			cfg, err := LoadFromPath(path)
			if err != nil {
				t.Fatalf("LoadFromPath() error = %v", err)
			}
			ext := strings.TrimPrefix(filepath.Ext(name), ".")
			if cfg.Database.Path != "from-"+ext+".db" {
				t.Errorf("Database.Path = %q", cfg.Database.Path)
			}
			if cfg.Export.MinRSABits != 3072 {
				t.Errorf("Export.MinRSABits = %d, want 3072", cfg.Export.MinRSABits)
			}
			// Unset keys keep their defaults.
			if cfg.Export.ArtifactName != "chat_history.enc" {
				t.Errorf("Export.ArtifactName = %q", cfg.Export.ArtifactName)
			}
		})
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.toml")
	writeFile(t, bad, "[database\n")
	if _, err := LoadFromPath(bad); err == nil {
		t.Error("LoadFromPath() with malformed TOML should fail")
	}

	invalid := filepath.Join(dir, "invalid.toml")
	writeFile(t, invalid, "[export]\nmin_rsa_bits = 1024\n")
	if _, err := LoadFromPath(invalid); err == nil {
		t.Error("LoadFromPath() with invalid values should fail")
	}

	if _, err := LoadFromPath(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("LoadFromPath() with missing file should fail")
	}
}

func TestLoad_FallsBackToDefaults(t *testing.T) {
	isolateHome(t)
	unsetEnv(t, "CHATVAULT_DB")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != Default().Database.Path {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

func TestLoad_HomeConfig(t *testing.T) {
	home := isolateHome(t)
	unsetEnv(t, "CHATVAULT_MODEL")
	writeFile(t, filepath.Join(home, ".chatvault", "config.yaml"), "llm:\n  model: qwen2.5\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Model != "qwen2.5" {
		t.Errorf("LLM.Model = %q, want qwen2.5", cfg.LLM.Model)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CHATVAULT_PUBLIC_KEY", "/keys/recipient.pem")
	t.Setenv("CHATVAULT_LOG_LEVEL", "debug")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Export.PublicKeyPath != "/keys/recipient.pem" {
		t.Errorf("Export.PublicKeyPath = %q", cfg.Export.PublicKeyPath)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoadFromPath_DotEnv(t *testing.T) {
	unsetEnv(t, "CHATVAULT_OUTPUT_DIR")
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "CHATVAULT_OUTPUT_DIR=/var/exports\n")
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[export]\noutput_dir = \"ignored\"\n")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Export.OutputDir != "/var/exports" {
		t.Errorf("Export.OutputDir = %q, want value from .env", cfg.Export.OutputDir)
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	unsetEnv(t, "CHATVAULT_ADDR")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Server.Addr = "0.0.0.0:9000"
	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 && os.PathSeparator == '/' {
		t.Errorf("config perm = %o, want 600", perm)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if loaded.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Server.Addr = %q", loaded.Server.Addr)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// TestConfig_GetSet tests Get and Set methods with dot notation.
func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	val, err := cfg.Get("export.artifact_name")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if val != "chat_history.enc" {
		t.Errorf("Get('export.artifact_name') = %v", val)
	}

	if err := cfg.Set("export.min_rsa_bits", "4096"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if cfg.Export.MinRSABits != 4096 {
		t.Errorf("MinRSABits after Set = %d, want 4096", cfg.Export.MinRSABits)
	}

	if err := cfg.Set("export.watch_key", "false"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if cfg.Export.WatchKey {
		t.Error("WatchKey should be false after Set")
	}

	if err := cfg.Set("server.rate_per_minute", 10); err != nil {
		t.Fatalf("Set() with int error = %v", err)
	}
	if cfg.Server.RatePerMinute != 10 {
		t.Errorf("RatePerMinute = %d, want 10", cfg.Server.RatePerMinute)
	}

	for _, key := range []string{"invalid.key", "export", "", "export.min_rsa_bits.x"} {
		if _, err := cfg.Get(key); err == nil {
			t.Errorf("Get(%q) should return error", key)
		}
	}
	if err := cfg.Set("export.min_rsa_bits", "lots"); err == nil {
		t.Error("Set() with non-numeric value should fail")
	}
}

func TestGetAllKeys(t *testing.T) {
	keys := GetAllKeys()
	cfg := Default()
	for _, key := range keys {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("Get(%q) error = %v", key, err)
		}
	}
	if len(keys) < 15 {
		t.Errorf("GetAllKeys() returned %d keys", len(keys))
	}
}

// TestConfig_String tests that secrets are redacted.
func TestConfig_String(t *testing.T) {
	cfg := Default()
	cfg.Server.JWTSecret = strings.Repeat("x", 40)

	s := cfg.String()
	if strings.Contains(s, cfg.Server.JWTSecret) {
		t.Error("String() leaked the JWT secret")
	}
	if !strings.Contains(s, "[REDACTED]") {
		t.Error("String() should mark the secret as redacted")
	}
	if cfg.Server.JWTSecret == "[REDACTED]" {
		t.Error("String() modified the original config")
	}
}
