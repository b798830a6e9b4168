// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/chatvault/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatvault configuration.
type Config struct {
	Version string `toml:"version" json:"version" yaml:"version"`

	// Chat history database
	Database DatabaseConfig `toml:"database" json:"database" yaml:"database"`

	// Encrypted export settings
	Export ExportConfig `toml:"export" json:"export" yaml:"export"`

	// Local (Ollama) model used by the chat session
	LLM LLMConfig `toml:"llm" json:"llm" yaml:"llm"`

	// HTTP server for export downloads
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// Logging
	Log LogConfig `toml:"log" json:"log" yaml:"log"`
}

// DatabaseConfig locates the SQLite chat history.
type DatabaseConfig struct {
	Path string `toml:"path" json:"path" yaml:"path"`
}

// ExportConfig controls artifact production.
type ExportConfig struct {
	// PublicKeyPath is the recipient RSA public key (PEM).
	PublicKeyPath string `toml:"public_key_path" json:"public_key_path" yaml:"public_key_path"`

	// ArtifactName is the file name of produced artifacts.
	ArtifactName string `toml:"artifact_name" json:"artifact_name" yaml:"artifact_name"`

	// OutputDir is where the CLI writes artifacts.
	OutputDir string `toml:"output_dir" json:"output_dir" yaml:"output_dir"`

	// MinRSABits rejects recipient keys with a smaller modulus.
	MinRSABits int `toml:"min_rsa_bits" json:"min_rsa_bits" yaml:"min_rsa_bits"`

	// WatchKey reloads the public key when its file changes.
	WatchKey bool `toml:"watch_key" json:"watch_key" yaml:"watch_key"`
}

// LLMConfig configures the Ollama backend of the chat session.
type LLMConfig struct {
	OllamaURL    string `toml:"ollama_url" json:"ollama_url" yaml:"ollama_url"`
	Model        string `toml:"model" json:"model" yaml:"model"`
	SystemPrompt string `toml:"system_prompt" json:"system_prompt" yaml:"system_prompt"`
	TimeoutSecs  int    `toml:"timeout_secs" json:"timeout_secs" yaml:"timeout_secs"`

	// AllowRemote permits a non-loopback ollama_url. Conversation text
	// leaves the host when it is set.
	AllowRemote bool `toml:"allow_remote" json:"allow_remote" yaml:"allow_remote"`
}

// ServerConfig configures `chatvault serve`.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr" yaml:"addr"`

	// JWTSecret signs and verifies bearer tokens (HS256). Required to serve.
	JWTSecret string `toml:"jwt_secret" json:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer string `toml:"jwt_issuer" json:"jwt_issuer" yaml:"jwt_issuer"`

	// RatePerMinute and Burst limit exports per user.
	RatePerMinute int `toml:"rate_per_minute" json:"rate_per_minute" yaml:"rate_per_minute"`
	Burst         int `toml:"burst" json:"burst" yaml:"burst"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Sink is "stderr", "stdout" or "file:<path>".
	Sink string `toml:"sink" json:"sink" yaml:"sink"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// MinJWTSecretLength is the shortest accepted HS256 secret.
const MinJWTSecretLength = 32

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: "1",
		Database: DatabaseConfig{
			Path: "chatvault.db",
		},
		Export: ExportConfig{
			PublicKeyPath: "public_key.pem",
			ArtifactName:  "chat_history.enc",
			OutputDir:     ".",
			MinRSABits:    2048,
			WatchKey:      true,
		},
		LLM: LLMConfig{
			OllamaURL:    "http://localhost:11434",
			Model:        "llama3.2",
			SystemPrompt: "You are a helpful assistant.",
			TimeoutSecs:  300,
		},
		Server: ServerConfig{
			Addr:          "127.0.0.1:8787",
			JWTIssuer:     "chatvault",
			RatePerMinute: 6,
			Burst:         3,
		},
		Log: LogConfig{
			Level: "info",
			Sink:  "stderr",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the chatvault configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatvault"), nil
}

// ConfigPath returns the path of the config file with the given extension
// ("toml", "json" or "yaml").
func ConfigPath(ext string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config."+ext), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// Config files can hold the JWT secret and must be 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the first config file found in ConfigDir,
// falling back to defaults. A .env file in the working directory is read
// before environment overrides are applied.
func Load() (*Config, error) {
	for _, ext := range []string{"toml", "json", "yaml"} {
		path, err := ConfigPath(ext)
		if err != nil {
			break
		}
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	if err := cfg.finish(".env"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. The decoder is picked by extension; unknown extensions are
// read as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := decodeFile(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	if err := cfg.finish(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish applies the .env file, environment overrides, migration, defaults
// and validation, in that order.
func (c *Config) finish(dotenv string) error {
	if err := LoadDotEnv(dotenv); err != nil {
		return err
	}
	c.ApplyEnvOverrides()
	if err := c.Migrate(); err != nil {
		return fmt.Errorf("config migration failed: %w", err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func decodeFile(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to decode TOML: %w", err)
		}
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath("toml")
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# chatvault configuration file\n")
	buf.WriteString("# Generated by chatvault - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate validates the configuration and returns all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Database
	if strings.TrimSpace(c.Database.Path) == "" {
		add("database.path", "must not be empty")
	}

	// Export
	if strings.TrimSpace(c.Export.PublicKeyPath) == "" {
		add("export.public_key_path", "must not be empty")
	}
	if c.Export.ArtifactName == "" || strings.ContainsAny(c.Export.ArtifactName, `/\`) {
		add("export.artifact_name", "must be a plain file name, got %q", c.Export.ArtifactName)
	}
	if c.Export.MinRSABits < 2048 {
		add("export.min_rsa_bits", "must be at least 2048, got %d", c.Export.MinRSABits)
	}

	// LLM
	if c.LLM.OllamaURL != "" {
		u, err := url.Parse(c.LLM.OllamaURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("llm.ollama_url", "invalid URL %q, must be http(s)://host[:port]", c.LLM.OllamaURL)
		}
	}
	if c.LLM.TimeoutSecs < 0 {
		add("llm.timeout_secs", "must not be negative")
	}

	// Server
	if c.Server.JWTSecret != "" && len(c.Server.JWTSecret) < MinJWTSecretLength {
		add("server.jwt_secret", "must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Server.RatePerMinute < 1 {
		add("server.rate_per_minute", "must be at least 1, got %d", c.Server.RatePerMinute)
	}
	if c.Server.Burst < 1 {
		add("server.burst", "must be at least 1, got %d", c.Server.Burst)
	}

	// Log
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		add("log.level", "invalid level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Sink != "stderr" && c.Log.Sink != "stdout" && !strings.HasPrefix(c.Log.Sink, "file:") {
		add("log.sink", "invalid sink %q, must be stderr, stdout or file:<path>", c.Log.Sink)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults sets default values for any missing or zero-value fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Database.Path == "" {
		c.Database.Path = defaults.Database.Path
	}
	if c.Export.PublicKeyPath == "" {
		c.Export.PublicKeyPath = defaults.Export.PublicKeyPath
	}
	if c.Export.ArtifactName == "" {
		c.Export.ArtifactName = defaults.Export.ArtifactName
	}
	if c.Export.OutputDir == "" {
		c.Export.OutputDir = defaults.Export.OutputDir
	}
	if c.Export.MinRSABits == 0 {
		c.Export.MinRSABits = defaults.Export.MinRSABits
	}
	if c.LLM.OllamaURL == "" {
		c.LLM.OllamaURL = defaults.LLM.OllamaURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaults.LLM.Model
	}
	if c.LLM.TimeoutSecs == 0 {
		c.LLM.TimeoutSecs = defaults.LLM.TimeoutSecs
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.JWTIssuer == "" {
		c.Server.JWTIssuer = defaults.Server.JWTIssuer
	}
	if c.Server.RatePerMinute == 0 {
		c.Server.RatePerMinute = defaults.Server.RatePerMinute
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = defaults.Server.Burst
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Sink == "" {
		c.Log.Sink = defaults.Log.Sink
	}
}

// Migrate handles migration from old configuration formats to new ones.
func (c *Config) Migrate() error {
	// "warning" was accepted by early builds
	switch strings.ToLower(c.Log.Level) {
	case "warning":
		c.Log.Level = "warn"
	case "err":
		c.Log.Level = "error"
	default:
		c.Log.Level = strings.ToLower(c.Log.Level)
	}

	c.LLM.OllamaURL = strings.TrimRight(c.LLM.OllamaURL, "/")
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CHATVAULT_DB: overrides database.path
//   - CHATVAULT_PUBLIC_KEY: overrides export.public_key_path
//   - CHATVAULT_OUTPUT_DIR: overrides export.output_dir
//   - CHATVAULT_OLLAMA_URL: overrides llm.ollama_url
//   - CHATVAULT_MODEL: overrides llm.model
//   - CHATVAULT_ADDR: overrides server.addr
//   - CHATVAULT_JWT_SECRET: overrides server.jwt_secret
//   - CHATVAULT_LOG_LEVEL: overrides log.level
//   - CHATVAULT_LOG_SINK: overrides log.sink
func (c *Config) ApplyEnvOverrides() {
	overrides := []struct {
		env   string
		field *string
	}{
		{"CHATVAULT_DB", &c.Database.Path},
		{"CHATVAULT_PUBLIC_KEY", &c.Export.PublicKeyPath},
		{"CHATVAULT_OUTPUT_DIR", &c.Export.OutputDir},
		{"CHATVAULT_OLLAMA_URL", &c.LLM.OllamaURL},
		{"CHATVAULT_MODEL", &c.LLM.Model},
		{"CHATVAULT_ADDR", &c.Server.Addr},
		{"CHATVAULT_JWT_SECRET", &c.Server.JWTSecret},
		{"CHATVAULT_LOG_LEVEL", &c.Log.Level},
		{"CHATVAULT_LOG_SINK", &c.Log.Sink},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.field = v
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "export.min_rsa_bits").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("%s is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %v", err)
			}
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		name := strings.Split(section.Tag.Get("toml"), ",")[0]
		if section.Type.Kind() != reflect.Struct {
			keys = append(keys, name)
			continue
		}
		for j := 0; j < section.Type.NumField(); j++ {
			field := section.Type.Field(j)
			keys = append(keys, name+"."+strings.Split(field.Tag.Get("toml"), ",")[0])
		}
	}
	return keys
}

// Clone creates a copy of the configuration. Config holds only value
// fields, so a struct copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a JSON rendering of the config with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.JWTSecret != "" {
		safe.Server.JWTSecret = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access unless SetGlobal ran first. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		globalConfigMu.Lock()
		defer globalConfigMu.Unlock()
		if globalConfig != nil {
			return
		}
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
