package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvHome overrides the data directory (default ~/.capture).
const EnvHome = "CAPTURE_HOME"

// Config holds application configuration. It is loaded once and handed to
// components at construction; nothing reads settings from package state.
type Config struct {
	// VaultRoot is the note vault that receives exported captures.
	VaultRoot string `json:"vault_root,omitempty"`

	// InboxDir is the vault-relative directory exports land in.
	InboxDir string `json:"inbox_dir,omitempty"`

	// ExportExt is the file extension (without dot) of exported notes.
	ExportExt string `json:"export_ext,omitempty"`

	// MaxRetryAttempts is the total number of export attempts for
	// recoverable failures before a capture is permanently failed.
	MaxRetryAttempts int `json:"max_retry_attempts,omitempty"`

	// BackoffBaseDelayMS is the delay before the first retry. Nil inherits
	// the base config; an explicit 0 retries immediately.
	BackoffBaseDelayMS *int `json:"backoff_base_delay_ms,omitempty"`

	// BackoffMultiplier scales the delay after each retry.
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty"`

	// BackoffMaxDelayMS caps a single retry delay.
	BackoffMaxDelayMS int `json:"backoff_max_delay_ms,omitempty"`

	// StuckExportThresholdSeconds is how long a capture may sit in
	// exporting before startup recovery requeues it.
	StuckExportThresholdSeconds int `json:"stuck_export_threshold_seconds,omitempty"`

	// DedupLookbackDays limits duplicate detection to captures created in
	// the last N days. Nil or 0 means every capture is considered.
	DedupLookbackDays *int `json:"dedup_lookback_days,omitempty"`

	// PollIntervalSeconds is the wait between queue drains in watch mode.
	PollIntervalSeconds int `json:"poll_interval_seconds,omitempty"`

	// AttemptTimeoutSeconds bounds one whole export attempt. Nil or 0
	// disables.
	AttemptTimeoutSeconds *int `json:"attempt_timeout_seconds,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// LogFormat is console or json.
	LogFormat string `json:"log_format,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration. VaultRoot has no default.
func DefaultConfig() *Config {
	return &Config{
		InboxDir:                    "inbox",
		ExportExt:                   "md",
		MaxRetryAttempts:            5,
		BackoffBaseDelayMS:          IntPtr(500),
		BackoffMultiplier:           2,
		BackoffMaxDelayMS:           30_000,
		StuckExportThresholdSeconds: 300,
		PollIntervalSeconds:         10,
		LogLevel:                    "info",
		LogFormat:                   "console",
	}
}

// BaseDir returns the data directory: $CAPTURE_HOME, or ~/.capture.
func BaseDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(EnvHome)); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".capture"), nil
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithVault loads the global config from globalDir and overlays the
// nearest .capture/config.json found walking upward from startDir, so a
// command run inside a vault picks up that vault's settings.
func LoadWithVault(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	local, err := loadFileRaw(FindVaultConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), local), nil
}

// FindVaultConfig walks upward from startDir to find the nearest .capture/config.json.
// Returns the path if found, or empty string if not found.
func FindVaultConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".capture", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the path is empty or the file doesn't exist.
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars when non-zero, and for pointer
// fields when set (an explicit 0 wins); arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.VaultRoot = pickString(overlay.VaultRoot, base.VaultRoot)
	result.InboxDir = pickString(overlay.InboxDir, base.InboxDir)
	result.ExportExt = pickString(overlay.ExportExt, base.ExportExt)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.LogFormat = pickString(overlay.LogFormat, base.LogFormat)

	result.MaxRetryAttempts = pickInt(overlay.MaxRetryAttempts, base.MaxRetryAttempts)
	result.BackoffBaseDelayMS = pickIntPtr(overlay.BackoffBaseDelayMS, base.BackoffBaseDelayMS)
	result.BackoffMaxDelayMS = pickInt(overlay.BackoffMaxDelayMS, base.BackoffMaxDelayMS)
	result.StuckExportThresholdSeconds = pickInt(overlay.StuckExportThresholdSeconds, base.StuckExportThresholdSeconds)
	result.DedupLookbackDays = pickIntPtr(overlay.DedupLookbackDays, base.DedupLookbackDays)
	result.PollIntervalSeconds = pickInt(overlay.PollIntervalSeconds, base.PollIntervalSeconds)
	result.AttemptTimeoutSeconds = pickIntPtr(overlay.AttemptTimeoutSeconds, base.AttemptTimeoutSeconds)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.BackoffMultiplier = overlay.BackoffMultiplier
	if result.BackoffMultiplier == 0 {
		result.BackoffMultiplier = base.BackoffMultiplier
	}

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// Validate checks the settings export depends on.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.VaultRoot) == "" {
		problems = append(problems, "vault_root is required")
	} else if !filepath.IsAbs(c.VaultRoot) {
		problems = append(problems, "vault_root must be an absolute path")
	}
	if inbox := strings.TrimSpace(c.InboxDir); inbox == "" || filepath.IsAbs(inbox) || strings.Contains(inbox, "..") {
		problems = append(problems, "inbox_dir must be a relative path inside the vault")
	}
	if ext := strings.TrimSpace(c.ExportExt); ext == "" || strings.ContainsAny(ext, `./\`) {
		problems = append(problems, "export_ext must be a bare extension such as md")
	}
	if c.MaxRetryAttempts < 1 {
		problems = append(problems, "max_retry_attempts must be at least 1")
	}
	if c.BackoffMultiplier < 1 {
		problems = append(problems, "backoff_multiplier must be >= 1")
	}
	if intValue(c.BackoffBaseDelayMS) < 0 || c.BackoffMaxDelayMS < 0 {
		problems = append(problems, "backoff delays must not be negative")
	}
	if intValue(c.DedupLookbackDays) < 0 {
		problems = append(problems, "dedup_lookback_days must not be negative")
	}
	if intValue(c.AttemptTimeoutSeconds) < 0 {
		problems = append(problems, "attempt_timeout_seconds must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// BackoffBaseDelay returns BackoffBaseDelayMS as a duration.
func (c *Config) BackoffBaseDelay() time.Duration {
	return time.Duration(intValue(c.BackoffBaseDelayMS)) * time.Millisecond
}

// BackoffMaxDelay returns BackoffMaxDelayMS as a duration.
func (c *Config) BackoffMaxDelay() time.Duration {
	return time.Duration(c.BackoffMaxDelayMS) * time.Millisecond
}

// StuckExportThreshold returns StuckExportThresholdSeconds as a duration.
func (c *Config) StuckExportThreshold() time.Duration {
	return time.Duration(c.StuckExportThresholdSeconds) * time.Second
}

// PollInterval returns PollIntervalSeconds as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// AttemptTimeout returns AttemptTimeoutSeconds as a duration (0 = none).
func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(intValue(c.AttemptTimeoutSeconds)) * time.Second
}

// DedupLookback returns the dedup window, or 0 for unlimited.
func (c *Config) DedupLookback() time.Duration {
	return time.Duration(intValue(c.DedupLookbackDays)) * 24 * time.Hour
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickIntPtr(overlay, base *int) *int {
	if overlay != nil {
		return IntPtr(*overlay)
	}
	if base != nil {
		return IntPtr(*base)
	}
	return nil
}

// IntPtr returns a pointer to v, for the optional integer settings.
func IntPtr(v int) *int {
	return &v
}

func intValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
