package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for InfoBot.
type Config struct {
	General     GeneralConfig     `yaml:"general"`
	SiliconFlow SiliconFlowConfig `yaml:"siliconflow"`
	Contacts    ContactsConfig    `yaml:"contacts"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Queue       QueueConfig       `yaml:"queue"`
	Prompts     PromptsConfig     `yaml:"prompts"`
	Driver      DriverConfig      `yaml:"driver"`
	History     HistoryConfig     `yaml:"history"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Telegram    TelegramConfig    `yaml:"telegram"`
}

type GeneralConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file,omitempty"`
}

// SiliconFlowConfig configures the external classification call.
type SiliconFlowConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// ContactsConfig holds the static source/target membership lists. A name
// may not appear in both lists; Validate rejects the overlap at load time.
type ContactsConfig struct {
	Sources []string `yaml:"sources"`
	Targets []string `yaml:"targets"`
}

type MonitorConfig struct {
	CheckIntervalSeconds int `yaml:"check_interval_seconds"`
	StaggerSeconds       int `yaml:"stagger_seconds"`
	StartSpacingMillis   int `yaml:"start_spacing_millis"`
}

type QueueConfig struct {
	RetentionDays int `yaml:"retention_days"`
	MaxProcessed  int `yaml:"max_processed"`
}

// PromptsConfig drives the forwarding decision chain.
type PromptsConfig struct {
	UseAIForAnalysis    bool     `yaml:"use_ai_for_analysis"`
	MinMessageLength    int      `yaml:"min_message_length"`
	BlacklistKeywords   []string `yaml:"blacklist_keywords"`
	ImportantKeywords   []string `yaml:"important_keywords"`
	UnimportantKeywords []string `yaml:"unimportant_keywords"`
}

type DriverConfig struct {
	ProfileDir     string `yaml:"profile_dir"`
	Headless       bool   `yaml:"headless"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type TelegramConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Token     string   `yaml:"token"`
	AllowFrom []string `yaml:"allow_from"`
	ParseMode string   `yaml:"parse_mode"`
}

// DefaultConfigDir returns the default config directory (~/.infobot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".infobot"
	}
	return filepath.Join(home, ".infobot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Driver.ProfileDir = ExpandPath(cfg.Driver.ProfileDir)
	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values. Contact-list errors halt
// startup: role assignment must be unambiguous before any message flows.
func Validate(cfg *Config) error {
	var errs []string

	if len(cfg.Contacts.Sources) == 0 {
		errs = append(errs, "contacts.sources must list at least one contact to watch")
	}

	seen := make(map[string]bool, len(cfg.Contacts.Sources))
	for _, name := range cfg.Contacts.Sources {
		if seen[name] {
			errs = append(errs, fmt.Sprintf("contacts.sources lists %q twice", name))
		}
		seen[name] = true
	}
	for _, name := range cfg.Contacts.Targets {
		if seen[name] {
			errs = append(errs, fmt.Sprintf("contact %q appears in both sources and targets", name))
		}
	}
	seenTargets := make(map[string]bool, len(cfg.Contacts.Targets))
	for _, name := range cfg.Contacts.Targets {
		if seenTargets[name] {
			errs = append(errs, fmt.Sprintf("contacts.targets lists %q twice", name))
		}
		seenTargets[name] = true
	}

	if cfg.Monitor.CheckIntervalSeconds < 1 {
		errs = append(errs, "monitor.check_interval_seconds must be >= 1")
	}
	if cfg.Monitor.StaggerSeconds < 0 {
		errs = append(errs, "monitor.stagger_seconds must be >= 0")
	}
	if cfg.Queue.RetentionDays < 1 {
		errs = append(errs, "queue.retention_days must be >= 1")
	}
	if cfg.Queue.MaxProcessed < 1 {
		errs = append(errs, "queue.max_processed must be >= 1")
	}
	if cfg.Prompts.MinMessageLength < 0 {
		errs = append(errs, "prompts.min_message_length must be >= 0")
	}
	if cfg.Driver.TimeoutSeconds < 1 {
		errs = append(errs, "driver.timeout_seconds must be >= 1")
	}
	if cfg.History.Enabled && cfg.History.DBPath == "" {
		errs = append(errs, "history.db_path is required when history is enabled")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
