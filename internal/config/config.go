// Package config loads and holds all Lavis configuration: model aliases,
// actuator safe zones, skill/scheduler roots, and server ports. Configuration
// is read from ~/.lavis/config.yaml and then overridden by environment
// variables, the same precedence order the teacher codebase uses for
// provider API keys.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ModelType distinguishes what a model alias is used for.
type ModelType string

const (
	ModelTypeChat      ModelType = "CHAT"
	ModelTypeSTT       ModelType = "STT"
	ModelTypeTTS       ModelType = "TTS"
	ModelTypeEmbedding ModelType = "EMBEDDING"
)

// ModelAlias is one entry in the ModelGateway's configuration map.
type ModelAlias struct {
	Type        ModelType `yaml:"type"`
	Provider    string    `yaml:"provider"` // anthropic|openai|gemini|xai|zai|openrouter
	BaseURL     string    `yaml:"base_url,omitempty"`
	APIKey      string    `yaml:"api_key"`
	ModelName   string    `yaml:"model_name"`
	Temperature float64   `yaml:"temperature,omitempty"`
	TimeoutSec  int       `yaml:"timeout_sec"`
	MaxRetries  int       `yaml:"max_retries"`
	Voice       string    `yaml:"voice,omitempty"`
	Format      string    `yaml:"format,omitempty"`
}

// ModelsConfig holds every configured alias plus the default alias per type.
type ModelsConfig struct {
	Aliases          map[string]ModelAlias `yaml:"aliases"`
	DefaultChat      string                `yaml:"default_chat"`
	DefaultSTT       string                `yaml:"default_stt"`
	DefaultTTS       string                `yaml:"default_tts"`
	DefaultEmbedding string                `yaml:"default_embedding,omitempty"`
}

// ActuatorConfig configures SystemActuator safe zones and timing.
type ActuatorConfig struct {
	SafeMarginTop    int  `yaml:"safe_margin_top"`
	SafeMarginLeft   int  `yaml:"safe_margin_left"`
	SafeMarginRight  int  `yaml:"safe_margin_right"`
	SafeMarginBottom int  `yaml:"safe_margin_bottom"`
	HumanLikeMotion  bool `yaml:"human_like_motion"`
	DeviationThresh  int  `yaml:"deviation_threshold_px"`
	ShellTimeoutSec  int  `yaml:"shell_timeout_sec"`
}

// ServerConfig configures the HTTP and config listener ports.
type ServerConfig struct {
	HTTPPort   int `yaml:"http_port"`
	ConfigPort int `yaml:"config_port"`
}

// SkillsConfig configures the skill registry root.
type SkillsConfig struct {
	Root string `yaml:"root"`
}

// SchedulerConfig configures the cron scheduler.
type SchedulerConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

// StoreConfig configures the persistent store location and backup policy.
type StoreConfig struct {
	DataDir       string `yaml:"data_dir"`
	BackupRetain  int    `yaml:"backup_retain_days"`
	BackupHourUTC int    `yaml:"backup_hour_utc"`
}

// Config is the top-level configuration tree.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Models    ModelsConfig    `yaml:"models"`
	Actuator  ActuatorConfig  `yaml:"actuator"`
	Skills    SkillsConfig    `yaml:"skills"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Store     StoreConfig     `yaml:"store"`
}

// DefaultServerConfig returns the §6 default ports.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{HTTPPort: 8080, ConfigPort: 18765}
}

// DefaultActuatorConfig returns conservative defaults.
func DefaultActuatorConfig() ActuatorConfig {
	return ActuatorConfig{
		SafeMarginTop:    32,
		SafeMarginLeft:   4,
		SafeMarginRight:  4,
		SafeMarginBottom: 8,
		HumanLikeMotion:  true,
		DeviationThresh:  6,
		ShellTimeoutSec:  30,
	}
}

// DefaultSkillsConfig returns ~/.lavis/skills as the root.
func DefaultSkillsConfig() SkillsConfig {
	home, _ := os.UserHomeDir()
	return SkillsConfig{Root: filepath.Join(home, ".lavis", "skills")}
}

// DefaultSchedulerConfig returns sensible worker pool sizing.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{MaxWorkers: 4}
}

// DefaultStoreConfig returns ~/.lavis/data as the data directory.
func DefaultStoreConfig() StoreConfig {
	home, _ := os.UserHomeDir()
	return StoreConfig{
		DataDir:       filepath.Join(home, ".lavis", "data"),
		BackupRetain:  30,
		BackupHourUTC: 3,
	}
}

// Default returns a fully populated Config with no model aliases configured.
func Default() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Models:    ModelsConfig{Aliases: map[string]ModelAlias{}},
		Actuator:  DefaultActuatorConfig(),
		Skills:    DefaultSkillsConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Store:     DefaultStoreConfig(),
	}
}

// DefaultConfigPath returns ~/.lavis/config.yaml.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lavis", "config.yaml")
}

// Load reads config.yaml at path (creating an empty default tree if the file
// is absent) and then applies environment-variable overrides for API keys.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Models.Aliases == nil {
		cfg.Models.Aliases = map[string]ModelAlias{}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// envKeyByProvider mirrors the teacher's DetectProvider priority list.
var envKeyByProvider = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"xai":        "XAI_API_KEY",
	"zai":        "ZAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// applyEnvOverrides overrides each configured alias's APIKey from the
// environment variable matching its provider, when set.
func applyEnvOverrides(cfg *Config) {
	for name, alias := range cfg.Models.Aliases {
		envVar, ok := envKeyByProvider[alias.Provider]
		if !ok {
			continue
		}
		if key := os.Getenv(envVar); key != "" {
			alias.APIKey = key
			cfg.Models.Aliases[name] = alias
		}
	}
}
