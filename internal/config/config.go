// Package config loads runtime configuration from a yaml file, .env, and
// OPENTYPELESS_* environment overrides. The session core never reads this
// directly; it receives an immutable snapshot at each session start.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration tree.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Speech  SpeechConfig  `mapstructure:"speech"`
	Polish  PolishConfig  `mapstructure:"polish"`
	Hotkeys HotkeysConfig `mapstructure:"hotkeys"`
	History HistoryConfig `mapstructure:"history"`
	Rules   RulesConfig   `mapstructure:"rules"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AudioConfig struct {
	RecorderCommand string `mapstructure:"recorder_command"`
	InputFormat     string `mapstructure:"input_format"`
	InputDevice     string `mapstructure:"input_device"`
	SampleRate      int    `mapstructure:"sample_rate"`
	Channels        int    `mapstructure:"channels"`
	RecordingDir    string `mapstructure:"recording_dir"`
	KeepAudio       bool   `mapstructure:"keep_audio"`
}

type SpeechConfig struct {
	BackendID string        `mapstructure:"backend"`
	Language  string        `mapstructure:"language"`
	Azure     AzureConfig   `mapstructure:"azure"`
	Whisper   WhisperConfig `mapstructure:"whisper"`
	Local     LocalConfig   `mapstructure:"local"`
}

type AzureConfig struct {
	Key    string `mapstructure:"key"`
	Region string `mapstructure:"region"`
}

type WhisperConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type LocalConfig struct {
	Command   string `mapstructure:"command"`
	ModelPath string `mapstructure:"model_path"`
}

type PolishConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	APIKey          string `mapstructure:"api_key"`
	BaseURL         string `mapstructure:"base_url"`
	Model           string `mapstructure:"model"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	Prompt          string `mapstructure:"prompt"`
	TranslatePrompt string `mapstructure:"translate_prompt"`
	TargetLanguage  string `mapstructure:"target_language"`
}

type HotkeysConfig struct {
	HoldToTalk string `mapstructure:"hold_to_talk"`
	Toggle     string `mapstructure:"toggle"`
	Translate  string `mapstructure:"translate"`
}

type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

type RulesConfig struct {
	Path           string `mapstructure:"path"`
	IterationLimit int    `mapstructure:"iteration_limit"`
}

const (
	defaultPolishPrompt = "You are a dictation assistant. Correct transcription " +
		"errors, fix punctuation and capitalization, and format the text " +
		"naturally. Return only the corrected text."
	defaultTranslatePrompt = "Translate the following text into %s. Return only " +
		"the translation."
)

// PolishTimeout returns the configured polish timeout.
func (c PolishConfig) PolishTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TranslateInstructions renders the translate prompt for the configured
// target language.
func (c PolishConfig) TranslateInstructions() string {
	target := c.TargetLanguage
	if target == "" {
		target = "English"
	}
	if strings.Contains(c.TranslatePrompt, "%s") {
		return fmt.Sprintf(c.TranslatePrompt, target)
	}
	if c.TranslatePrompt != "" {
		return c.TranslatePrompt
	}
	return fmt.Sprintf(defaultTranslatePrompt, target)
}

// Load resolves configuration from config.yml, .env, environment variables,
// and defaults, in ascending priority of env over file over defaults.
func Load() (Config, error) {
	if path := findEnvFile(); path != "" {
		_ = godotenv.Load(path)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, dir := range configDirs() {
		v.AddConfigPath(dir)
	}
	v.SetEnvPrefix("OPENTYPELESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	applyFallbacks(&cfg)
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("audio.recorder_command", "ffmpeg")
	v.SetDefault("audio.input_format", "avfoundation")
	v.SetDefault("audio.input_device", ":default")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.keep_audio", false)

	v.SetDefault("speech.backend", "local")
	v.SetDefault("speech.language", "en")
	v.SetDefault("speech.azure.key", "")
	v.SetDefault("speech.azure.region", "")
	v.SetDefault("speech.whisper.api_key", "")
	v.SetDefault("speech.whisper.base_url", "")
	v.SetDefault("speech.whisper.model", "whisper-1")
	v.SetDefault("speech.local.command", "whisper-cli")
	v.SetDefault("speech.local.model_path", "")

	v.SetDefault("polish.enabled", false)
	v.SetDefault("polish.api_key", "")
	v.SetDefault("polish.base_url", "")
	v.SetDefault("polish.model", "gpt-4o-mini")
	v.SetDefault("polish.timeout_seconds", 10)
	v.SetDefault("polish.prompt", defaultPolishPrompt)
	v.SetDefault("polish.translate_prompt", "")
	v.SetDefault("polish.target_language", "English")

	v.SetDefault("hotkeys.hold_to_talk", "")
	v.SetDefault("hotkeys.toggle", "")
	v.SetDefault("hotkeys.translate", "")

	v.SetDefault("rules.iteration_limit", 30)
}

func applyFallbacks(cfg *Config) {
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.RecordingDir == "" {
		cfg.Audio.RecordingDir = filepath.Join(os.TempDir(), "opentypeless")
	}
	if cfg.History.Path == "" {
		cfg.History.Path = defaultHistoryPath()
	}
	if cfg.Rules.Path == "" {
		cfg.Rules.Path = defaultRulesPath()
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Application Support", "OpenTypeless", "history.sqlite")
}

func defaultRulesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "opentypeless", "substitutions.rules")
}

func configDirs() []string {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "opentypeless"))
	}
	return dirs
}

func findEnvFile() string {
	candidates := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "opentypeless", ".env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
