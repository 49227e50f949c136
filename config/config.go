// Package config loads askbox settings from YAML.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Asking        Asking        `yaml:"asking"`
	Transcription Transcription `yaml:"transcription"`
	Voice         Voice         `yaml:"voice"`
}

type Asking struct {
	BaseURL      string        `yaml:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	// Language the service answers in.
	Language string `yaml:"language"`
	// Timezone is an IANA name; empty means the local zone.
	Timezone string `yaml:"timezone"`
}

// Location resolves Timezone, falling back to the local zone.
func (a Asking) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(a.Timezone)
}

type Transcription struct {
	Endpoint string        `yaml:"endpoint"`
	TokenEnv string        `yaml:"token_env"`
	Timeout  time.Duration `yaml:"timeout"`
	Format   string        `yaml:"format"`
}

// Token reads the bearer token from the configured environment variable.
func (t Transcription) Token() string {
	if t.TokenEnv == "" {
		return ""
	}
	return os.Getenv(t.TokenEnv)
}

type Voice struct {
	SilenceThreshold float64       `yaml:"silence_threshold"`
	SilenceHold      time.Duration `yaml:"silence_hold"`
	MaxWait          time.Duration `yaml:"max_wait"`
	Placeholder      string        `yaml:"placeholder"`
	Device           string        `yaml:"device"`
	Beep             bool          `yaml:"beep"`
	Gain             int           `yaml:"gain"`
	AutoSubmit       bool          `yaml:"auto_submit"`
}

// FileLoader loads ~/.config/askbox/config.yaml (overridable via ASKBOX_CONFIG).
type FileLoader struct {
	overridePath string
}

func NewFileLoader(path string) *FileLoader {
	return &FileLoader{overridePath: path}
}

// Path is the file Load reads.
func (l *FileLoader) Path() string {
	if l.overridePath != "" {
		return expandPath(l.overridePath)
	}
	if custom := os.Getenv("ASKBOX_CONFIG"); custom != "" {
		return expandPath(custom)
	}
	return filepath.Join(configHome(), "askbox", "config.yaml")
}

// Load reads the config file, writing the defaults there first if it does
// not exist. Keys missing from the file keep their default values.
func (l *FileLoader) Load(context.Context) (Config, error) {
	path := l.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Config{}, err
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if err := writeDefault(path, cfg); err != nil {
				return Config{}, err
			}
			return cfg, nil
		}
		return Config{}, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg = hydrateDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Transcription.Format {
	case "wav", "flac":
	default:
		return fmt.Errorf("transcription.format must be wav or flac, got %q", c.Transcription.Format)
	}
	if c.Voice.SilenceThreshold >= 1 {
		return fmt.Errorf("voice.silence_threshold must be below 1, got %v", c.Voice.SilenceThreshold)
	}
	if c.Voice.MaxWait < 0 {
		return fmt.Errorf("voice.max_wait must not be negative")
	}
	if _, err := c.Asking.Location(); err != nil {
		return fmt.Errorf("asking.timezone: %w", err)
	}
	return nil
}

func writeDefault(path string, cfg Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func Default() Config {
	return Config{
		Asking: Asking{
			BaseURL:      "http://localhost:5555",
			PollInterval: 500 * time.Millisecond,
			Timeout:      30 * time.Second,
			Language:     "English",
		},
		Transcription: Transcription{
			Endpoint: "http://localhost:5555/v1/transcribe",
			TokenEnv: "ASKBOX_TRANSCRIPTION_TOKEN",
			Timeout:  30 * time.Second,
			Format:   "wav",
		},
		Voice: Voice{
			SilenceThreshold: 0.01,
			SilenceHold:      1500 * time.Millisecond,
			MaxWait:          8 * time.Second,
			Beep:             true,
			Gain:             1,
			AutoSubmit:       true,
		},
	}
}

func hydrateDefaults(cfg Config) Config {
	def := Default()
	cfg.Asking.BaseURL = strings.TrimRight(cfg.Asking.BaseURL, "/")
	if cfg.Asking.BaseURL == "" {
		cfg.Asking.BaseURL = def.Asking.BaseURL
	}
	if cfg.Asking.PollInterval <= 0 {
		cfg.Asking.PollInterval = def.Asking.PollInterval
	}
	if cfg.Asking.Timeout <= 0 {
		cfg.Asking.Timeout = def.Asking.Timeout
	}
	if cfg.Asking.Language == "" {
		cfg.Asking.Language = def.Asking.Language
	}
	if cfg.Transcription.Timeout <= 0 {
		cfg.Transcription.Timeout = def.Transcription.Timeout
	}
	cfg.Transcription.Format = strings.ToLower(cfg.Transcription.Format)
	if cfg.Transcription.Format == "" {
		cfg.Transcription.Format = def.Transcription.Format
	}
	if cfg.Voice.SilenceThreshold <= 0 {
		cfg.Voice.SilenceThreshold = def.Voice.SilenceThreshold
	}
	if cfg.Voice.SilenceHold <= 0 {
		cfg.Voice.SilenceHold = def.Voice.SilenceHold
	}
	if cfg.Voice.Gain <= 0 {
		cfg.Voice.Gain = def.Voice.Gain
	}
	return cfg
}

func expandPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(userHomeDir(), path[2:])
	}
	return filepath.Clean(path)
}

func configHome() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	return filepath.Join(userHomeDir(), ".config")
}

func userHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
