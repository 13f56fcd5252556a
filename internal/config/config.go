// Package config handles MindHome configuration loading.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/mindhome/config.yaml, /etc/mindhome/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mindhome", "config.yaml"))
	}

	paths = append(paths, "/etc/mindhome/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all MindHome configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Models        ModelsConfig        `yaml:"models"`
	Embeddings    EmbeddingsConfig    `yaml:"embeddings"`
	Redis         RedisConfig         `yaml:"redis"`
	Router        RouterConfig        `yaml:"router"`
	Planner       PlannerConfig       `yaml:"planner"`
	Validator     ValidatorConfig     `yaml:"validator"`
	Mood          MoodConfig          `yaml:"mood"`
	Activity      ActivityConfig      `yaml:"activity"`
	Proactive     ProactiveConfig     `yaml:"proactive"`
	Feedback      FeedbackConfig      `yaml:"feedback"`
	Summarizer    SummarizerConfig    `yaml:"summarizer"`
	Autonomy      AutonomyConfig      `yaml:"autonomy"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// HomeAssistantConfig defines the automation gateway connection.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// ModelsConfig defines the local inference tiers.
type ModelsConfig struct {
	OllamaURL string `yaml:"ollama_url"`
	Fast      string `yaml:"fast"`    // short command confirmations, extraction
	Capable   string `yaml:"capable"` // conversation, planning
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Model   string `yaml:"model"`   // e.g. nomic-embed-text
	BaseURL string `yaml:"baseurl"` // defaults to models.ollama_url
}

// RedisConfig defines the working-memory store connection.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RouterConfig tunes fast-tier routing. A request goes to the fast
// model only when it is under max_fast_words words and contains one of
// the command keywords.
type RouterConfig struct {
	MaxFastWords    int      `yaml:"max_fast_words"`
	CommandKeywords []string `yaml:"command_keywords"`
}

// PlannerConfig tunes multi-step planning.
type PlannerConfig struct {
	MaxIterations   int      `yaml:"max_iterations"`
	ComplexKeywords []string `yaml:"complex_keywords"`
}

// ValidatorConfig defines action safety limits.
type ValidatorConfig struct {
	ClimateMin float64 `yaml:"climate_min"`
	ClimateMax float64 `yaml:"climate_max"`
	// ConfirmActions lists "tool:value" pairs that require explicit
	// user confirmation, e.g. "lock_door:unlock".
	ConfirmActions []string `yaml:"confirm_actions"`
}

// MoodConfig tunes the mood detector.
type MoodConfig struct {
	RapidIntervalSec     int `yaml:"rapid_interval_sec"`
	ShortUtteranceWords  int `yaml:"short_utterance_words"`
	FrustrationThreshold int `yaml:"frustration_threshold"`
	DecayWindowSec       int `yaml:"decay_window_sec"`
	NightStartHour       int `yaml:"night_start_hour"`
	NightEndHour         int `yaml:"night_end_hour"`
}

// ActivityConfig lists the entity groups the activity detector polls.
type ActivityConfig struct {
	MediaPlayers []string `yaml:"media_players"`
	MicSensors   []string `yaml:"mic_sensors"`
	BedSensors   []string `yaml:"bed_sensors"`
	PCSensors    []string `yaml:"pc_sensors"`
	Persons      []string `yaml:"persons"`
	NightLights  []string `yaml:"night_lights"`
	GuestCount   int      `yaml:"guest_count"`
}

// ProactiveConfig tunes proactive notification gating.
type ProactiveConfig struct {
	BaseCooldownSec int      `yaml:"base_cooldown_sec"`
	SilenceScenes   []string `yaml:"silence_scenes"`
}

// FeedbackConfig tunes feedback learning.
type FeedbackConfig struct {
	PendingTimeoutSec int `yaml:"pending_timeout_sec"`
}

// SummarizerConfig defines the nightly summary schedule.
type SummarizerConfig struct {
	// Schedule is a cron expression; defaults to 03:00 daily.
	Schedule string `yaml:"schedule"`
}

// AutonomyConfig sets the initial autonomy level (1-5).
type AutonomyConfig struct {
	DefaultLevel int `yaml:"default_level"`
}

// ParseLogLevel maps a config string to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration. Keyword defaults are German
// because the assistant's household speaks German; override per deployment.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Port: 8321},
		DataDir: "data",
		Models: ModelsConfig{
			OllamaURL: "http://localhost:11434",
			Fast:      "llama3.2:3b",
			Capable:   "qwen2.5:14b",
		},
		Embeddings: EmbeddingsConfig{
			Model: "nomic-embed-text",
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Router: RouterConfig{
			MaxFastWords: 5,
			CommandKeywords: []string{
				"licht", "lampe", "temperatur", "heizung", "rollladen",
				"jalousie", "szene", "alarm", "tür", "gute nacht",
				"guten morgen", "musik", "pause", "stopp", "stop",
				"leiser", "lauter", "an", "aus",
			},
		},
		Planner: PlannerConfig{
			MaxIterations: 5,
			ComplexKeywords: []string{
				"alles", "fertig", "vorbereiten", "gehe weg",
				"verreise", "urlaub", "routine", "zuerst", "danach",
				" und ", "außerdem", "komplett", "überall", "party",
				"besuch kommt", "gäste",
			},
		},
		Validator: ValidatorConfig{
			ClimateMin: 15,
			ClimateMax: 28,
			ConfirmActions: []string{
				"lock_door:unlock",
				"set_alarm:disarm",
				"set_climate:off",
			},
		},
		Mood: MoodConfig{
			RapidIntervalSec:     5,
			ShortUtteranceWords:  3,
			FrustrationThreshold: 3,
			DecayWindowSec:       300,
			NightStartHour:       23,
			NightEndHour:         5,
		},
		Activity: ActivityConfig{
			GuestCount: 2,
		},
		Proactive: ProactiveConfig{
			BaseCooldownSec: 300,
			SilenceScenes:   []string{"filmabend", "kino", "meditation", "sleep"},
		},
		Feedback: FeedbackConfig{
			PendingTimeoutSec: 120,
		},
		Summarizer: SummarizerConfig{
			Schedule: "0 3 * * *",
		},
		Autonomy: AutonomyConfig{
			DefaultLevel: 2,
		},
	}
}
