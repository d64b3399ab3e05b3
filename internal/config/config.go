// Package config loads bot settings from .env files, an optional YAML file
// and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Kind names one of the bots built from this repository.
type Kind string

const (
	KindWhisper Kind = "whisper"
	KindNotes   Kind = "notes"
	KindWorkout Kind = "workout"
	KindFood    Kind = "food"
	KindDev     Kind = "dev"
	KindSleep   Kind = "sleep"
)

// LocalSleepBackend is used by the sleep bot with --local.
const LocalSleepBackend = "http://localhost:8000"

type BotConfig struct {
	Token            string  `yaml:"token"`
	AllowedChatIDs   []int64 `yaml:"allowed_chat_ids"`
	StartupReportIDs []int64 `yaml:"startup_report_ids"`
	Machine          string  `yaml:"machine"`
	AccessMode       string  `yaml:"access_mode"` // silent|warn
	DropPending      bool    `yaml:"drop_pending"`
	Debug            bool    `yaml:"debug"`
	Timezone         string  `yaml:"timezone"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type OpenAIConfig struct {
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	AdvancedModel    string `yaml:"advanced_model"`
	TranscribeModel  string `yaml:"transcribe_model"`
	MaxHistoryTokens int    `yaml:"max_history_tokens"`
}

type NotionConfig struct {
	Token            string `yaml:"token"`
	DatabaseID       string `yaml:"database_id"`
	TranscriptPageID string `yaml:"transcript_page_id"`
	SummaryPageID    string `yaml:"summary_page_id"`
}

type NotesAPIConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type SleepConfig struct {
	BackendURL     string        `yaml:"backend_url"`
	MorningAt      string        `yaml:"morning_at"`
	AfternoonAt    string        `yaml:"afternoon_at"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

type StorageConfig struct {
	Path      string `yaml:"path"`
	MasterKey string `yaml:"master_key"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type RateLimitConfig struct {
	PerChat      float64 `yaml:"per_chat"`
	PerChatBurst int     `yaml:"per_chat_burst"`
	Global       float64 `yaml:"global"`
	GlobalBurst  int     `yaml:"global_burst"`
}

type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Log       LogConfig       `yaml:"log"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Notion    NotionConfig    `yaml:"notion"`
	NotesAPI  NotesAPIConfig  `yaml:"notes_api"`
	Sleep     SleepConfig     `yaml:"sleep"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Options tells Load where to look.
type Options struct {
	// ConfigPath is an optional YAML file.
	ConfigPath string
	// EnvFiles are loaded after .env and override it.
	EnvFiles []string
}

// Load reads the configuration and applies defaults.
func Load(opts Options) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	for _, f := range opts.EnvFiles {
		if err := godotenv.Overload(f); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	var cfg Config
	if opts.ConfigPath != "" {
		b, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	ids := func(key string, dst *[]int64) error {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		parsed, err := ParseIDs(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = parsed
		return nil
	}

	str("TELEGRAM_BOT_TOKEN", &cfg.Bot.Token)
	str("THIS_MACHINE", &cfg.Bot.Machine)
	str("BOT_TIMEZONE", &cfg.Bot.Timezone)
	str("OPEN_AI_API_KEY", &cfg.OpenAI.APIKey)
	str("NOTION_TOKEN", &cfg.Notion.Token)
	str("NOTION_DATABASE_ID", &cfg.Notion.DatabaseID)
	str("NOTION_TRANSCRIPT_PAGE_ID", &cfg.Notion.TranscriptPageID)
	str("NOTION_SUMMARY_PAGE_ID", &cfg.Notion.SummaryPageID)
	str("NOTES_API_URL", &cfg.NotesAPI.URL)
	str("NOTES_API_TOKEN", &cfg.NotesAPI.Token)
	str("SLEEP_BACKEND_URL", &cfg.Sleep.BackendURL)
	str("BOT_DB_PATH", &cfg.Storage.Path)
	str("TBOT_MASTER_KEY", &cfg.Storage.MasterKey)
	str("METRICS_ADDR", &cfg.Metrics.Addr)
	str("LOG_LEVEL", &cfg.Log.Level)

	if err := ids("ALLOWED_CHAT_IDS", &cfg.Bot.AllowedChatIDs); err != nil {
		return err
	}
	return ids("STARTUP_CHAT_IDS_REPORT", &cfg.Bot.StartupReportIDs)
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.Machine == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Bot.Machine = h
		} else {
			cfg.Bot.Machine = "unknown"
		}
	}
	if cfg.Bot.AccessMode == "" {
		cfg.Bot.AccessMode = "silent"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-3.5-turbo"
	}
	if cfg.OpenAI.AdvancedModel == "" {
		cfg.OpenAI.AdvancedModel = "gpt-4"
	}
	if cfg.OpenAI.TranscribeModel == "" {
		cfg.OpenAI.TranscribeModel = "whisper-1"
	}
	if cfg.OpenAI.MaxHistoryTokens <= 0 {
		cfg.OpenAI.MaxHistoryTokens = 3000
	}
	cfg.NotesAPI.URL = strings.TrimRight(cfg.NotesAPI.URL, "/")
	cfg.Sleep.BackendURL = strings.TrimRight(cfg.Sleep.BackendURL, "/")
	if cfg.Sleep.MorningAt == "" {
		cfg.Sleep.MorningAt = "07:00"
	}
	if cfg.Sleep.AfternoonAt == "" {
		cfg.Sleep.AfternoonAt = "13:00"
	}
	if cfg.Sleep.HealthInterval <= 0 {
		cfg.Sleep.HealthInterval = 60 * time.Second
	}
	if cfg.RateLimit.PerChat <= 0 {
		cfg.RateLimit.PerChat = 1
	}
	if cfg.RateLimit.PerChatBurst <= 0 {
		cfg.RateLimit.PerChatBurst = 3
	}
	if cfg.RateLimit.Global <= 0 {
		cfg.RateLimit.Global = 10
	}
	if cfg.RateLimit.GlobalBurst <= 0 {
		cfg.RateLimit.GlobalBurst = 20
	}
}

// Location resolves the configured timezone, falling back to local time.
func (c *Config) Location() *time.Location {
	if c.Bot.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Bot.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// DropPendingFor reports whether kind skips updates queued while it was down.
// The sleep bot always does.
func (c *Config) DropPendingFor(kind Kind) bool {
	return c.Bot.DropPending || kind == KindSleep
}

// Validate checks the settings the given bot needs.
func (c *Config) Validate(kind Kind) error {
	var missing []string
	need := func(v, name string) {
		if v == "" {
			missing = append(missing, name)
		}
	}
	need(c.Bot.Token, "TELEGRAM_BOT_TOKEN")
	switch kind {
	case KindWhisper:
		need(c.OpenAI.APIKey, "OPEN_AI_API_KEY")
	case KindNotes, KindDev:
		need(c.Notion.Token, "NOTION_TOKEN")
		need(c.Notion.DatabaseID, "NOTION_DATABASE_ID")
	case KindWorkout, KindFood:
		need(c.NotesAPI.URL, "NOTES_API_URL")
		need(c.NotesAPI.Token, "NOTES_API_TOKEN")
	case KindSleep:
		need(c.Sleep.BackendURL, "SLEEP_BACKEND_URL")
	default:
		return fmt.Errorf("unknown bot kind %q", kind)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if m := c.Bot.AccessMode; m != "silent" && m != "warn" {
		return fmt.Errorf("bot.access_mode must be silent or warn, got %q", m)
	}
	if c.Bot.Timezone != "" {
		if _, err := time.LoadLocation(c.Bot.Timezone); err != nil {
			return fmt.Errorf("BOT_TIMEZONE: %w", err)
		}
	}
	return nil
}

// ParseIDs parses a comma separated list of chat ids.
func ParseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
