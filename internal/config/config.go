// Package config loads the coaching server configuration from the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/go-cprcoach/pkg/trigger"
)

// Defaults.
const (
	DefaultPort             = "8080"
	DefaultLogLevel         = "info"
	DefaultDBPath           = "data/cprcoach.db"
	DefaultFeedbackCooldown = 5 * time.Second
	DefaultVoiceCooldown    = 5 * time.Second
)

// Config is the server configuration. Empty provider fields fall back to the
// provider package defaults.
type Config struct {
	Port       string
	LogLevel   string
	Production bool
	DBPath     string

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	// Secondary OpenAI-compatible endpoint tried when the primary fails.
	FallbackBaseURL string
	FallbackModel   string

	ElevenLabsKey string
	VoiceID       string
	TTSModel      string

	FeedbackCooldown time.Duration
	VoiceCooldown    time.Duration

	// TestModeSuppress lists issues never surfaced in test mode.
	TestModeSuppress []trigger.IssueID
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		Port:             DefaultPort,
		LogLevel:         DefaultLogLevel,
		DBPath:           DefaultDBPath,
		FeedbackCooldown: DefaultFeedbackCooldown,
		VoiceCooldown:    DefaultVoiceCooldown,
	}
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv.
func LoadFrom(getenv func(string) string) (Config, error) {
	cfg := Default()

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	str("PORT", &cfg.Port)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("CPR_DB_PATH", &cfg.DBPath)
	str("OPENAI_API_KEY", &cfg.OpenAIKey)
	str("OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	str("OPENAI_MODEL", &cfg.OpenAIModel)
	str("FALLBACK_LLM_BASE_URL", &cfg.FallbackBaseURL)
	str("FALLBACK_LLM_MODEL", &cfg.FallbackModel)
	str("ELEVENLABS_API_KEY", &cfg.ElevenLabsKey)
	str("ELEVENLABS_VOICE_ID", &cfg.VoiceID)
	str("ELEVENLABS_MODEL_ID", &cfg.TTSModel)
	cfg.Production = getenv("GO_ENV") == "production"

	var err error
	if cfg.FeedbackCooldown, err = duration(getenv, "CPR_FEEDBACK_COOLDOWN", cfg.FeedbackCooldown); err != nil {
		return cfg, err
	}
	if cfg.VoiceCooldown, err = duration(getenv, "CPR_VOICE_COOLDOWN", cfg.VoiceCooldown); err != nil {
		return cfg, err
	}
	if cfg.TestModeSuppress, err = ParseIssues(getenv("CPR_TEST_MODE_SUPPRESS")); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	var errs []error
	if port, err := strconv.Atoi(c.Port); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("config: invalid port %q", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("config: database path is required"))
	}
	if c.FeedbackCooldown <= 0 {
		errs = append(errs, fmt.Errorf("config: feedback cooldown must be positive, got %s", c.FeedbackCooldown))
	}
	if c.VoiceCooldown <= 0 {
		errs = append(errs, fmt.Errorf("config: voice cooldown must be positive, got %s", c.VoiceCooldown))
	}
	if c.FallbackModel != "" && c.FallbackBaseURL == "" {
		errs = append(errs, errors.New("config: fallback model set without a fallback base URL"))
	}
	return errors.Join(errs...)
}

// Policy builds the trigger policy for this configuration.
func (c Config) Policy() trigger.Policy {
	p := trigger.DefaultPolicy()
	if len(c.TestModeSuppress) > 0 {
		p.Suppress = map[trigger.Mode][]trigger.IssueID{trigger.ModeTest: c.TestModeSuppress}
	}
	return p
}

// EnrichmentEnabled reports whether a language model is configured, either
// the primary endpoint or a keyless fallback such as a local server.
func (c Config) EnrichmentEnabled() bool {
	return c.OpenAIKey != "" || c.FallbackBaseURL != ""
}

// SpeechEnabled reports whether speech synthesis is configured.
func (c Config) SpeechEnabled() bool {
	return c.ElevenLabsKey != ""
}

// ParseIssues parses a comma-separated list of issue ids.
func ParseIssues(s string) ([]trigger.IssueID, error) {
	var out []trigger.IssueID
	for part := range strings.SplitSeq(s, ",") {
		id := trigger.IssueID(strings.TrimSpace(part))
		if id == "" {
			continue
		}
		switch id {
		case trigger.SlowRate, trigger.FastRate, trigger.ElbowsBent, trigger.Fatigue, trigger.ShallowDepth:
			out = append(out, id)
		default:
			return nil, fmt.Errorf("config: unknown issue %q", id)
		}
	}
	return out, nil
}

// duration accepts Go duration strings ("5s") or plain seconds ("5").
func duration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
