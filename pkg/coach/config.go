package coach

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-cprcoach/pkg/trigger"
)

// Default timings.
const (
	DefaultFeedbackCooldown = 5 * time.Second
	DefaultVoiceCooldown    = 5 * time.Second
)

// User-visible fallback texts.
const (
	TextVoiceCooldown  = "Please wait 5 seconds between questions."
	TextVoiceFailure   = "I'm having trouble answering that right now. Keep compressions going."
	TextNoData         = "Session ended. No data recorded."
	TextSummaryFailure = "Session complete. Review your compression consistency and technique."
	TextSummaryError   = "Session complete. Review your metrics on the results page."
)

// Config tunes a Coach. Zero fields take defaults.
type Config struct {
	// FeedbackCooldown is the minimum gap between repeats of the same issue.
	FeedbackCooldown time.Duration

	// VoiceCooldown is the minimum gap between answered voice questions.
	VoiceCooldown time.Duration

	// Policy is the per-mode trigger policy.
	Policy trigger.Policy

	// Enricher phrases feedback, summaries and answers. Nil uses the
	// deterministic texts.
	Enricher Enricher

	// Speaker synthesizes voice replies. Nil skips audio.
	Speaker Speaker

	// Recorder persists finished sessions. Nil skips persistence.
	Recorder Recorder

	Logger *slog.Logger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	// NewID generates session ids. Defaults to uuid.NewString.
	NewID func() string
}

// DefaultConfig returns a config with default timings and no collaborators.
func DefaultConfig() Config {
	return Config{
		FeedbackCooldown: DefaultFeedbackCooldown,
		VoiceCooldown:    DefaultVoiceCooldown,
		Policy:           trigger.DefaultPolicy(),
		Logger:           slog.Default(),
		Now:              time.Now,
		NewID:            uuid.NewString,
	}
}

// Validate rejects negative cooldowns.
func (c Config) Validate() error {
	if c.FeedbackCooldown < 0 || c.VoiceCooldown < 0 {
		return errors.New("coach: cooldowns must be non-negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FeedbackCooldown == 0 {
		c.FeedbackCooldown = d.FeedbackCooldown
	}
	if c.VoiceCooldown == 0 {
		c.VoiceCooldown = d.VoiceCooldown
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	if c.NewID == nil {
		c.NewID = d.NewID
	}
	return c
}
