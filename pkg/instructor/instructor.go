// Package instructor phrases coaching output in a CPR instructor's voice using
// a chat model.
package instructor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-cprcoach/pkg/inference"
	"github.com/teslashibe/go-cprcoach/pkg/motion"
	"github.com/teslashibe/go-cprcoach/pkg/summary"
	"github.com/teslashibe/go-cprcoach/pkg/trigger"
)

// SystemPrompt sets the instructor persona for every request.
const SystemPrompt = `You are a certified CPR instructor.
You provide clear, concise, real-time CPR coaching.

Rules:
- Be direct, but kind, like a good instructor.
- Keep responses/guidance under 1-2 sentences for live feedback.
- For summaries, provide structured feedback.
- Do NOT explain CPR theory unless asked.
- Focus on compressions quality (rate, depth, elbows, fatigue).`

// Sampling temperatures.
const (
	LiveTemperature    = 0.6
	SummaryTemperature = 0.7
	AnswerTemperature  = 0.7
)

// Instructor generates coaching text through an inference provider.
type Instructor struct {
	provider inference.Provider
	model    string
	logger   *slog.Logger
}

// Option configures an Instructor.
type Option func(*Instructor)

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(i *Instructor) { i.model = model }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Instructor) { i.logger = l }
}

// New creates an instructor backed by provider.
func New(provider inference.Provider, opts ...Option) *Instructor {
	i := &Instructor{
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("component", "instructor")
	return i
}

// GenerateLiveFeedback turns a detected issue into a short corrective cue.
func (i *Instructor) GenerateLiveFeedback(ctx context.Context, issue trigger.Issue, sample motion.Sample, mode trigger.Mode) (string, error) {
	return i.ask(ctx, "live feedback", LiveTemperature, LiveFeedbackPrompt(issue, sample, mode))
}

// GenerateSummary writes the end-of-session review.
func (i *Instructor) GenerateSummary(ctx context.Context, s summary.Summary) (string, error) {
	return i.ask(ctx, "summary", SummaryTemperature, SummaryPrompt(s))
}

// AnswerQuestion answers a trainee's spoken question.
func (i *Instructor) AnswerQuestion(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("instructor: empty question")
	}
	return i.ask(ctx, "question", AnswerTemperature, question)
}

func (i *Instructor) ask(ctx context.Context, kind string, temperature float64, prompt string) (string, error) {
	resp, err := i.provider.Chat(ctx, &inference.ChatRequest{
		Model: i.model,
		Messages: []inference.Message{
			inference.NewSystemMessage(SystemPrompt),
			inference.NewUserMessage(prompt),
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("instructor %s: %w", kind, err)
	}

	i.logger.Debug("generated text",
		"kind", kind,
		"latency_ms", resp.LatencyMs,
		"tokens", resp.Usage.TotalTokens,
	)
	return resp.Message.Content, nil
}

// LiveFeedbackPrompt describes the current issue and metrics.
func LiveFeedbackPrompt(issue trigger.Issue, sample motion.Sample, mode trigger.Mode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s\n", mode)
	fmt.Fprintf(&b, "Issue detected: %s\n", issue.ID)
	b.WriteString("Current metrics:\n")
	fmt.Fprintf(&b, "- BPM: %d\n", sample.BPM)
	fmt.Fprintf(&b, "- Depth: %.3f\n", sample.RelativeDepth)
	fmt.Fprintf(&b, "- Elbows locked: %t\n", sample.ElbowsLocked)
	b.WriteString("\nProvide short corrective coaching.")
	return b.String()
}

// SummaryPrompt asks for a structured review of a finished session.
func SummaryPrompt(s summary.Summary) string {
	var b strings.Builder
	b.WriteString("You are reviewing a CPR training session.\n\n")
	b.WriteString("Session Stats:\n")
	fmt.Fprintf(&b, "- Duration: %.0f seconds\n", s.DurationSeconds)
	fmt.Fprintf(&b, "- Total compressions: %d\n", s.CompressionCount)
	fmt.Fprintf(&b, "- Average rate (BPM): %.0f\n", s.AvgBPM)
	fmt.Fprintf(&b, "- Elbows locked percentage: %.0f%%\n", s.ElbowLockedPercent)
	fmt.Fprintf(&b, "- Score: %d/100\n", s.Score)
	b.WriteString("\nProvide:\n")
	b.WriteString("1. Overall performance assessment\n")
	b.WriteString("2. Two strengths\n")
	b.WriteString("3. Two areas to improve\n\n")
	b.WriteString("Keep it concise, structured, and professional.")
	return b.String()
}
