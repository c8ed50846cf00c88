// Package coach runs the per-connection coaching state machine.
//
// A Coach moves between Idle and Active. While Active it logs every metrics
// sample, evaluates triggers on ready frames and emits debounced feedback.
// Enrichment calls run on their own goroutines and never block frame
// ingestion; at most one feedback call and one voice call are in flight.
// Results from a session that has since ended are dropped.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-cprcoach/pkg/motion"
	"github.com/teslashibe/go-cprcoach/pkg/protocol"
	"github.com/teslashibe/go-cprcoach/pkg/store"
	"github.com/teslashibe/go-cprcoach/pkg/summary"
	"github.com/teslashibe/go-cprcoach/pkg/trigger"
	"github.com/teslashibe/go-cprcoach/pkg/tts"
)

// ErrInvalidMode is returned by StartSession for unknown modes.
var ErrInvalidMode = errors.New("coach: invalid mode")

// Enricher phrases coaching output. Implementations may fail; the coach
// substitutes deterministic text.
type Enricher interface {
	GenerateLiveFeedback(ctx context.Context, issue trigger.Issue, sample motion.Sample, mode trigger.Mode) (string, error)
	GenerateSummary(ctx context.Context, s summary.Summary) (string, error)
	AnswerQuestion(ctx context.Context, question string) (string, error)
}

// Speaker synthesizes speech.
type Speaker interface {
	Synthesize(ctx context.Context, text string) (*tts.AudioResult, error)
}

// Recorder persists finished sessions.
type Recorder interface {
	Save(ctx context.Context, r store.Record) error
}

// Emitter delivers outbound messages to the client.
type Emitter interface {
	Send(msg *protocol.Message) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(msg *protocol.Message) error

// Send calls f.
func (f EmitterFunc) Send(msg *protocol.Message) error { return f(msg) }

type sessionState struct {
	active  bool
	id      string
	mode    trigger.Mode
	song    string
	metrics []motion.Sample
	start   time.Time
}

type coachingState struct {
	lastIssue          trigger.IssueID
	lastFeedbackTime   time.Time
	feedbackBusy       bool
	voiceBusy          bool
	voiceCooldownUntil time.Time
}

// State is a point-in-time view of a coach.
type State struct {
	Active       bool            `json:"active"`
	SessionID    string          `json:"sessionId,omitempty"`
	Mode         trigger.Mode    `json:"mode,omitempty"`
	Samples      int             `json:"samples"`
	LastIssue    trigger.IssueID `json:"lastIssue,omitempty"`
	FeedbackBusy bool            `json:"feedbackBusy"`
	VoiceBusy    bool            `json:"voiceBusy"`
}

// Coach is the coaching orchestrator for one connection.
type Coach struct {
	cfg       Config
	emit      Emitter
	evaluator *trigger.Evaluator
	logger    *slog.Logger

	mu         sync.Mutex
	session    sessionState
	coaching   coachingState
	generation uint64
	closed     bool

	// baseCtx lives as long as the coach; sessionCtx is replaced on every
	// session boundary so in-flight feedback calls are cancelled.
	baseCtx       context.Context
	baseCancel    context.CancelFunc
	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	wg sync.WaitGroup
}

// New creates an idle coach that emits through emit.
func New(emit Emitter, cfg Config) *Coach {
	cfg = cfg.withDefaults()

	baseCtx, baseCancel := context.WithCancel(context.Background())
	sessionCtx, sessionCancel := context.WithCancel(baseCtx)

	return &Coach{
		cfg:           cfg,
		emit:          emit,
		evaluator:     trigger.NewEvaluator(cfg.Policy),
		logger:        cfg.Logger.With("component", "coach"),
		baseCtx:       baseCtx,
		baseCancel:    baseCancel,
		sessionCtx:    sessionCtx,
		sessionCancel: sessionCancel,
	}
}

// StartSession begins a new session, discarding any session in progress.
func (c *Coach) StartSession(mode trigger.Mode, song string) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.invalidateLocked()
	c.session = sessionState{
		active:  true,
		id:      c.cfg.NewID(),
		mode:    mode,
		song:    song,
		metrics: make([]motion.Sample, 0, 256),
		start:   c.cfg.Now(),
	}
	c.coaching.lastIssue = ""
	c.coaching.lastFeedbackTime = time.Time{}

	c.logger.Info("session started", "session_id", c.session.id, "mode", mode, "song", song)
	return nil
}

// OnFrame logs a sample and, when ready, evaluates triggers. It never blocks
// on enrichment.
func (c *Coach) OnFrame(sample *motion.Sample, ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.session.active || sample == nil {
		return
	}

	c.session.metrics = append(c.session.metrics, *sample)
	if !ready {
		return
	}

	result := c.evaluator.Evaluate(*sample, c.session.mode, c.session.metrics)
	if result == nil {
		return
	}

	now := c.cfg.Now()
	issueChanged := result.Issue != c.coaching.lastIssue
	cooldownPassed := now.Sub(c.coaching.lastFeedbackTime) > c.cfg.FeedbackCooldown
	if !issueChanged && !cooldownPassed {
		return
	}
	if c.coaching.feedbackBusy {
		return
	}

	if c.cfg.Enricher == nil {
		c.sendFeedbackLocked(result.Payload.Text, result)
		c.markFeedbackLocked(result.Issue, now)
		return
	}

	c.coaching.feedbackBusy = true
	gen := c.generation
	ctx := c.sessionCtx
	mode := c.session.mode
	s := *sample

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		text, err := c.cfg.Enricher.GenerateLiveFeedback(ctx, result.Detail, s, mode)

		c.mu.Lock()
		defer c.mu.Unlock()

		if gen != c.generation {
			return
		}
		c.coaching.feedbackBusy = false

		if err != nil {
			c.logger.Warn("live feedback enrichment failed, using fallback",
				"issue", result.Issue,
				"error", err,
			)
			text = result.Payload.Text
		}
		c.sendFeedbackLocked(text, result)
		c.markFeedbackLocked(result.Issue, now)
	}()
}

// EndSession summarizes the active session, persists it, emits the summary
// and resets. It is a no-op when no session is active.
func (c *Coach) EndSession(ctx context.Context) {
	c.mu.Lock()
	if !c.session.active {
		c.mu.Unlock()
		return
	}
	snap := c.session
	c.session.active = false
	c.invalidateLocked()
	gen := c.generation
	c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("session summary panicked", "session_id", snap.id, "panic", r)
			c.send(mustMessage(protocol.NewSummaryMessage(TextSummaryError, nil)))
		}
		c.resetAfterEnd(gen)
	}()

	end := c.cfg.Now()
	sum := summary.Summarize(snap.metrics, snap.start, end)

	if sum.NoData {
		c.logger.Info("session ended without data", "session_id", snap.id)
		c.send(mustMessage(protocol.NewSummaryMessage(TextNoData, nil)))
		return
	}

	if c.cfg.Recorder != nil {
		rec := store.NewRecord(snap.id, string(snap.mode), snap.song, sum, end)
		if err := c.cfg.Recorder.Save(ctx, rec); err != nil {
			c.logger.Error("failed to save session", "session_id", snap.id, "error", err)
		}
	}

	text := DeterministicSummary(sum)
	if c.cfg.Enricher != nil {
		enriched, err := c.cfg.Enricher.GenerateSummary(ctx, sum)
		if err != nil {
			c.logger.Warn("summary enrichment failed, using fallback", "session_id", snap.id, "error", err)
			text = TextSummaryFailure
		} else {
			text = enriched
		}
	}

	c.logger.Info("session ended",
		"session_id", snap.id,
		"samples", sum.Samples,
		"avg_bpm", sum.AvgBPM,
		"score", sum.Score,
	)
	c.send(mustMessage(protocol.NewSummaryMessage(text, &sum)))
}

// OnVoiceCommand answers a spoken question asynchronously. It works with or
// without an active session.
func (c *Coach) OnVoiceCommand(text string) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return
	}

	now := c.cfg.Now()
	if now.Before(c.coaching.voiceCooldownUntil) || c.coaching.voiceBusy {
		c.sendLocked(mustMessage(protocol.NewVoiceReplyMessage(TextVoiceCooldown)))
		c.mu.Unlock()
		return
	}
	c.coaching.voiceBusy = true
	ctx := c.baseCtx
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		answer, err := c.answer(ctx, text)

		c.mu.Lock()
		c.coaching.voiceBusy = false
		if c.closed {
			c.mu.Unlock()
			return
		}
		if err != nil {
			c.logger.Warn("voice answer failed, using fallback", "error", err)
			c.sendLocked(mustMessage(protocol.NewVoiceReplyMessage(TextVoiceFailure)))
			c.mu.Unlock()
			return
		}
		c.coaching.voiceCooldownUntil = now.Add(c.cfg.VoiceCooldown)
		c.sendLocked(mustMessage(protocol.NewVoiceReplyMessage(answer)))
		c.mu.Unlock()

		if c.cfg.Speaker == nil {
			return
		}
		audio, err := c.cfg.Speaker.Synthesize(ctx, answer)
		if err != nil {
			c.logger.Warn("speech synthesis failed", "error", err)
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.closed {
			c.sendLocked(mustMessage(protocol.NewVoiceAudioMessage(audio.Audio, string(audio.Format.Encoding))))
		}
	}()
}

func (c *Coach) answer(ctx context.Context, question string) (string, error) {
	if c.cfg.Enricher == nil {
		return "", errors.New("coach: no enricher configured")
	}
	return c.cfg.Enricher.AnswerQuestion(ctx, question)
}

// Close tears the coach down on disconnect. Outstanding calls are cancelled
// and their results dropped.
func (c *Coach) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.invalidateLocked()
	c.session = sessionState{}
	c.coaching = coachingState{}
	c.baseCancel()
}

// Wait blocks until all background enrichment calls have returned.
func (c *Coach) Wait() {
	c.wg.Wait()
}

// State returns a snapshot of the coach.
func (c *Coach) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Active:       c.session.active,
		SessionID:    c.session.id,
		Mode:         c.session.mode,
		Samples:      len(c.session.metrics),
		LastIssue:    c.coaching.lastIssue,
		FeedbackBusy: c.coaching.feedbackBusy,
		VoiceBusy:    c.coaching.voiceBusy,
	}
}

// DeterministicSummary is the summary text used without an enricher.
func DeterministicSummary(s summary.Summary) string {
	return fmt.Sprintf("Session complete. Avg BPM %.0f. Compression Count %d.", s.AvgBPM, s.CompressionCount)
}

// invalidateLocked starts a new generation: in-flight feedback is cancelled
// and its result will be dropped.
func (c *Coach) invalidateLocked() {
	c.generation++
	c.sessionCancel()
	c.sessionCtx, c.sessionCancel = context.WithCancel(c.baseCtx)
	c.coaching.feedbackBusy = false
}

// resetAfterEnd clears session and coaching state unless another session
// has started since EndSession began.
func (c *Coach) resetAfterEnd(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.closed {
		return
	}
	c.session = sessionState{}
	c.coaching.lastIssue = ""
	c.coaching.lastFeedbackTime = time.Time{}
	c.coaching.feedbackBusy = false
}

func (c *Coach) markFeedbackLocked(issue trigger.IssueID, at time.Time) {
	c.coaching.lastIssue = issue
	c.coaching.lastFeedbackTime = at
}

func (c *Coach) sendFeedbackLocked(text string, result *trigger.Result) {
	msg, err := protocol.NewFeedbackMessage(text, string(result.Payload.HighlightColor), result.Payload.DuckMusic)
	if err != nil {
		c.logger.Error("failed to build feedback", "error", err)
		return
	}
	c.sendLocked(msg)
}

func (c *Coach) send(msg *protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.sendLocked(msg)
	}
}

// sendLocked serializes outbound messages with state changes so a dropped
// generation can never emit after its replacement.
func (c *Coach) sendLocked(msg *protocol.Message) {
	if msg == nil || c.emit == nil {
		return
	}
	if err := c.emit.Send(msg); err != nil {
		c.logger.Warn("failed to send message", "type", msg.Type, "error", err)
	}
}

// mustMessage drops construction errors; every payload here is plain data.
func mustMessage(msg *protocol.Message, err error) *protocol.Message {
	if err != nil {
		return nil
	}
	return msg
}
