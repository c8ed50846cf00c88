package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-cprcoach/internal/config"
	"github.com/teslashibe/go-cprcoach/pkg/coach"
	"github.com/teslashibe/go-cprcoach/pkg/motion"
	"github.com/teslashibe/go-cprcoach/pkg/protocol"
	"github.com/teslashibe/go-cprcoach/pkg/trigger"
)

// maxLineBytes bounds a single JSONL frame.
const maxLineBytes = 1 << 20

type replayOptions struct {
	mode        trigger.Mode
	song        string
	withMetrics bool
	cfg         config.Config
}

func newReplayCmd() *cobra.Command {
	var (
		mode        string
		song        string
		withMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "replay <frames.jsonl>",
		Short: "Run recorded landmark frames through the coaching pipeline",
		Long: `Replay a recorded session offline.

Each input line is one frame: {"ts": <unix ms>, "landmarks": [6 points]}.
Frames run through the motion engine, trigger evaluation and aggregation on
their own timestamps. Emitted messages are printed one JSON object per line,
ending with the session summary. Use "-" to read stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			return runReplay(cmd.Context(), in, cmd.OutOrStdout(), replayOptions{
				mode:        trigger.Mode(mode),
				song:        song,
				withMetrics: withMetrics,
				cfg:         cfg,
			})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(trigger.ModeTrain), "Session mode (train, test)")
	cmd.Flags().StringVar(&song, "song", "", "Metronome track id recorded with the session")
	cmd.Flags().BoolVar(&withMetrics, "metrics", false, "Also print the per-frame metrics sample")
	return cmd
}

// runReplay drives a coach with frame time as its clock. No enricher is
// attached, so every output is deterministic.
func runReplay(ctx context.Context, in io.Reader, out io.Writer, opts replayOptions) error {
	var now time.Time
	clock := func() time.Time { return now }

	enc := json.NewEncoder(out)
	var writeErr error
	emit := coach.EmitterFunc(func(msg *protocol.Message) error {
		// Replay output carries frame time, not wall time.
		msg.Timestamp = now.UnixMilli()
		if err := enc.Encode(msg); err != nil && writeErr == nil {
			writeErr = err
		}
		return writeErr
	})

	c := coach.New(emit, coach.Config{
		FeedbackCooldown: opts.cfg.FeedbackCooldown,
		VoiceCooldown:    opts.cfg.VoiceCooldown,
		Policy:           opts.cfg.Policy(),
		Now:              clock,
	})
	defer c.Close()

	engine := motion.NewEngine()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	started := false
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var frame protocol.LandmarksData
		if err := json.Unmarshal(raw, &frame); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if frame.Timestamp <= 0 {
			return fmt.Errorf("line %d: missing ts", line)
		}
		now = time.UnixMilli(frame.Timestamp)

		if !started {
			if err := c.StartSession(opts.mode, opts.song); err != nil {
				return err
			}
			started = true
		}

		sample := engine.ProcessFrameAt(frame.Landmarks, now)
		if sample == nil {
			continue
		}
		if opts.withMetrics {
			if msg, err := protocol.NewMetricsMessage(sample, engine.Started()); err == nil {
				_ = emit.Send(msg)
			}
		}
		c.OnFrame(sample, engine.Started())

		if writeErr != nil {
			return writeErr
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if !started {
		if err := c.StartSession(opts.mode, opts.song); err != nil {
			return err
		}
	}
	c.EndSession(ctx)
	return writeErr
}
