package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-cprcoach/internal/config"
	"github.com/teslashibe/go-cprcoach/internal/log"
	"github.com/teslashibe/go-cprcoach/pkg/coach"
	"github.com/teslashibe/go-cprcoach/pkg/gateway"
	"github.com/teslashibe/go-cprcoach/pkg/inference"
	"github.com/teslashibe/go-cprcoach/pkg/instructor"
	"github.com/teslashibe/go-cprcoach/pkg/store"
	"github.com/teslashibe/go-cprcoach/pkg/tts"
	"github.com/teslashibe/go-cprcoach/pkg/web"
)

func newServeCmd() *cobra.Command {
	var (
		port      string
		dbPath    string
		logLevel  string
		accessLog bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coaching server",
		Long: `Run the WebSocket coaching server.

Configuration is read from the environment (PORT, CPR_DB_PATH, OPENAI_API_KEY,
ELEVENLABS_API_KEY, ...). Flags override the environment. Without API keys the
server coaches with deterministic text and no speech.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Port = port
			}
			if flags.Changed("db") {
				cfg.DBPath = dbPath
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, accessLog)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", config.DefaultPort, "HTTP server port")
	cmd.Flags().StringVar(&dbPath, "db", config.DefaultDBPath, "SQLite database path")
	cmd.Flags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&accessLog, "access-log", false, "Log every HTTP request")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, accessLog bool) error {
	log.Init(cfg.LogLevel)
	logger := log.Component("serve")

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	coachCfg, err := buildCoachConfig(cfg, st, log.L())
	if err != nil {
		return err
	}
	if c, ok := coachCfg.Speaker.(interface{ Close() error }); ok {
		defer c.Close()
	}

	hub := gateway.NewHub(gateway.Config{Coach: coachCfg, Logger: log.L()})
	srv := web.NewServer(web.Config{
		Version:   version,
		Hub:       hub,
		Sessions:  st,
		AccessLog: accessLog,
		Logger:    log.L(),
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(":" + cfg.Port)
	}()

	logger.Info("cprcoach started",
		"version", version,
		"port", cfg.Port,
		"db", cfg.DBPath,
		"enrichment", coachCfg.Enricher != nil,
		"speech", coachCfg.Speaker != nil,
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), web.DefaultShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildCoachConfig wires the collaborators the configuration enables.
func buildCoachConfig(cfg config.Config, recorder coach.Recorder, logger *slog.Logger) (coach.Config, error) {
	cc := coach.DefaultConfig()
	cc.FeedbackCooldown = cfg.FeedbackCooldown
	cc.VoiceCooldown = cfg.VoiceCooldown
	cc.Policy = cfg.Policy()
	cc.Recorder = recorder
	cc.Logger = logger

	if cfg.EnrichmentEnabled() {
		provider, err := newInferenceProvider(cfg, logger)
		if err != nil {
			return cc, err
		}
		cc.Enricher = instructor.New(provider, instructor.WithLogger(logger))
	} else {
		logger.Warn("no language model configured, using deterministic coaching text")
	}

	if cfg.SpeechEnabled() {
		opts := []tts.Option{tts.WithAPIKey(cfg.ElevenLabsKey), tts.WithLogger(logger)}
		if cfg.VoiceID != "" {
			opts = append(opts, tts.WithVoice(cfg.VoiceID))
		}
		if cfg.TTSModel != "" {
			opts = append(opts, tts.WithModel(cfg.TTSModel))
		}
		speaker, err := tts.NewElevenLabs(opts...)
		if err != nil {
			return cc, err
		}
		cc.Speaker = speaker
	} else {
		logger.Warn("no speech provider configured, voice replies are text only")
	}

	return cc, cc.Validate()
}

// newInferenceProvider returns the primary client, chained with the fallback
// endpoint when one is configured.
func newInferenceProvider(cfg config.Config, logger *slog.Logger) (inference.Provider, error) {
	var providers []inference.Provider

	if cfg.OpenAIKey != "" {
		opts := []inference.Option{inference.WithAPIKey(cfg.OpenAIKey), inference.WithLogger(logger)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, inference.WithBaseURL(cfg.OpenAIBaseURL))
		}
		if cfg.OpenAIModel != "" {
			opts = append(opts, inference.WithModel(cfg.OpenAIModel))
		}
		primary, err := inference.NewClient(opts...)
		if err != nil {
			return nil, err
		}
		providers = append(providers, primary)
	}

	if cfg.FallbackBaseURL != "" {
		opts := []inference.Option{
			inference.WithBaseURL(cfg.FallbackBaseURL),
			inference.WithLogger(logger.With("provider", "fallback")),
		}
		if cfg.FallbackModel != "" {
			opts = append(opts, inference.WithModel(cfg.FallbackModel))
		}
		fallback, err := inference.NewClient(opts...)
		if err != nil {
			return nil, err
		}
		providers = append(providers, fallback)
	}

	switch len(providers) {
	case 0:
		return nil, errors.New("no inference provider configured")
	case 1:
		return providers[0], nil
	default:
		return inference.NewChainWithLogger(logger, providers...)
	}
}
