package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Engine wires the playbook store, executor, dispatcher and ack set, and
// owns the optional event bus. Request handlers get everything through it;
// there is no package-level state.
type Engine struct {
	Config     *Config
	Store      *PlaybookStore
	Executor   *WorkflowExecutor
	Dispatcher *Dispatcher
	Acks       *AckSet
	Bus        *EventBus
	Logs       *LogRingBuffer
	Logger     zerolog.Logger
	StartedAt  time.Time
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewLogger builds the root logger from cfg. Output goes to out in the
// configured format; when buffer is non-nil it also receives every event as JSON.
func NewLogger(cfg LoggingConfig, out io.Writer, buffer *LogRingBuffer) zerolog.Logger {
	var w io.Writer = out
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	if buffer != nil {
		w = zerolog.MultiLevelWriter(w, buffer)
	}
	logger := zerolog.New(w).With().Timestamp().Logger()

	switch cfg.Level {
	case "debug":
		return logger.Level(zerolog.DebugLevel)
	case "warn":
		return logger.Level(zerolog.WarnLevel)
	case "error":
		return logger.Level(zerolog.ErrorLevel)
	default:
		return logger.Level(zerolog.InfoLevel)
	}
}

// NewEngine creates an engine logging to stdout.
func NewEngine(cfg *Config) (*Engine, error) {
	return NewEngineWithOutput(cfg, os.Stdout)
}

// NewEngineWithOutput creates an engine whose logs are written to out. The
// playbook store is loaded here; a missing playbook directory is fatal.
func NewEngineWithOutput(cfg *Config, out io.Writer) (*Engine, error) {
	logs := NewLogRingBuffer(cfg.Logging.BufferSize)
	logCfg := cfg.Logging
	logCfg.Level = cfg.LogLevel()
	logger := NewLogger(logCfg, out, logs)

	store, err := LoadPlaybookStore(cfg.Playbooks.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("loading playbooks: %w", err)
	}

	var recommender Recommender
	if cfg.Recommender.URL != "" {
		recommender = NewHTTPRecommender(cfg.Recommender.URL, cfg.Recommender.Timeout)
	}

	executor := NewWorkflowExecutor(logger, store, Renderer{Strict: cfg.Playbooks.StrictParams})
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		Config:     cfg,
		Store:      store,
		Executor:   executor,
		Dispatcher: NewDispatcher(logger, executor, recommender),
		Acks:       NewAckSet(logger),
		Logs:       logs,
		Logger:     logger.With().Str("component", "engine").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start connects the event bus when enabled and begins consuming bus alerts.
func (e *Engine) Start() error {
	e.Logger.Info().
		Int("playbooks", e.Store.Count()).
		Str("recommender", e.Config.Recommender.URL).
		Msg("starting act engine")
	e.StartedAt = time.Now().UTC()

	if !e.Config.Bus.Enabled {
		return nil
	}

	bus, err := NewEventBus(&e.Config.Bus, e.Logger)
	if err != nil {
		return fmt.Errorf("starting event bus: %w", err)
	}
	e.Bus = bus

	e.Executor.AddHandler(func(trace *ExecutionTrace) {
		if err := bus.PublishTrace(trace); err != nil {
			e.Logger.Error().Err(err).Str("execution_id", trace.ID).Msg("failed to publish trace")
		}
	})
	e.Dispatcher.AddHandler(func(_ AlertEvent, result *DispatchResult) {
		if err := bus.PublishDispatch(result); err != nil {
			e.Logger.Error().Err(err).Str("mitigation", result.Mitigation).Msg("failed to publish dispatch result")
		}
	})

	if err := bus.SubscribeToAlerts(func(event *AlertEvent) {
		e.ReceiveAlert(e.ctx, *event)
	}); err != nil {
		return fmt.Errorf("subscribing to alerts: %w", err)
	}

	e.Logger.Info().Msg("event bus connected")
	return nil
}

// Submit dispatches an event and returns the summary.
func (e *Engine) Submit(ctx context.Context, event AlertEvent) *DispatchResult {
	return e.Dispatcher.Dispatch(ctx, event)
}

// ReceiveAlert dispatches an event from an asynchronous alert source and
// tags the result as received.
func (e *Engine) ReceiveAlert(ctx context.Context, event AlertEvent) *DispatchResult {
	result := e.Dispatcher.Dispatch(ctx, event)
	result.Status = "received"
	return result
}

// Acknowledge records an analyst acknowledgement.
func (e *Engine) Acknowledge(alertID, analyst string) (*Acknowledgement, error) {
	return e.Acks.Acknowledge(alertID, analyst)
}

// Run starts the engine and blocks until a shutdown signal is received.
func (e *Engine) Run() error {
	if err := e.Start(); err != nil {
		return err
	}
	return e.Wait()
}

// Wait blocks until SIGINT/SIGTERM or Shutdown, then shuts down.
func (e *Engine) Wait() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		e.Logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-e.ctx.Done():
		e.Logger.Info().Msg("context cancelled")
	}

	return e.Shutdown()
}

// Shutdown stops the engine.
func (e *Engine) Shutdown() error {
	e.Logger.Info().Msg("shutting down act engine")
	e.cancel()

	if e.Bus != nil {
		if err := e.Bus.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing event bus")
		}
	}

	e.Logger.Info().Msg("act engine stopped")
	return nil
}

// Context returns the engine's context.
func (e *Engine) Context() context.Context {
	return e.ctx
}

// Uptime returns the time since Start.
func (e *Engine) Uptime() time.Duration {
	if e.StartedAt.IsZero() {
		return 0
	}
	return time.Since(e.StartedAt)
}
