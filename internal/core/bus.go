package core

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Bus subjects. Traces and dispatch results go out on the ACT_TRACES stream;
// alerts published by asynchronous sources come in on ACT_ALERTS.
const (
	SubjectTraces   = "act.traces"
	SubjectDispatch = "act.dispatch"
	SubjectAlerts   = "act.alerts"

	alertsDurable = "act-engine-alerts"
)

// EventBus wraps NATS JetStream for trace publication and alert intake.
type EventBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	ns     *server.Server
	logger zerolog.Logger
	mu     sync.RWMutex
	subs   []*nats.Subscription

	metrics *BusMetrics
}

// BusMetrics tracks event bus counters.
type BusMetrics struct {
	mu                sync.Mutex `json:"-"`
	TracesPublished   int64      `json:"traces_published"`
	DispatchPublished int64      `json:"dispatch_published"`
	PublishFailed     int64      `json:"publish_failed"`
	AlertsReceived    int64      `json:"alerts_received"`
	AlertsRejected    int64      `json:"alerts_rejected"`
}

// NewEventBus connects to NATS. If cfg.Embedded is true it first starts an
// embedded server; a Port of -1 picks a random free port.
func NewEventBus(cfg *BusConfig, logger zerolog.Logger) (*EventBus, error) {
	bus := &EventBus{
		logger:  logger.With().Str("component", "event_bus").Logger(),
		subs:    make([]*nats.Subscription, 0),
		metrics: &BusMetrics{},
	}

	url := cfg.URL
	if cfg.Embedded {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating NATS data dir: %w", err)
		}

		ns, err := server.NewServer(&server.Options{
			Host:      "127.0.0.1",
			Port:      cfg.Port,
			JetStream: true,
			StoreDir:  cfg.DataDir,
			NoLog:     true,
			NoSigs:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedded NATS server: %w", err)
		}
		ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
		}

		bus.ns = ns
		url = ns.ClientURL()
		bus.logger.Info().Str("url", url).Msg("embedded NATS server started")
	}

	nc, err := nats.Connect(url,
		nats.Name("act"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			bus.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	bus.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	bus.js = js

	streams := []*nats.StreamConfig{
		{
			Name:      "ACT_TRACES",
			Subjects:  []string{SubjectTraces + ".>", SubjectDispatch + ".>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour * 7,
			MaxBytes:  256 * 1024 * 1024,
			Storage:   nats.FileStorage,
			Discard:   nats.DiscardOld,
		},
		{
			Name:      "ACT_ALERTS",
			Subjects:  []string{SubjectAlerts + ".>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour,
			MaxBytes:  64 * 1024 * 1024,
			Storage:   nats.FileStorage,
			Discard:   nats.DiscardOld,
		},
	}
	for _, sc := range streams {
		if _, err := js.AddStream(sc); err != nil {
			// Stream may exist with a different config from an older version.
			if _, updateErr := js.UpdateStream(sc); updateErr != nil {
				bus.Close()
				return nil, fmt.Errorf("creating/updating stream %s: %w (original: %v)", sc.Name, updateErr, err)
			}
		}
	}

	bus.logger.Info().Str("url", url).Msg("connected to NATS JetStream")
	return bus, nil
}

// subjectToken makes s safe to use as a single NATS subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}

// PublishTrace publishes an execution trace on act.traces.<playbook>.
func (b *EventBus) PublishTrace(trace *ExecutionTrace) error {
	data, err := trace.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling trace: %w", err)
	}
	subject := SubjectTraces + "." + subjectToken(trace.Playbook)
	if err := b.publish(subject, data); err != nil {
		return err
	}

	b.metrics.mu.Lock()
	b.metrics.TracesPublished++
	b.metrics.mu.Unlock()

	b.logger.Debug().Str("execution_id", trace.ID).Str("subject", subject).Msg("trace published")
	return nil
}

// PublishDispatch publishes a dispatch result on act.dispatch.<mitigation>.
func (b *EventBus) PublishDispatch(result *DispatchResult) error {
	data, err := result.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling dispatch result: %w", err)
	}
	subject := SubjectDispatch + "." + subjectToken(result.Mitigation)
	if err := b.publish(subject, data); err != nil {
		return err
	}

	b.metrics.mu.Lock()
	b.metrics.DispatchPublished++
	b.metrics.mu.Unlock()
	return nil
}

func (b *EventBus) publish(subject string, data []byte) error {
	if _, err := b.js.Publish(subject, data); err != nil {
		b.metrics.mu.Lock()
		b.metrics.PublishFailed++
		b.metrics.mu.Unlock()
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Subscribe creates a durable subscription to a subject pattern.
func (b *EventBus) Subscribe(subject, durableName string, handler func(msg *nats.Msg)) error {
	opts := []nats.SubOpt{nats.DeliverNew(), nats.AckExplicit()}
	if durableName != "" {
		opts = append(opts, nats.Durable(durableName))
	}
	sub, err := b.js.Subscribe(subject, handler, opts...)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Debug().Str("subject", subject).Str("durable", durableName).Msg("subscribed")
	return nil
}

// SubscribeToAlerts delivers every alert published on act.alerts.> to handler.
// Undecodable messages are terminated so they are not redelivered.
func (b *EventBus) SubscribeToAlerts(handler func(event *AlertEvent)) error {
	return b.Subscribe(SubjectAlerts+".>", alertsDurable, func(msg *nats.Msg) {
		event, err := UnmarshalAlertEvent(msg.Data)
		if err != nil {
			b.logger.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal alert")
			_ = msg.Term()
			b.metrics.mu.Lock()
			b.metrics.AlertsRejected++
			b.metrics.mu.Unlock()
			return
		}
		handler(event)
		_ = msg.Ack()
		b.metrics.mu.Lock()
		b.metrics.AlertsReceived++
		b.metrics.mu.Unlock()
	})
}

// PublishAlert publishes an alert for asynchronous dispatch on act.alerts.<source>.
func (b *EventBus) PublishAlert(event *AlertEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}
	return b.publish(SubjectAlerts+"."+subjectToken(event.Source), data)
}

// Close shuts down the event bus.
func (b *EventBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if b.nc != nil {
		b.nc.Close()
	}

	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
		b.logger.Info().Msg("embedded NATS server stopped")
	}

	return nil
}

// IsConnected returns true if the NATS connection is active.
func (b *EventBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

// Conn returns the underlying NATS connection.
func (b *EventBus) Conn() *nats.Conn {
	return b.nc
}

// GetMetrics returns a snapshot of bus metrics.
func (b *EventBus) GetMetrics() map[string]int64 {
	b.metrics.mu.Lock()
	defer b.metrics.mu.Unlock()
	return map[string]int64{
		"traces_published":   b.metrics.TracesPublished,
		"dispatch_published": b.metrics.DispatchPublished,
		"publish_failed":     b.metrics.PublishFailed,
		"alerts_received":    b.metrics.AlertsReceived,
		"alerts_rejected":    b.metrics.AlertsRejected,
	}
}
