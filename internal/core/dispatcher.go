package core

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// dispatcher.go - mitigation dispatch.
//
// Resolution order for an event:
//  1. the event's own mitigation field
//  2. the recommender's answer
//  3. "monitor", when the recommender is absent or fails
//
// The resolved name is then mapped onto a Mitigation kind; a name with no
// kind runs the monitor action. Nothing in here returns an error to the
// caller: every internal failure degrades to monitor or is logged.
// ---------------------------------------------------------------------------

// DispatchHandler is called with every dispatch result.
type DispatchHandler func(event AlertEvent, result *DispatchResult)

// Dispatcher resolves mitigations and runs the matching playbook.
type Dispatcher struct {
	executor    *WorkflowExecutor
	recommender Recommender
	logger      zerolog.Logger

	mu       sync.RWMutex
	handlers []DispatchHandler
}

// NewDispatcher creates a dispatcher. recommender may be nil, in which case
// events without an explicit mitigation resolve to monitor.
func NewDispatcher(logger zerolog.Logger, executor *WorkflowExecutor, recommender Recommender) *Dispatcher {
	return &Dispatcher{
		executor:    executor,
		recommender: recommender,
		logger:      logger.With().Str("component", "dispatcher").Logger(),
	}
}

// AddHandler registers a callback for dispatch results.
func (d *Dispatcher) AddHandler(h DispatchHandler) {
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

// Dispatch resolves and applies a mitigation for event.
func (d *Dispatcher) Dispatch(ctx context.Context, event AlertEvent) *DispatchResult {
	name := d.resolve(ctx, event)

	kind, known := ParseMitigation(name)
	if !known {
		d.logger.Warn().Str("mitigation", name).Str("target", event.Target).Msg("no action mapped for mitigation, monitoring instead")
	}

	result := &DispatchResult{
		Mitigation: name,
		Target:     event.Target,
	}
	if pb := kind.Playbook(); pb != "" {
		result.Playbook = &pb
	}
	result.Trace = d.apply(kind, event.Target)

	label := kind.String()
	if !known {
		label = unmappedMitigationLabel
	}
	dispatchTotal.WithLabelValues(label).Inc()

	entry := d.logger.Info().
		Str("mitigation", name).
		Str("target", event.Target).
		Str("source", event.Source).
		Str("severity", event.Severity.Label()).
		Str("playbook", result.PlaybookName())
	if result.Trace != nil {
		entry = entry.Strs("blocks", result.Trace.BlockIDs())
	}
	entry.Msg("mitigation applied")

	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()
	for _, h := range handlers {
		h(event, result)
	}

	return result
}

func (d *Dispatcher) resolve(ctx context.Context, event AlertEvent) string {
	if event.Mitigation != "" {
		return event.Mitigation
	}
	if d.recommender == nil {
		d.logger.Debug().Str("target", event.Target).Msg("no recommender configured")
		return DefaultMitigation.String()
	}

	name, err := d.recommender.Recommend(ctx, event)
	if err != nil {
		recommenderFailures.Inc()
		var unavailable *RecommenderUnavailableError
		if errors.As(err, &unavailable) {
			d.logger.Warn().Err(unavailable.Err).Str("url", unavailable.URL).Msg("recommender unavailable, falling back to monitor")
		} else {
			d.logger.Warn().Err(err).Msg("recommender failed, falling back to monitor")
		}
		return DefaultMitigation.String()
	}
	return name
}

// apply runs the action for kind. Playbook failures are logged and absorbed.
func (d *Dispatcher) apply(kind Mitigation, target string) *ExecutionTrace {
	switch kind {
	case MitigationResponse, MitigationElimination, MitigationRecovery:
		trace, err := d.executor.Execute(kind.Playbook(), map[string]string{"host": target})
		if err != nil {
			d.logger.Error().Err(err).Str("playbook", kind.Playbook()).Str("target", target).Msg("playbook execution failed")
		}
		return trace
	case MitigationMonitor:
		d.logger.Info().Str("target", target).Msg("monitoring target")
		return nil
	default:
		d.logger.Error().Int("kind", int(kind)).Msg("unhandled mitigation kind")
		return nil
	}
}
