package core

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// executor.go - the workflow executor.
//
// The executor is a deterministic linear walker: it starts at workflow.start,
// renders and records each block, then follows the first next entry until a
// block has no successors. It never runs anything on the host; each visited
// block becomes one audit log entry and one trace step. Handlers registered
// with AddHandler receive every finished trace (the event bus uses this).
//
// Traversal stops early on:
//   - a next reference to an undefined block (UnknownBlockError)
//   - a block visited twice (CycleDetectedError)
//   - a missing parameter when the renderer is strict (MissingParameterError)
// In each case the partial trace is still returned alongside the error.
// ---------------------------------------------------------------------------

// Execution statuses.
const (
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// TraceStep records one visited block.
type TraceStep struct {
	Block       string `json:"block"`
	Description string `json:"description"`
	Command     string `json:"command"`
}

// ExecutionTrace is the ordered record of one playbook execution.
type ExecutionTrace struct {
	ID         string            `json:"id"`
	Playbook   string            `json:"playbook"`
	Params     map[string]string `json:"params,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Status     string            `json:"status"`
	Steps      []TraceStep       `json:"steps"`
	Error      string            `json:"error,omitempty"`
}

// Marshal serializes the trace to JSON.
func (t *ExecutionTrace) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// BlockIDs returns the visited block ids in order.
func (t *ExecutionTrace) BlockIDs() []string {
	ids := make([]string, len(t.Steps))
	for i, s := range t.Steps {
		ids[i] = s.Block
	}
	return ids
}

// TraceHandler is called with every finished trace.
type TraceHandler func(trace *ExecutionTrace)

// WorkflowExecutor runs playbooks from a PlaybookStore.
type WorkflowExecutor struct {
	store    *PlaybookStore
	renderer Renderer
	logger   zerolog.Logger

	mu       sync.RWMutex
	handlers []TraceHandler
}

// NewWorkflowExecutor creates an executor over store.
func NewWorkflowExecutor(logger zerolog.Logger, store *PlaybookStore, renderer Renderer) *WorkflowExecutor {
	return &WorkflowExecutor{
		store:    store,
		renderer: renderer,
		logger:   logger.With().Str("component", "workflow_executor").Logger(),
	}
}

// AddHandler registers a callback for finished traces.
func (we *WorkflowExecutor) AddHandler(h TraceHandler) {
	we.mu.Lock()
	we.handlers = append(we.handlers, h)
	we.mu.Unlock()
}

// Execute runs the named playbook with params. A *PlaybookNotFoundError is
// returned with a nil trace; traversal errors come back with the partial trace.
func (we *WorkflowExecutor) Execute(name string, params map[string]string) (*ExecutionTrace, error) {
	pb, ok := we.store.Get(name)
	if !ok {
		err := &PlaybookNotFoundError{Playbook: name}
		we.logger.Warn().Str("playbook", name).Msg("playbook not found")
		executionsTotal.WithLabelValues(name, "not_found").Inc()
		return nil, err
	}

	trace := &ExecutionTrace{
		ID:        uuid.New().String(),
		Playbook:  name,
		Params:    params,
		StartedAt: time.Now().UTC(),
		Steps:     make([]TraceStep, 0, len(pb.Workflow.Blocks)),
	}
	log := we.logger.With().Str("playbook", name).Str("execution_id", trace.ID).Logger()

	err := we.walk(pb, trace, params, log)

	trace.FinishedAt = time.Now().UTC()
	trace.Status = ExecutionCompleted
	if err != nil {
		trace.Status = ExecutionFailed
		trace.Error = err.Error()
		log.Error().Err(err).Int("steps", len(trace.Steps)).Msg("playbook halted")
	} else {
		log.Info().Int("steps", len(trace.Steps)).Msg("playbook completed")
	}

	executionsTotal.WithLabelValues(name, trace.Status).Inc()
	executionDuration.WithLabelValues(name).Observe(trace.FinishedAt.Sub(trace.StartedAt).Seconds())

	we.mu.RLock()
	handlers := we.handlers
	we.mu.RUnlock()
	for _, h := range handlers {
		h(trace)
	}

	return trace, err
}

func (we *WorkflowExecutor) walk(pb *Playbook, trace *ExecutionTrace, params map[string]string, log zerolog.Logger) error {
	visited := make(map[string]bool, len(pb.Workflow.Blocks))
	current, more := pb.Workflow.Start, true

	for more {
		if visited[current] {
			return &CycleDetectedError{Playbook: trace.Playbook, Block: current}
		}
		block, ok := pb.Workflow.Blocks[current]
		if !ok || block == nil {
			return &UnknownBlockError{Playbook: trace.Playbook, Block: current}
		}
		visited[current] = true

		command, err := we.renderer.Render(block.Command(), params)
		if err != nil {
			var missing *MissingParameterError
			if errors.As(err, &missing) {
				log.Warn().Str("block", current).Str("param", missing.Name).Msg("missing template parameter")
			}
			return err
		}

		trace.Steps = append(trace.Steps, TraceStep{
			Block:       current,
			Description: block.Description,
			Command:     command,
		})
		log.Info().
			Str("block", current).
			Str("description", block.Description).
			Str("command", command).
			Msg("executing block")

		current, more = block.Successor()
	}
	return nil
}

// Store returns the executor's playbook store.
func (we *WorkflowExecutor) Store() *PlaybookStore {
	return we.store
}
