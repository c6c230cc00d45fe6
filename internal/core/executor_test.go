package core

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Traversal ───────────────────────────────────────────────────────────────

func TestExecute_LinearWalk(t *testing.T) {
	ex := testExecutor(t, mitigationStore(t))

	trace, err := ex.Execute("response", map[string]string{"host": "10.0.0.5"})
	require.NoError(t, err)
	require.NotNil(t, trace)

	assert.Equal(t, []string{"isolate", "capture"}, trace.BlockIDs())
	assert.Equal(t, "isolate 10.0.0.5", trace.Steps[0].Command)
	assert.Equal(t, "capture-memory 10.0.0.5", trace.Steps[1].Command)
	assert.Equal(t, ExecutionCompleted, trace.Status)
	assert.Empty(t, trace.Error)
	assert.NotEmpty(t, trace.ID)
	assert.False(t, trace.FinishedAt.Before(trace.StartedAt))
}

func TestExecute_SingleBlock(t *testing.T) {
	ex := testExecutor(t, mitigationStore(t))

	trace, err := ex.Execute("recovery", map[string]string{"host": "db-01"})
	require.NoError(t, err)
	assert.Equal(t, []string{"restore"}, trace.BlockIDs())
	assert.Equal(t, "restore db-01", trace.Steps[0].Command)
}

func TestExecute_FollowsOnlyFirstNext(t *testing.T) {
	store := testStore(t, map[string]*Playbook{
		"branch": playbook("a", map[string]*Block{
			"a": block("a", "b", "c"),
			"b": block("b"),
			"c": block("c"),
		}),
	})

	trace, err := testExecutor(t, store).Execute("branch", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, trace.BlockIDs())
}

func TestExecute_EmptyNextIDIsTerminal(t *testing.T) {
	store := testStore(t, map[string]*Playbook{
		"p": playbook("a", map[string]*Block{"a": block("a", "")}),
	})

	trace, err := testExecutor(t, store).Execute("p", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, trace.BlockIDs())
}

func TestExecute_StartBlockIsFirstStep(t *testing.T) {
	// Map order must not leak into traversal order.
	store := testStore(t, map[string]*Playbook{
		"p": playbook("m", map[string]*Block{
			"a": block("a"),
			"z": block("z", "a"),
			"m": block("m", "z"),
		}),
	})

	for i := 0; i < 20; i++ {
		trace, err := testExecutor(t, store).Execute("p", nil)
		require.NoError(t, err)
		require.Equal(t, []string{"m", "z", "a"}, trace.BlockIDs())
	}
}

// ─── Failures ────────────────────────────────────────────────────────────────

func TestExecute_PlaybookNotFound(t *testing.T) {
	ex := testExecutor(t, mitigationStore(t))

	trace, err := ex.Execute("containment", nil)
	assert.Nil(t, trace)

	var nf *PlaybookNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "containment", nf.Playbook)
}

func TestExecute_UnknownBlockKeepsPartialTrace(t *testing.T) {
	store := testStore(t, map[string]*Playbook{
		"p": playbook("a", map[string]*Block{
			"a": block("a", "b"),
			"b": block("b", "ghost"),
		}),
	})

	trace, err := testExecutor(t, store).Execute("p", nil)

	var ub *UnknownBlockError
	require.True(t, errors.As(err, &ub))
	assert.Equal(t, "ghost", ub.Block)
	assert.Equal(t, "p", ub.Playbook)

	require.NotNil(t, trace)
	assert.Equal(t, []string{"a", "b"}, trace.BlockIDs())
	assert.Equal(t, ExecutionFailed, trace.Status)
	assert.Equal(t, err.Error(), trace.Error)
}

func TestExecute_CycleDetected(t *testing.T) {
	store := testStore(t, map[string]*Playbook{
		"loop": playbook("a", map[string]*Block{
			"a": block("a", "b"),
			"b": block("b", "a"),
		}),
	})

	trace, err := testExecutor(t, store).Execute("loop", nil)

	var cyc *CycleDetectedError
	require.True(t, errors.As(err, &cyc))
	assert.Equal(t, "a", cyc.Block)
	assert.Equal(t, []string{"a", "b"}, trace.BlockIDs())
}

func TestExecute_SelfLoop(t *testing.T) {
	store := testStore(t, map[string]*Playbook{
		"self": playbook("a", map[string]*Block{"a": block("a", "a")}),
	})

	trace, err := testExecutor(t, store).Execute("self", nil)

	var cyc *CycleDetectedError
	require.True(t, errors.As(err, &cyc))
	assert.Equal(t, []string{"a"}, trace.BlockIDs())
}

func TestExecute_StrictRendererMissingParam(t *testing.T) {
	ex := NewWorkflowExecutor(zerolog.Nop(), mitigationStore(t), Renderer{Strict: true})

	trace, err := ex.Execute("response", nil)

	var missing *MissingParameterError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "host", missing.Name)
	assert.Empty(t, trace.Steps)
	assert.Equal(t, ExecutionFailed, trace.Status)
}

// ─── Logging and handlers ────────────────────────────────────────────────────

func TestExecute_LogsOneEntryPerBlock(t *testing.T) {
	var buf bytes.Buffer
	ex := NewWorkflowExecutor(zerolog.New(&buf), mitigationStore(t), Renderer{})

	_, err := ex.Execute("response", map[string]string{"host": "10.0.0.5"})
	require.NoError(t, err)

	var blocks, commands []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		if line["message"] != "executing block" {
			continue
		}
		assert.Equal(t, "workflow_executor", line["component"])
		assert.Equal(t, "response", line["playbook"])
		blocks = append(blocks, line["block"].(string))
		commands = append(commands, line["command"].(string))
	}

	assert.Equal(t, []string{"isolate", "capture"}, blocks)
	assert.Equal(t, []string{"isolate 10.0.0.5", "capture-memory 10.0.0.5"}, commands)
}

func TestExecute_HandlersReceiveTraces(t *testing.T) {
	ex := testExecutor(t, mitigationStore(t))

	var mu sync.Mutex
	var got []*ExecutionTrace
	ex.AddHandler(func(trace *ExecutionTrace) {
		mu.Lock()
		got = append(got, trace)
		mu.Unlock()
	})

	_, _ = ex.Execute("recovery", map[string]string{"host": "h"})
	_, _ = ex.Execute("containment", nil)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1, "not-found executions produce no trace")
	assert.Equal(t, "recovery", got[0].Playbook)
}

func TestExecute_Concurrent(t *testing.T) {
	ex := testExecutor(t, mitigationStore(t))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trace, err := ex.Execute("response", map[string]string{"host": "h"})
			assert.NoError(t, err)
			assert.Len(t, trace.Steps, 2)
		}()
	}
	wg.Wait()
}

func TestExecutionTrace_Marshal(t *testing.T) {
	trace, err := testExecutor(t, mitigationStore(t)).Execute("recovery", map[string]string{"host": "h"})
	require.NoError(t, err)

	data, err := trace.Marshal()
	require.NoError(t, err)

	var decoded ExecutionTrace
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, trace.ID, decoded.ID)
	assert.Equal(t, trace.BlockIDs(), decoded.BlockIDs())
}
