package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// ─── Fixtures ────────────────────────────────────────────────────────────────

const responsePlaybookJSON = `{
  "type": "playbook",
  "spec_version": "cacao-2.0",
  "id": "playbook--response",
  "name": "Response",
  "description": "Isolate and capture the target host",
  "playbook_types": ["mitigation"],
  "workflow": {
    "start": "isolate",
    "blocks": {
      "isolate": {
        "type": "action",
        "description": "Isolate host",
        "action": {"command": "isolate {{host}}"},
        "next": ["capture"]
      },
      "capture": {
        "type": "action",
        "description": "Capture memory",
        "action": {"command": "capture-memory --host {{ host }}"}
      }
    }
  }
}`

const recoveryPlaybookYAML = `type: playbook
spec_version: cacao-2.0
id: playbook--recovery
name: Recovery
description: Restore the target host
playbook_types: [recovery]
workflow:
  start: restore
  blocks:
    restore:
      type: action
      description: Restore from snapshot
      action:
        command: restore {{host}}
`

// block builds an action block with the given command and successors.
func block(command string, next ...string) *Block {
	return &Block{
		Type:        "action",
		Description: "step " + command,
		Action:      &BlockAction{Command: command},
		Next:        next,
	}
}

// playbook builds a valid playbook document around blocks.
func playbook(start string, blocks map[string]*Block) *Playbook {
	return &Playbook{
		Type:          "playbook",
		SpecVersion:   "cacao-2.0",
		ID:            "playbook--test",
		Name:          "Test",
		Description:   "test playbook",
		PlaybookTypes: []string{"mitigation"},
		Workflow:      Workflow{Start: start, Blocks: blocks},
	}
}

// writeFile writes content to dir/name.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// testStore builds a store from in-memory playbooks.
func testStore(t *testing.T, playbooks map[string]*Playbook) *PlaybookStore {
	t.Helper()
	store, err := NewPlaybookStore(playbooks)
	require.NoError(t, err)
	return store
}

// mitigationStore holds a two-block response playbook and single-block
// elimination and recovery playbooks.
func mitigationStore(t *testing.T) *PlaybookStore {
	return testStore(t, map[string]*Playbook{
		"response": playbook("isolate", map[string]*Block{
			"isolate": block("isolate {{host}}", "capture"),
			"capture": block("capture-memory {{host}}"),
		}),
		"elimination": playbook("kill", map[string]*Block{
			"kill": block("kill-process --host {{host}}"),
		}),
		"recovery": playbook("restore", map[string]*Block{
			"restore": block("restore {{host}}"),
		}),
	})
}

func testExecutor(t *testing.T, store *PlaybookStore) *WorkflowExecutor {
	return NewWorkflowExecutor(zerolog.Nop(), store, Renderer{})
}
