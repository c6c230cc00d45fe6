package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── ValidatePlaybook ────────────────────────────────────────────────────────

func TestValidatePlaybook_Valid(t *testing.T) {
	pb := playbook("a", map[string]*Block{"a": block("echo {{host}}")})
	assert.NoError(t, ValidatePlaybook(pb))
}

func TestValidatePlaybook_Nil(t *testing.T) {
	var verr *ValidationError
	require.True(t, errors.As(ValidatePlaybook(nil), &verr))
}

func TestValidatePlaybook_MissingTopLevelKey(t *testing.T) {
	pb := playbook("a", map[string]*Block{"a": block("x")})
	pb.SpecVersion = ""

	var verr *ValidationError
	require.True(t, errors.As(ValidatePlaybook(pb), &verr))
	assert.Equal(t, "spec_version", verr.Field)
}

func TestValidatePlaybook_MissingStart(t *testing.T) {
	pb := playbook("", map[string]*Block{"a": block("x")})

	var verr *ValidationError
	require.True(t, errors.As(ValidatePlaybook(pb), &verr))
	assert.Equal(t, "workflow.start", verr.Field)
}

func TestValidatePlaybook_StartNotInBlocks(t *testing.T) {
	pb := playbook("missing", map[string]*Block{"a": block("x")})

	var verr *ValidationError
	require.True(t, errors.As(ValidatePlaybook(pb), &verr))
	assert.Equal(t, "workflow.start", verr.Field)
	assert.Contains(t, verr.Message, `"missing"`)
}

func TestValidatePlaybook_BlockWithoutAction(t *testing.T) {
	pb := playbook("a", map[string]*Block{
		"a": {Type: "action", Description: "no action"},
	})

	var verr *ValidationError
	require.True(t, errors.As(ValidatePlaybook(pb), &verr))
	assert.Contains(t, verr.Field, "action")
}

func TestValidatePlaybook_NilBlock(t *testing.T) {
	pb := playbook("a", map[string]*Block{"a": block("x"), "b": nil})
	assert.Error(t, ValidatePlaybook(pb))
}

func TestValidatePlaybook_UndefinedNextIsNotAnError(t *testing.T) {
	pb := playbook("a", map[string]*Block{"a": block("x", "ghost")})
	assert.NoError(t, ValidatePlaybook(pb))
}

// ─── LintPlaybook ────────────────────────────────────────────────────────────

func TestLintPlaybook_Clean(t *testing.T) {
	pb := playbook("a", map[string]*Block{
		"a": block("x", "b"),
		"b": block("y"),
	})
	assert.Empty(t, LintPlaybook(pb))
}

func TestLintPlaybook_UndefinedNext(t *testing.T) {
	pb := playbook("a", map[string]*Block{"a": block("x", "ghost")})

	warnings := LintPlaybook(pb)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], `"ghost"`)
}

func TestLintPlaybook_MultipleNext(t *testing.T) {
	pb := playbook("a", map[string]*Block{
		"a": block("x", "b", "c"),
		"b": block("y"),
		"c": block("z"),
	})

	warnings := LintPlaybook(pb)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "only \"b\" is followed")
}

func TestLintPlaybook_Cycle(t *testing.T) {
	pb := playbook("a", map[string]*Block{
		"a": block("x", "b"),
		"b": block("y", "a"),
	})

	warnings := LintPlaybook(pb)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "cycle")
}

func TestLintPlaybook_CycleOffTraversalPathIgnored(t *testing.T) {
	pb := playbook("a", map[string]*Block{
		"a": block("x"),
		"b": block("y", "c"),
		"c": block("z", "b"),
	})
	assert.Empty(t, LintPlaybook(pb))
}

// ─── Block ───────────────────────────────────────────────────────────────────

func TestBlock_Successor(t *testing.T) {
	tests := []struct {
		name     string
		next     []string
		wantID   string
		wantMore bool
	}{
		{"no next", nil, "", false},
		{"empty list", []string{}, "", false},
		{"empty id", []string{""}, "", false},
		{"single", []string{"b"}, "b", true},
		{"first of many", []string{"b", "c"}, "b", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, more := block("x", tt.next...).Successor()
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantMore, more)
		})
	}
}

func TestBlock_CommandWithoutAction(t *testing.T) {
	b := &Block{Type: "action", Description: "d"}
	assert.Equal(t, "", b.Command())

	var nilBlock *Block
	assert.Equal(t, "", nilBlock.Command())
}
