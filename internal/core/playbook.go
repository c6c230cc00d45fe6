package core

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ---------------------------------------------------------------------------
// playbook.go - CACAO-style playbook documents and their validation.
//
// A playbook is a graph of named blocks. Traversal starts at workflow.start
// and follows the first entry of each block's next list until a block with
// no successors is reached.
// ---------------------------------------------------------------------------

// Playbook is one workflow document as loaded from the playbook directory.
type Playbook struct {
	Type          string   `json:"type" yaml:"type" validate:"required"`
	SpecVersion   string   `json:"spec_version" yaml:"spec_version" validate:"required"`
	ID            string   `json:"id" yaml:"id" validate:"required"`
	Name          string   `json:"name" yaml:"name" validate:"required"`
	Description   string   `json:"description" yaml:"description" validate:"required"`
	PlaybookTypes []string `json:"playbook_types" yaml:"playbook_types" validate:"required"`
	Workflow      Workflow `json:"workflow" yaml:"workflow"`
}

// Workflow holds the block graph of a playbook.
type Workflow struct {
	Start  string            `json:"start" yaml:"start" validate:"required"`
	Blocks map[string]*Block `json:"blocks" yaml:"blocks" validate:"required,dive,required"`
}

// Block is a single step in the workflow graph.
type Block struct {
	Type        string       `json:"type" yaml:"type" validate:"required"`
	Description string       `json:"description" yaml:"description" validate:"required"`
	Action      *BlockAction `json:"action" yaml:"action" validate:"required"`
	Next        []string     `json:"next,omitempty" yaml:"next,omitempty"`
}

// BlockAction carries the command template rendered when the block runs.
type BlockAction struct {
	Command string `json:"command" yaml:"command"`
}

// Command returns the block's command template, or "" if it has no action.
func (b *Block) Command() string {
	if b == nil || b.Action == nil {
		return ""
	}
	return b.Action.Command
}

// Successor returns the block id traversal moves to after b, and false if b is terminal.
// Only the first next entry is ever followed; an empty id ends the walk.
func (b *Block) Successor() (string, bool) {
	if b == nil || len(b.Next) == 0 || b.Next[0] == "" {
		return "", false
	}
	return b.Next[0], true
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidatePlaybook checks the required document keys and that the start
// block exists. It does not follow next references; see LintPlaybook.
func ValidatePlaybook(pb *Playbook) error {
	if pb == nil {
		return &ValidationError{Message: "empty playbook document"}
	}
	if err := validate.Struct(pb); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Playbook.")
			return &ValidationError{Field: field, Message: fmt.Sprintf("failed %q check", fe.Tag())}
		}
		return fmt.Errorf("validating playbook: %w", err)
	}
	if _, ok := pb.Workflow.Blocks[pb.Workflow.Start]; !ok {
		return &ValidationError{
			Field:   "workflow.start",
			Message: fmt.Sprintf("start block %q not defined in blocks", pb.Workflow.Start),
		}
	}
	return nil
}

// LintPlaybook reports structural problems the executor only discovers at
// run time: next references to undefined blocks, and a cycle on the path
// traversal would take from the start block.
func LintPlaybook(pb *Playbook) []string {
	var warnings []string

	ids := make([]string, 0, len(pb.Workflow.Blocks))
	for id := range pb.Workflow.Blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		block := pb.Workflow.Blocks[id]
		if block == nil {
			continue
		}
		for _, next := range block.Next {
			if _, ok := pb.Workflow.Blocks[next]; !ok {
				warnings = append(warnings, fmt.Sprintf("block %q references undefined next block %q", id, next))
			}
		}
		if len(block.Next) > 1 {
			warnings = append(warnings, fmt.Sprintf("block %q lists %d next blocks; only %q is followed", id, len(block.Next), block.Next[0]))
		}
	}

	seen := make(map[string]bool)
	current := pb.Workflow.Start
	for current != "" {
		if seen[current] {
			warnings = append(warnings, fmt.Sprintf("cycle on traversal path: block %q is revisited", current))
			break
		}
		seen[current] = true
		block, ok := pb.Workflow.Blocks[current]
		if !ok {
			break
		}
		current, _ = block.Successor()
	}

	return warnings
}
