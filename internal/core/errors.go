package core

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// errors.go - typed errors surfaced by the store, executor, dispatcher and
// ingress. Callers match them with errors.As.
// ---------------------------------------------------------------------------

// PlaybookNotFoundError is returned when a playbook name is not loaded.
type PlaybookNotFoundError struct {
	Playbook string
}

func (e *PlaybookNotFoundError) Error() string {
	return fmt.Sprintf("playbook %q not found", e.Playbook)
}

// UnknownBlockError is returned when traversal reaches a block id that the
// playbook does not define.
type UnknownBlockError struct {
	Playbook string
	Block    string
}

func (e *UnknownBlockError) Error() string {
	return fmt.Sprintf("unknown block %q in playbook %q", e.Block, e.Playbook)
}

// CycleDetectedError is returned when traversal would revisit a block.
type CycleDetectedError struct {
	Playbook string
	Block    string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("cycle detected in playbook %q: block %q revisited", e.Playbook, e.Block)
}

// MissingParameterError is returned by a strict renderer for a placeholder
// with no matching parameter.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing template parameter %q", e.Name)
}

// RecommenderUnavailableError wraps any failure talking to the recommender.
type RecommenderUnavailableError struct {
	URL string
	Err error
}

func (e *RecommenderUnavailableError) Error() string {
	return fmt.Sprintf("recommender %s unavailable: %v", e.URL, e.Err)
}

func (e *RecommenderUnavailableError) Unwrap() error { return e.Err }

// ValidationError reports malformed caller input or a malformed document field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// PlaybookLoadError records a document the store skipped.
type PlaybookLoadError struct {
	Path string
	Err  error
}

func (e *PlaybookLoadError) Error() string {
	return fmt.Sprintf("loading playbook %s: %v", e.Path, e.Err)
}

func (e *PlaybookLoadError) Unwrap() error { return e.Err }
