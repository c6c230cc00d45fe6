package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Severity is the numeric severity carried by an inbound alert. Sources send
// it on a 0-10 scale, either as a JSON number or a numeric string.
type Severity int

// Label buckets the numeric severity for logs and bus subjects.
func (s Severity) Label() string {
	switch {
	case s <= 0:
		return "INFO"
	case s <= 3:
		return "LOW"
	case s <= 6:
		return "MEDIUM"
	case s <= 8:
		return "HIGH"
	default:
		return "CRITICAL"
	}
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*s = 0
		return nil
	}
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unq)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("severity %s is not numeric", string(data))
	}
	sev, err := SeverityFromFloat(f)
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// Severity bounds. Values outside are clamped.
const (
	MinSeverity Severity = 0
	MaxSeverity Severity = 10
)

// SeverityFromFloat truncates f and clamps it to MinSeverity..MaxSeverity.
// NaN and infinities are rejected.
func SeverityFromFloat(f float64) (Severity, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("severity %v is not a finite number", f)
	}
	switch {
	case f <= float64(MinSeverity):
		return MinSeverity, nil
	case f >= float64(MaxSeverity):
		return MaxSeverity, nil
	}
	return Severity(int(f)), nil
}

// AlertEvent is the normalized event handed to the dispatcher by every ingress.
// An empty Mitigation means the recommender decides.
type AlertEvent struct {
	Target     string   `json:"target"`
	Mitigation string   `json:"mitigation,omitempty"`
	Source     string   `json:"source,omitempty"`
	Severity   Severity `json:"severity"`
}

// UnmarshalAlertEvent deserializes an AlertEvent from JSON.
func UnmarshalAlertEvent(data []byte) (*AlertEvent, error) {
	var event AlertEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// DispatchResult is the summary returned to the alert submitter. Playbook is
// nil when the monitor action was applied.
type DispatchResult struct {
	Mitigation string  `json:"mitigation"`
	Target     string  `json:"target"`
	Playbook   *string `json:"playbook"`
	Status     string  `json:"status,omitempty"`

	// Trace is the execution trace when a playbook ran. It is kept off the
	// wire; trace handlers and the log sink carry it instead.
	Trace *ExecutionTrace `json:"-"`
}

// PlaybookName returns the playbook used, or "" for the monitor action.
func (r *DispatchResult) PlaybookName() string {
	if r.Playbook == nil {
		return ""
	}
	return *r.Playbook
}

// Marshal serializes the result to JSON.
func (r *DispatchResult) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
