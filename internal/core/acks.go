package core

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultAnalyst is recorded when an acknowledgement names no analyst.
const DefaultAnalyst = "unknown"

// Acknowledgement is the reply to a successful acknowledge call.
type Acknowledgement struct {
	Status  string `json:"status"`
	AlertID string `json:"alert_id"`
	Analyst string `json:"analyst"`
}

// AckSet is the set of alert ids analysts have acknowledged. It only grows.
type AckSet struct {
	mu     sync.Mutex
	ids    map[string]struct{}
	logger zerolog.Logger
}

// NewAckSet creates an empty set.
func NewAckSet(logger zerolog.Logger) *AckSet {
	return &AckSet{
		ids:    make(map[string]struct{}),
		logger: logger.With().Str("component", "ack_set").Logger(),
	}
}

// Acknowledge records alertID. Repeating an id is a no-op. An empty id is a
// *ValidationError.
func (a *AckSet) Acknowledge(alertID, analyst string) (*Acknowledgement, error) {
	if alertID == "" {
		return nil, &ValidationError{Field: "alert_id", Message: "alert_id required"}
	}
	if analyst == "" {
		analyst = DefaultAnalyst
	}

	a.mu.Lock()
	a.ids[alertID] = struct{}{}
	acknowledgedAlerts.Set(float64(len(a.ids)))
	a.mu.Unlock()

	a.logger.Info().Str("alert_id", alertID).Str("analyst", analyst).Msg("alert acknowledged")

	return &Acknowledgement{
		Status:  "acknowledged",
		AlertID: alertID,
		Analyst: analyst,
	}, nil
}

// Contains reports whether alertID has been acknowledged.
func (a *AckSet) Contains(alertID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.ids[alertID]
	return ok
}

// Len returns the number of acknowledged ids.
func (a *AckSet) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ids)
}

// IDs returns the acknowledged ids in sorted order.
func (a *AckSet) IDs() []string {
	a.mu.Lock()
	ids := make([]string, 0, len(a.ids))
	for id := range a.ids {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	sort.Strings(ids)
	return ids
}
