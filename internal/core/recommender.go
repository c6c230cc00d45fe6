package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultRecommenderTimeout bounds a single recommender call.
const DefaultRecommenderTimeout = 5 * time.Second

// Recommender suggests a mitigation name for an event.
type Recommender interface {
	Recommend(ctx context.Context, event AlertEvent) (string, error)
}

// HTTPRecommender posts events to a decision service and reads back
// {"mitigation": "<name>"}.
type HTTPRecommender struct {
	url    string
	client *http.Client
}

// NewHTTPRecommender creates a recommender client for url. A non-positive
// timeout uses DefaultRecommenderTimeout.
func NewHTTPRecommender(url string, timeout time.Duration) *HTTPRecommender {
	if timeout <= 0 {
		timeout = DefaultRecommenderTimeout
	}
	return &HTTPRecommender{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type recommendation struct {
	Mitigation string `json:"mitigation"`
}

// Recommend returns the suggested mitigation. Every failure, including an
// empty answer, is a *RecommenderUnavailableError.
func (r *HTTPRecommender) Recommend(ctx context.Context, event AlertEvent) (string, error) {
	fail := func(err error) (string, error) {
		return "", &RecommenderUnavailableError{URL: r.url, Err: err}
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fail(fmt.Errorf("marshaling event: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fail(fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	var rec recommendation
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rec); err != nil {
		return fail(fmt.Errorf("decoding response: %w", err))
	}
	if rec.Mitigation == "" {
		return fail(fmt.Errorf("response has no mitigation"))
	}
	return rec.Mitigation, nil
}
