// Package notify reports finished build runs to an external HTTP endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
)

// ErrUnauthorized indicates the endpoint rejected the notification token.
var ErrUnauthorized = errors.New("build notification unauthorized")

// ErrRejected indicates the endpoint refused the payload.
var ErrRejected = errors.New("build notification rejected")

// Event describes one finished build.
type Event struct {
	BuildID     string
	Project     string
	Outcome     string
	TriggeredBy string
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Emitter posts build events as JSON.
type Emitter struct {
	url    string
	token  string
	client *http.Client
	now    func() time.Time
}

// NewEmitter creates an emitter for url. token, when set, is sent as a bearer token.
func NewEmitter(url, token string, client *http.Client) (*Emitter, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, errors.New("notification url required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Emitter{
		url:    trimmed,
		token:  strings.TrimSpace(token),
		client: client,
		now:    time.Now,
	}, nil
}

// Emit sends event to the configured endpoint.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if e == nil {
		return errors.New("notification emitter not initialised")
	}
	if strings.TrimSpace(event.Project) == "" {
		return errors.New("build notification requires a project")
	}
	body, err := json.Marshal(buildPayload(event, e.now))
	if err != nil {
		return fmt.Errorf("marshal build event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send build notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrRejected, summary)
	default:
		return fmt.Errorf("build notification failed: %s", summary)
	}
}

func buildPayload(event Event, nowFn func() time.Time) map[string]any {
	finished := event.FinishedAt
	if finished.IsZero() {
		finished = nowFn()
	}
	payload := map[string]any{
		"build_id":    event.BuildID,
		"project":     strings.TrimSpace(event.Project),
		"outcome":     event.Outcome,
		"finished_at": finished.UTC().Format(time.RFC3339Nano),
	}
	if !event.StartedAt.IsZero() {
		payload["started_at"] = event.StartedAt.UTC().Format(time.RFC3339Nano)
		payload["duration_seconds"] = finished.Sub(event.StartedAt).Seconds()
	}
	if event.TriggeredBy != "" {
		payload["triggered_by"] = event.TriggeredBy
	}
	if event.Error != "" {
		payload["error"] = event.Error
	}
	return payload
}
