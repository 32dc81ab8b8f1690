package langfuse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const ingestionPath = "/api/public/ingestion"

type eventType string

const (
	typeTraceCreate      eventType = "trace-create"
	typeGenerationCreate eventType = "generation-create"
	typeGenerationUpdate eventType = "generation-update"
	typeEventCreate      eventType = "event-create"
	typeScoreCreate      eventType = "score-create"
)

type ingestionEvent struct {
	ID        string    `json:"id"`
	Type      eventType `json:"type"`
	Timestamp string    `json:"timestamp"`
	Body      any       `json:"body"`
}

type ingestionRequest struct {
	Batch []ingestionEvent `json:"batch"`
}

type ingestionResponse struct {
	Successes []struct {
		ID     string `json:"id"`
		Status int    `json:"status"`
	} `json:"successes"`
	Errors []struct {
		ID      string `json:"id"`
		Status  int    `json:"status"`
		Message any    `json:"message"`
		Error   any    `json:"error"`
	} `json:"errors"`
}

type traceBody struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	Name      string            `json:"name,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type generationBody struct {
	ID                  string         `json:"id"`
	TraceID             string         `json:"traceId"`
	Name                string         `json:"name,omitempty"`
	StartTime           string         `json:"startTime,omitempty"`
	CompletionStartTime string         `json:"completionStartTime,omitempty"`
	EndTime             string         `json:"endTime,omitempty"`
	Model               string         `json:"model,omitempty"`
	ModelParameters     map[string]any `json:"modelParameters,omitempty"`
	Input               any            `json:"input,omitempty"`
	Output              any            `json:"output,omitempty"`
	Usage               *usageBody     `json:"usage,omitempty"`
}

type usageBody struct {
	Input  int    `json:"input"`
	Output int    `json:"output"`
	Total  int    `json:"total"`
	Unit   string `json:"unit"`
}

type eventBody struct {
	ID                  string `json:"id"`
	TraceID             string `json:"traceId"`
	ParentObservationID string `json:"parentObservationId,omitempty"`
	Name                string `json:"name"`
	StartTime           string `json:"startTime"`
	Level               string `json:"level,omitempty"`
	StatusMessage       string `json:"statusMessage,omitempty"`
	Input               any    `json:"input,omitempty"`
}

type scoreBody struct {
	ID            string  `json:"id"`
	TraceID       string  `json:"traceId"`
	ObservationID string  `json:"observationId,omitempty"`
	Name          string  `json:"name"`
	Value         float64 `json:"value"`
	Comment       string  `json:"comment,omitempty"`
}

// IngestionError reports a non-2xx response or per-event rejections in a 207 response.
type IngestionError struct {
	Status   int
	Body     string
	Rejected int
}

func (e *IngestionError) Error() string {
	if e.Rejected > 0 {
		return fmt.Sprintf("langfuse: %d event(s) rejected: %s", e.Rejected, e.Body)
	}
	return fmt.Sprintf("langfuse: ingestion status %d: %s", e.Status, e.Body)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (r *Recorder) post(ctx context.Context, batch []ingestionEvent) error {
	if len(batch) == 0 {
		return nil
	}
	raw, err := json.Marshal(ingestionRequest{Batch: batch})
	if err != nil {
		return fmt.Errorf("langfuse: marshal batch: %w", err)
	}
	url := strings.TrimRight(r.cfg.BaseURL, "/") + ingestionPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(r.cfg.PublicKey, r.cfg.SecretKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("langfuse: post batch: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &IngestionError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var parsed ingestionResponse
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil && len(parsed.Errors) > 0 {
		return &IngestionError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body)), Rejected: len(parsed.Errors)}
	}
	return nil
}
