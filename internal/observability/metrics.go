package observability

import (
	"io"
	"net/http"
	"strings"
	"time"
)

// Metrics holds the process counters served at /metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	apiRequests  *CounterVec
	apiLatency   *HistogramVec
	apiInflight  *Gauge
	llmStreams   *CounterVec
	llmLatency   *HistogramVec
	llmFirstByte *HistogramVec
	llmTokens    *CounterVec
	sideEffects  *CounterVec
	feedback     *CounterVec
	traceBatches *CounterVec

	all []collector
}

func NewMetrics() *Metrics {
	m := &Metrics{
		apiRequests: NewCounterVec("chat_api_requests_total", "API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"chat_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		),
		apiInflight: NewGauge("chat_api_inflight_requests", "In-flight API requests."),
		llmStreams:  NewCounterVec("chat_llm_streams_total", "Completion streams by model/outcome.", []string{"model", "outcome"}),
		llmLatency: NewHistogramVec(
			"chat_llm_stream_duration_seconds",
			"Wall time from upstream call to stream end.",
			[]string{"model"},
			[]float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		),
		llmFirstByte: NewHistogramVec(
			"chat_llm_first_chunk_seconds",
			"Time from upstream call to first delivered chunk.",
			[]string{"model"},
			[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		),
		llmTokens:    NewCounterVec("chat_llm_tokens_total", "Tokens by model/kind.", []string{"model", "kind"}),
		sideEffects:  NewCounterVec("chat_side_effects_total", "Completion side effects by name/status.", []string{"name", "status"}),
		feedback:     NewCounterVec("chat_feedback_total", "Feedback submissions by value.", []string{"value"}),
		traceBatches: NewCounterVec("chat_trace_batches_total", "Trace export batches by backend/status.", []string{"backend", "status"}),
	}
	m.all = []collector{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.llmStreams, m.llmLatency, m.llmFirstByte, m.llmTokens,
		m.sideEffects, m.feedback, m.traceBatches,
	}
	return m
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, _ *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range m.all {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

func (m *Metrics) ApiInflightInc() {
	if m != nil {
		m.apiInflight.Inc()
	}
}

func (m *Metrics) ApiInflightDec() {
	if m != nil {
		m.apiInflight.Dec()
	}
}

// ObserveStream records one finished completion stream. outcome is "completed", "failed" or
// "client_gone".
func (m *Metrics) ObserveStream(model, outcome string, dur time.Duration, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	model = strings.TrimSpace(model)
	m.llmStreams.Inc(model, outcome)
	if dur > 0 {
		m.llmLatency.Observe(dur.Seconds(), model)
	}
	if promptTokens > 0 {
		m.llmTokens.Add(float64(promptTokens), model, "input")
	}
	if completionTokens > 0 {
		m.llmTokens.Add(float64(completionTokens), model, "output")
	}
}

func (m *Metrics) ObserveFirstChunk(model string, wait time.Duration) {
	if m != nil {
		m.llmFirstByte.Observe(wait.Seconds(), strings.TrimSpace(model))
	}
}

func (m *Metrics) IncSideEffect(name string, err error) {
	if m == nil {
		return
	}
	m.sideEffects.Inc(name, statusOf(err))
}

func (m *Metrics) IncFeedback(value float64) {
	if m == nil {
		return
	}
	switch {
	case value > 0:
		m.feedback.Inc("positive")
	case value < 0:
		m.feedback.Inc("negative")
	default:
		m.feedback.Inc("neutral")
	}
}

func (m *Metrics) IncTraceBatch(backend string, err error) {
	if m != nil {
		m.traceBatches.Inc(backend, statusOf(err))
	}
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
