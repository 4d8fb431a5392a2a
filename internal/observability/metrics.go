package observability

import (
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/yungbote/shifu-backend/internal/platform/envutil"
)

// Metrics is a small Prometheus text-format registry for the lesson engine.
type Metrics struct {
	apiRequests  *CounterVec
	apiLatency   *HistogramVec
	apiInflight  *Gauge
	runs         *CounterVec
	blocks       *CounterVec
	safety       *CounterVec
	llmLatency   *HistogramVec
	llmFailures  *CounterVec
	lockWaitBusy *CounterVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool { return envutil.Bool("METRICS_ENABLED", false) }

// Current returns the process registry, or nil when metrics are disabled. Every
// method is nil-safe.
func Current() *Metrics { return instance }

func Init() *Metrics {
	initOnce.Do(func() {
		instance = NewMetrics()
	})
	return instance
}

func NewMetrics() *Metrics {
	return &Metrics{
		apiRequests:  NewCounterVec("shifu_api_requests_total", "HTTP requests by route and status.", []string{"method", "route", "status"}),
		apiLatency:   NewHistogramVec("shifu_api_request_seconds", "HTTP request latency.", []string{"method", "route"}, nil),
		apiInflight:  NewGauge("shifu_api_inflight", "HTTP requests in flight."),
		runs:         NewCounterVec("shifu_run_total", "Run-script passes by outcome.", []string{"outcome"}),
		blocks:       NewCounterVec("shifu_block_rendered_total", "Rendered blocks by type and phase.", []string{"type", "phase"}),
		safety:       NewCounterVec("shifu_safety_check_total", "Content safety verdicts.", []string{"provider", "result"}),
		llmLatency:   NewHistogramVec("shifu_llm_stream_seconds", "LLM stream duration.", []string{"model"}, nil),
		llmFailures:  NewCounterVec("shifu_llm_failures_total", "LLM stream failures.", []string{"model"}),
		lockWaitBusy: NewCounterVec("shifu_run_lock_busy_total", "Run lock contention timeouts.", []string{"preview"}),
	}
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(method, route, strconv.Itoa(status))
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) APIInflight(delta float64) {
	if m == nil {
		return
	}
	m.apiInflight.Add(delta)
}

func (m *Metrics) IncRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.Inc(outcome)
}

func (m *Metrics) IncBlock(blockType, phase string) {
	if m == nil {
		return
	}
	m.blocks.Inc(blockType, phase)
}

func (m *Metrics) IncSafety(provider, result string) {
	if m == nil {
		return
	}
	m.safety.Inc(provider, result)
}

func (m *Metrics) ObserveLLM(model string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.llmLatency.Observe(dur.Seconds(), model)
	if failed {
		m.llmFailures.Inc(model)
	}
}

func (m *Metrics) IncLockBusy(preview bool) {
	if m == nil {
		return
	}
	m.lockWaitBusy.Inc(strconv.FormatBool(preview))
}

func (m *Metrics) RunCount(outcome string) float64 {
	if m == nil {
		return 0
	}
	return m.runs.Value(outcome)
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
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
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.runs, m.blocks, m.safety,
		m.llmLatency, m.llmFailures, m.lockWaitBusy,
	}
	for _, wr := range writers {
		if err := wr.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}
