package observability

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Metrics is the process-wide metric set, exposed in Prometheus text format
// on /metrics.
type Metrics struct {
	stageTotal    *CounterVec
	stageFailures *CounterVec
	stageRetries  *CounterVec
	stageLatency  *HistogramVec

	searchTotal    *Counter
	searchFailures *Counter
	searchLatency  *HistogramVec

	sweepMessages   *CounterVec
	emailsCompleted *Counter
	emailsFailed    *Counter
}

func NewMetrics() *Metrics {
	stageLabels := []string{"stage"}
	return &Metrics{
		stageTotal:    NewCounterVec("pipeline_stage_total", "Stage executions by stage.", stageLabels),
		stageFailures: NewCounterVec("pipeline_stage_failures_total", "Terminal stage failures by stage.", stageLabels),
		stageRetries:  NewCounterVec("pipeline_stage_retries_total", "Scheduled stage retries by stage.", stageLabels),
		stageLatency: NewHistogramVec("pipeline_stage_duration_seconds", "Stage wall time by stage.", stageLabels,
			[]float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300}),

		searchTotal:    NewCounter("search_total", "Search requests served."),
		searchFailures: NewCounter("search_failures_total", "Search requests that errored."),
		searchLatency: NewHistogramVec("search_duration_seconds", "Search latency.", nil,
			[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5}),

		sweepMessages:   NewCounterVec("sync_sweep_messages_total", "Delta sweep messages by kind.", []string{"kind"}),
		emailsCompleted: NewCounter("emails_completed_total", "Emails that reached the completed status."),
		emailsFailed:    NewCounter("emails_failed_total", "Emails that reached the failed status."),
	}
}

func (m *Metrics) StageRan(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageTotal.Inc(stage)
	m.stageLatency.Observe(d.Seconds(), stage)
}

func (m *Metrics) StageRetried(stage string) {
	if m == nil {
		return
	}
	m.stageRetries.Inc(stage)
}

func (m *Metrics) StageFailed(stage string) {
	if m == nil {
		return
	}
	m.stageFailures.Inc(stage)
	m.emailsFailed.Inc()
}

func (m *Metrics) EmailCompleted() {
	if m == nil {
		return
	}
	m.emailsCompleted.Inc()
}

func (m *Metrics) SearchServed(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.searchTotal.Inc()
	m.searchLatency.Observe(d.Seconds())
	if failed {
		m.searchFailures.Inc()
	}
}

func (m *Metrics) SweepMessage(kind string) {
	if m == nil {
		return
	}
	m.sweepMessages.Inc(kind)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.stageTotal, m.stageFailures, m.stageRetries, m.stageLatency,
		m.searchTotal, m.searchFailures, m.searchLatency,
		m.sweepMessages, m.emailsCompleted, m.emailsFailed,
	}
	for _, wr := range writers {
		if err := wr.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_ = m.WritePrometheus(w)
}

// ---- lightweight metric primitives (Prometheus exposition) ----

type Counter struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Inc() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.val++
	c.mu.Unlock()
}

func (c *Counter) Value() float64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val
}

func (c *Counter) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %f\n", c.name, c.val)
	return err
}

type CounterVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (c *CounterVec) Inc(values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl]++
	c.mu.Unlock()
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.values {
		if _, err := fmt.Fprintf(w, "%s%s %f\n", c.name, k, v); err != nil {
			return err
		}
	}
	return nil
}

type HistogramVec struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64
	mu         sync.RWMutex
	values     map[string]*histogram
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	total   uint64
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	}
	return &HistogramVec{name: name, help: help, labelNames: labels, buckets: buckets, values: map[string]*histogram{}}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	lbl := labelString(h.labelNames, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	hist, ok := h.values[lbl]
	if !ok {
		hist = &histogram{
			buckets: h.buckets,
			counts:  make([]uint64, len(h.buckets)+1),
		}
		h.values[lbl] = hist
	}
	hist.sum += v
	hist.total++
	for i, b := range hist.buckets {
		if v <= b {
			hist.counts[i]++
		}
	}
	hist.counts[len(hist.counts)-1]++
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for k, v := range h.values {
		for i, b := range v.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, fmt.Sprintf("%g", b)), v.counts[i]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, "+Inf"), v.counts[len(v.counts)-1]); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_sum%s %f\n", h.name, k, v.sum); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_count%s %d\n", h.name, k, v.total); err != nil {
			return err
		}
	}
	return nil
}

func labelString(names []string, values []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("{")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		val := "unknown"
		if i < len(values) {
			val = values[i]
		}
		b.WriteString(name)
		b.WriteString("=\"")
		b.WriteString(escapeLabel(val))
		b.WriteString("\"")
	}
	b.WriteString("}")
	return b.String()
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}

func withLe(labels string, le string) string {
	le = escapeLabel(le)
	if labels == "" || labels == "{}" {
		return "{le=\"" + le + "\"}"
	}
	return strings.TrimSuffix(labels, "}") + ",le=\"" + le + "\"}"
}
