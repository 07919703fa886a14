package lease

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics collects the counters of one or more lock managers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	set *metrics.Set
}

// NewMetrics returns an empty metrics set.
func NewMetrics() *Metrics {
	return &Metrics{set: metrics.NewSet()}
}

// WritePrometheus writes all collected metrics in Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	if m == nil {
		return
	}
	m.set.WritePrometheus(w)
}

func (m *Metrics) acquired(code AcquireCode) {
	if m == nil {
		return
	}
	m.set.GetOrCreateCounter(fmt.Sprintf(`dlock_acquire_total{result=%q}`, code.String())).Inc()
}

func (m *Metrics) released(res ReleaseResult, force bool) {
	if m == nil {
		return
	}
	if force {
		if res.Success {
			m.set.GetOrCreateCounter(`dlock_force_release_total`).Inc()
		}
		return
	}
	m.set.GetOrCreateCounter(fmt.Sprintf(`dlock_release_total{result=%q}`, res.Reason.String())).Inc()
}

func (m *Metrics) swept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.set.GetOrCreateCounter(`dlock_swept_total`).Add(n)
}

func (m *Metrics) storeError() {
	if m == nil {
		return
	}
	m.set.GetOrCreateCounter(`dlock_store_errors_total`).Inc()
}

func (m *Metrics) observe(op string, start time.Time) {
	if m == nil {
		return
	}
	m.set.GetOrCreateSummary(fmt.Sprintf(`dlock_operation_duration_seconds{op=%q}`, op)).UpdateDuration(start)
}

// counter returns the current value of a counter (0 if it was never touched).
func (m *Metrics) counter(name string) uint64 {
	if m == nil {
		return 0
	}
	return m.set.GetOrCreateCounter(name).Get()
}
