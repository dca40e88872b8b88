// Package metrics holds the Prometheus instruments of the drill engine. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeCached   = "cached"
	OutcomeRejected = "rejected"
	OutcomeStale    = "stale"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	Generations     *prometheus.CounterVec
	Gradings        *prometheus.CounterVec
	GradePercentage *prometheus.HistogramVec
	LevelsCleared   *prometheus.CounterVec
	AIDuration      *prometheus.HistogramVec
	PersistWrites   *prometheus.CounterVec
	RemoteFills     prometheus.Counter
	DraftWrites     *prometheus.CounterVec
	StudyLogEmits   *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry along
// with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filldrill_generations_total",
				Help: "Template generation requests by level and outcome",
			},
			[]string{"level", "outcome"},
		),
		Gradings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filldrill_gradings_total",
				Help: "Grading requests by level and outcome",
			},
			[]string{"level", "outcome"},
		),
		GradePercentage: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filldrill_grade_percentage",
				Help:    "Percentage of graded attempts",
				Buckets: []float64{10, 30, 50, 60, 70, 80, 90, 100},
			},
			[]string{"level"},
		),
		LevelsCleared: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filldrill_levels_cleared_total",
				Help: "First clears by level",
			},
			[]string{"level"},
		),
		AIDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filldrill_ai_request_duration_seconds",
				Help:    "Duration of AI collaborator requests",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
			},
			[]string{"operation"},
		),
		PersistWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filldrill_persist_writes_total",
				Help: "Progress record writes by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		RemoteFills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filldrill_remote_fills_total",
			Help: "Hydrations where the remote tier filled a gap",
		}),
		DraftWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filldrill_draft_writes_total",
				Help: "Debounced draft writes by outcome",
			},
			[]string{"outcome"},
		),
		StudyLogEmits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filldrill_study_log_emits_total",
				Help: "Study-log entries emitted by outcome",
			},
			[]string{"outcome"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filldrill_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filldrill_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 20},
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Generations, m.Gradings, m.GradePercentage, m.LevelsCleared,
		m.AIDuration, m.PersistWrites, m.RemoteFills, m.DraftWrites,
		m.StudyLogEmits, m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

// Registry exposes the registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func level(l domain.Level) string {
	return strconv.Itoa(int(l))
}

// Generation counts one generation request.
func (m *Metrics) Generation(l domain.Level, outcome string) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(level(l), outcome).Inc()
}

// Grading counts one grading request.
func (m *Metrics) Grading(l domain.Level, outcome string) {
	if m == nil {
		return
	}
	m.Gradings.WithLabelValues(level(l), outcome).Inc()
}

// Graded records the percentage of a successful grading and whether it was a
// first clear.
func (m *Metrics) Graded(l domain.Level, percentage int, firstClear bool) {
	if m == nil {
		return
	}
	m.GradePercentage.WithLabelValues(level(l)).Observe(float64(percentage))
	if firstClear {
		m.LevelsCleared.WithLabelValues(level(l)).Inc()
	}
}

// AIRequest observes the duration of an AI collaborator call.
func (m *Metrics) AIRequest(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.AIDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// PersistWrite counts a write to tier ("local", "remote", "content").
func (m *Metrics) PersistWrite(tier string, err error) {
	if m == nil {
		return
	}
	m.PersistWrites.WithLabelValues(tier, outcome(err)).Inc()
}

// RemoteFill counts a hydration the remote tier contributed to.
func (m *Metrics) RemoteFill() {
	if m == nil {
		return
	}
	m.RemoteFills.Inc()
}

// DraftWrite counts a debounced draft write.
func (m *Metrics) DraftWrite(err error) {
	if m == nil {
		return
	}
	m.DraftWrites.WithLabelValues(outcome(err)).Inc()
}

// StudyLogEmit counts a study-log emission.
func (m *Metrics) StudyLogEmit(err error) {
	if m == nil {
		return
	}
	m.StudyLogEmits.WithLabelValues(outcome(err)).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
