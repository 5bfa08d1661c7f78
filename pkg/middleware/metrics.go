package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/pagecycle/pkg/cycle"
	"github.com/vango-dev/pagecycle/pkg/page"
	"github.com/vango-dev/pagecycle/pkg/render"
	"github.com/vango-dev/pagecycle/pkg/resource"
	"github.com/vango-dev/pagecycle/pkg/target"
	"github.com/vango-dev/pagecycle/pkg/version"
)

// MetricsConfig configures the Prometheus metrics listener.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "pagecycle").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics listener.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the request duration buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "pagecycle",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics records request cycles and page versioning in Prometheus.
// It is a cycle.Listener and a page.Hooks.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	faultsTotal     *prometheus.CounterVec
	steps           *prometheus.CounterVec
	versionsClosed  prometheus.Counter
	versionsEvicted prometheus.Counter
	reconstructions prometheus.Histogram
	activeSessions  prometheus.Gauge
	responseBytes   prometheus.Histogram
}

// Prometheus creates the metrics listener. Metrics are registered with the
// configured registry, so it must be called once per registry.
//
// Metrics collected:
//   - pagecycle_requests_total: cycles by target kind and outcome
//   - pagecycle_request_duration_seconds: cycle duration by target kind
//   - pagecycle_faults_total: faults by category
//   - pagecycle_steps_total: steps entered
//   - pagecycle_versions_closed_total: page change-sets closed
//   - pagecycle_versions_evicted_total: change-sets dropped from history
//   - pagecycle_version_reconstruction_seconds: time to rebuild an old version
//   - pagecycle_active_sessions: sessions held in memory
//   - pagecycle_response_bytes: size of buffered responses
func Prometheus(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts(config.opts("requests_total", "Total number of request cycles")),
			[]string{"target", "status"}),
		requestDuration: factory.NewHistogramVec(
			config.histogram("request_duration_seconds", "Request cycle duration in seconds", config.Buckets),
			[]string{"target"}),
		faultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts(config.opts("faults_total", "Total number of faults raised during request cycles")),
			[]string{"category"}),
		steps: factory.NewCounterVec(
			prometheus.CounterOpts(config.opts("steps_total", "Total number of request cycle steps entered")),
			[]string{"step"}),
		versionsClosed: factory.NewCounter(
			prometheus.CounterOpts(config.opts("versions_closed_total", "Total number of page versions closed"))),
		versionsEvicted: factory.NewCounter(
			prometheus.CounterOpts(config.opts("versions_evicted_total", "Total number of page versions evicted from history"))),
		reconstructions: factory.NewHistogram(
			config.histogram("version_reconstruction_seconds", "Time to reconstruct an older page version",
				[]float64{.0001, .0005, .001, .005, .01, .05, .1})),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts(config.opts("active_sessions", "Number of sessions held in memory"))),
		responseBytes: factory.NewHistogram(
			config.histogram("response_bytes", "Size of buffered response bodies in bytes",
				prometheus.ExponentialBuckets(256, 4, 7))), // 256B to 1MB
	}
}

func (c MetricsConfig) opts(name, help string) prometheus.Opts {
	return prometheus.Opts{
		Namespace:   c.Namespace,
		Subsystem:   c.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: c.ConstLabels,
	}
}

func (c MetricsConfig) histogram(name, help string, buckets []float64) prometheus.HistogramOpts {
	o := c.opts(name, help)
	return prometheus.HistogramOpts{
		Namespace:   o.Namespace,
		Subsystem:   o.Subsystem,
		Name:        o.Name,
		Help:        o.Help,
		ConstLabels: o.ConstLabels,
		Buckets:     buckets,
	}
}

// OnBeginRequest implements cycle.Listener.
func (m *Metrics) OnBeginRequest(ctx context.Context, _ *cycle.Cycle) context.Context {
	return ctx
}

// OnStep implements cycle.Listener.
func (m *Metrics) OnStep(_ *cycle.Cycle, step cycle.Step) {
	m.steps.WithLabelValues(step.String()).Inc()
}

// OnEndRequest implements cycle.Listener.
func (m *Metrics) OnEndRequest(c *cycle.Cycle, err error) {
	kind := TargetKind(c.Target())
	m.requestDuration.WithLabelValues(kind).Observe(time.Since(c.StartedAt()).Seconds())

	status := "success"
	if fault := c.Fault(); fault != nil {
		m.faultsTotal.WithLabelValues(CategorizeError(fault)).Inc()
		status = "recovered"
	}
	if err != nil {
		status = "error"
	}
	m.requestsTotal.WithLabelValues(kind, status).Inc()
	m.responseBytes.Observe(float64(len(c.Response().Bytes())))
}

// VersionClosed implements page.Hooks.
func (m *Metrics) VersionClosed(_ *page.Page, _, evicted int) {
	m.versionsClosed.Inc()
	if evicted > 0 {
		m.versionsEvicted.Add(float64(evicted))
	}
}

// VersionReconstructed implements page.Hooks.
func (m *Metrics) VersionReconstructed(_ *page.Page, _ int, elapsed time.Duration) {
	m.reconstructions.Observe(elapsed.Seconds())
}

// SetActiveSessions records the number of sessions in memory.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// TargetKind returns a low-cardinality label for a target: its type name
// in lower case, or "none".
func TargetKind(t cycle.Target) string {
	if t == nil {
		return "none"
	}
	name := fmt.Sprintf("%T", t)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(strings.TrimPrefix(name, "*"))
}

// CategorizeError maps a fault to a label value, keeping error messages
// out of metric labels.
func CategorizeError(err error) string {
	var panicErr *cycle.PanicError
	var markupErr *render.MarkupError
	switch {
	case errors.Is(err, page.ErrPageExpired):
		return "page_expired"
	case errors.Is(err, version.ErrVersionUnavailable), errors.Is(err, version.ErrVersionNotFound):
		return "version_unavailable"
	case errors.Is(err, cycle.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, cycle.ErrInfiniteLoop):
		return "infinite_loop"
	case errors.Is(err, page.ErrUnknownType),
		errors.Is(err, resource.ErrNotFound),
		errors.Is(err, target.ErrComponentNotFound),
		errors.Is(err, target.ErrListenerNotFound):
		return "not_found"
	case errors.Is(err, target.ErrComponentDisabled):
		return "disabled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &panicErr):
		return "panic"
	case errors.As(err, &markupErr):
		return "markup"
	default:
		return "internal"
	}
}
