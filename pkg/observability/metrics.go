package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can take it as an optional dependency.
type Metrics struct {
	// Stack metrics
	StacksBuiltTotal    prometheus.Counter
	StackBuildDuration  prometheus.Histogram
	StackPluginsCurrent prometheus.Gauge

	// Resolver metrics
	ResolverPlanLookupsTotal *prometheus.CounterVec

	// Hook metrics
	HookListsBuiltTotal    *prometheus.CounterVec
	HookParticipants       *prometheus.GaugeVec
	DispatchFailuresTotal  *prometheus.CounterVec
	LifecycleFailuresTotal *prometheus.CounterVec

	// Stage metrics
	StageTransitionsTotal *prometheus.CounterVec

	// Assembled type metrics
	AssemblyLookupsTotal *prometheus.CounterVec
	AssembledTypesTotal  prometheus.Gauge

	// OpenTelemetry counterparts, exported over OTLP once InitOTel ran
	otelStageTransitions otelmetric.Int64Counter
	otelStackBuilds      otelmetric.Float64Histogram
}

// NewMetrics creates and registers all Prometheus metrics. Stage transitions
// and stack builds are also recorded on the global OpenTelemetry meter.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	return newMetrics(registry, otel.Meter(TracerName))
}

func newMetrics(registry prometheus.Registerer, meter otelmetric.Meter) *Metrics {
	m := &Metrics{
		StacksBuiltTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "plugstack_stacks_built_total",
				Help: "Total number of plugin stacks constructed",
			},
		),
		StackBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "plugstack_stack_build_duration_seconds",
				Help:    "Plugin stack construction duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
		),
		StackPluginsCurrent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plugstack_stack_plugins",
				Help: "Number of plugin instances in the most recently built stack",
			},
		),
		ResolverPlanLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugstack_resolver_plan_lookups_total",
				Help: "Resolution plan cache lookups",
			},
			[]string{"result"},
		),
		HookListsBuiltTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugstack_hook_lists_built_total",
				Help: "Total number of hook lists compiled",
			},
			[]string{"hook"},
		),
		HookParticipants: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "plugstack_hook_participants",
				Help: "Number of plugins implementing a hook in the latest build",
			},
			[]string{"hook"},
		),
		DispatchFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugstack_dispatch_failures_total",
				Help: "Hook chain invocations stopped by a failing plugin",
			},
			[]string{"hook", "plugin"},
		),
		LifecycleFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugstack_lifecycle_failures_total",
				Help: "Collected lifecycle hook failures",
			},
			[]string{"hook", "plugin"},
		),
		StageTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugstack_stage_transitions_total",
				Help: "Stage controller state transitions",
			},
			[]string{"stage", "state"},
		),
		AssemblyLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugstack_assembly_lookups_total",
				Help: "Assembled type descriptor cache lookups",
			},
			[]string{"result"},
		),
		AssembledTypesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plugstack_assembled_types",
				Help: "Number of distinct assembled type descriptors",
			},
		),
	}

	registry.MustRegister(
		m.StacksBuiltTotal,
		m.StackBuildDuration,
		m.StackPluginsCurrent,
		m.ResolverPlanLookupsTotal,
		m.HookListsBuiltTotal,
		m.HookParticipants,
		m.DispatchFailuresTotal,
		m.LifecycleFailuresTotal,
		m.StageTransitionsTotal,
		m.AssemblyLookupsTotal,
		m.AssembledTypesTotal,
	)

	var err error
	m.otelStageTransitions, err = meter.Int64Counter("plugstack.stage.transitions",
		otelmetric.WithDescription("Stage controller state transitions"))
	if err != nil {
		m.otelStageTransitions, _ = noop.Meter{}.Int64Counter("plugstack.stage.transitions")
	}
	m.otelStackBuilds, err = meter.Float64Histogram("plugstack.stack.build.duration",
		otelmetric.WithDescription("Plugin stack construction duration"),
		otelmetric.WithUnit("s"))
	if err != nil {
		m.otelStackBuilds, _ = noop.Meter{}.Float64Histogram("plugstack.stack.build.duration")
	}

	return m
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// RecordStackBuilt records a constructed stack
func (m *Metrics) RecordStackBuilt(plugins int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StacksBuiltTotal.Inc()
	m.StackBuildDuration.Observe(elapsed.Seconds())
	m.StackPluginsCurrent.Set(float64(plugins))
	m.otelStackBuilds.Record(context.Background(), elapsed.Seconds(),
		otelmetric.WithAttributes(attribute.Int("plugins", plugins)))
}

// RecordResolverLookup records a plan cache lookup
func (m *Metrics) RecordResolverLookup(hit bool) {
	if m == nil {
		return
	}
	m.ResolverPlanLookupsTotal.WithLabelValues(hitLabel(hit)).Inc()
}

// RecordHookList records a compiled hook list
func (m *Metrics) RecordHookList(hook string, participants int) {
	if m == nil {
		return
	}
	m.HookListsBuiltTotal.WithLabelValues(hook).Inc()
	m.HookParticipants.WithLabelValues(hook).Set(float64(participants))
}

// RecordDispatchFailure records a failed hook chain invocation
func (m *Metrics) RecordDispatchFailure(hook, plugin string) {
	if m == nil {
		return
	}
	m.DispatchFailuresTotal.WithLabelValues(hook, plugin).Inc()
}

// RecordLifecycleFailure records a collected lifecycle failure
func (m *Metrics) RecordLifecycleFailure(hook, plugin string) {
	if m == nil {
		return
	}
	m.LifecycleFailuresTotal.WithLabelValues(hook, plugin).Inc()
}

// RecordStageTransition records the stage controller entering state
func (m *Metrics) RecordStageTransition(stage, state string) {
	if m == nil {
		return
	}
	m.StageTransitionsTotal.WithLabelValues(stage, state).Inc()
	m.otelStageTransitions.Add(context.Background(), 1,
		otelmetric.WithAttributes(attribute.String("stage", stage), attribute.String("state", state)))
}

// RecordAssemblyLookup records a descriptor cache lookup
func (m *Metrics) RecordAssemblyLookup(hit bool, cached int) {
	if m == nil {
		return
	}
	m.AssemblyLookupsTotal.WithLabelValues(hitLabel(hit)).Inc()
	m.AssembledTypesTotal.Set(float64(cached))
}

// MetricsHandler returns the /metrics HTTP handler for registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
