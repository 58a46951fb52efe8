// Package metrics exposes tenantgate's operational counters. The API process
// serves them in Prometheus format; the retention Lambda pushes a run
// summary to CloudWatch.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tenantgate"

// Prometheus owns a private registry so tests can build as many as they need.
type Prometheus struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	billingEvents   *prometheus.CounterVec
	authFailures    *prometheus.CounterVec

	retentionRuns     prometheus.Counter
	retentionDeleted  prometheus.Counter
	retentionTenants  prometheus.Counter
	retentionFailures prometheus.Counter
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route", "status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		billingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_events_total",
			Help:      "Verified billing events by kind and reconciliation outcome.",
		}, []string{"kind", "outcome"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected credentials by scheme.",
		}, []string{"scheme"}),
		retentionRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "runs_total",
			Help:      "Completed retention runs.",
		}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "deleted_events_total",
			Help:      "Events deleted by retention.",
		}),
		retentionTenants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "tenants_processed_total",
			Help:      "Tenants visited by retention.",
		}),
		retentionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "tenant_failures_total",
			Help:      "Tenants whose retention pass failed.",
		}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.requestDuration,
		p.requests,
		p.billingEvents,
		p.authFailures,
		p.retentionRuns,
		p.retentionDeleted,
		p.retentionTenants,
		p.retentionFailures,
	)
	return p
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry is exposed for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// RecordRequest observes one HTTP request. route must be the router
// pattern, not the raw path, to keep label cardinality bounded.
func (p *Prometheus) RecordRequest(method, route, status string, d time.Duration) {
	p.requestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
	p.requests.WithLabelValues(method, route, status).Inc()
}

func (p *Prometheus) RecordBillingEvent(kind, outcome string) {
	p.billingEvents.WithLabelValues(kind, outcome).Inc()
}

func (p *Prometheus) RecordAuthFailure(scheme string) {
	p.authFailures.WithLabelValues(scheme).Inc()
}

func (p *Prometheus) RecordRetentionRun(deleted int64, tenants int, failures int) {
	p.retentionRuns.Inc()
	p.retentionDeleted.Add(float64(deleted))
	p.retentionTenants.Add(float64(tenants))
	p.retentionFailures.Add(float64(failures))
}
