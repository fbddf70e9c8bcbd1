// Package metrics exposes Prometheus collectors for session and signin
// outcomes and HTTP latency.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"storefront/cmd/internal/auth/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Collectors implements session.Observer and authapi.SigninObserver.
type Collectors struct {
	registry *prometheus.Registry

	sessionsStarted   prometheus.Counter
	refreshOutcomes   *prometheus.CounterVec
	familyRevocations *prometheus.CounterVec
	recordsRevoked    *prometheus.CounterVec
	signinOutcomes    *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Session chains started by signin or signup.",
		}),
		refreshOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "refresh_total",
			Help:      "Refresh attempts by outcome kind.",
		}, []string{"outcome"}),
		familyRevocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "family_revocations_total",
			Help:      "Family revocations by reason.",
		}, []string{"reason"}),
		recordsRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "records_revoked_total",
			Help:      "Session records revoked by family revocations, by reason.",
		}, []string{"reason"}),
		signinOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signin_total",
			Help:      "Signin attempts by outcome.",
		}, []string{"outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "code"}),
	}

	c.registry.MustRegister(
		c.sessionsStarted,
		c.refreshOutcomes,
		c.familyRevocations,
		c.recordsRevoked,
		c.signinOutcomes,
		c.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collectors) SessionStarted() { c.sessionsStarted.Inc() }

func (c *Collectors) RefreshOutcome(kind string) { c.refreshOutcomes.WithLabelValues(kind).Inc() }

func (c *Collectors) FamilyRevoked(reason session.RevocationReason, revoked int) {
	c.familyRevocations.WithLabelValues(string(reason)).Inc()
	if revoked > 0 {
		c.recordsRevoked.WithLabelValues(string(reason)).Add(float64(revoked))
	}
}

func (c *Collectors) SigninOutcome(outcome string) { c.signinOutcomes.WithLabelValues(outcome).Inc() }

// ObserveHTTP records one request. route must be a bounded label such as the
// mux pattern, never the raw path.
func (c *Collectors) ObserveHTTP(route string, status int, d time.Duration) {
	c.httpDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

var _ session.Observer = (*Collectors)(nil)
