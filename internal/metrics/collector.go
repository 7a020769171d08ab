// Package metrics exposes prometheus metrics for appointments and conference sessions
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/navikt/zconf/internal/models"
)

// Collector records application metrics into its own registry
type Collector struct {
	registry *prometheus.Registry

	appointmentsCreated prometheus.Counter
	sessionsOpened      prometheus.Counter
	sessionsOpen        prometheus.Gauge
	sessionsByStatus    *prometheus.GaugeVec
	joins               prometheus.Counter
	capacityViolations  prometheus.Counter
	mediaDenied         prometheus.Counter
	requestDuration     *prometheus.HistogramVec
}

// NewCollector creates a collector with a fresh registry that also carries
// the Go runtime and process collectors
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		appointmentsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "zconf_appointments_created_total",
			Help: "Total number of appointments created",
		}),

		sessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "zconf_sessions_opened_total",
			Help: "Total number of conference sessions opened",
		}),

		sessionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zconf_sessions_open",
			Help: "Number of conference sessions currently open",
		}),

		sessionsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zconf_sessions_by_status",
			Help: "Number of open conference sessions per status",
		}, []string{"status"}),

		joins: factory.NewCounter(prometheus.CounterOpts{
			Name: "zconf_session_joins_total",
			Help: "Total number of meeting joins started",
		}),

		capacityViolations: factory.NewCounter(prometheus.CounterOpts{
			Name: "zconf_capacity_violations_total",
			Help: "Total number of sessions left because the meeting already had two participants",
		}),

		mediaDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "zconf_media_denied_total",
			Help: "Total number of refused capture requests",
		}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zconf_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"route", "code"}),
	}
}

// Registry returns the registry the metrics are recorded in
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RecordAppointmentCreated() {
	c.appointmentsCreated.Inc()
}

// RecordSessionOpened counts a new session in the Idle status
func (c *Collector) RecordSessionOpened() {
	c.sessionsOpened.Inc()
	c.sessionsOpen.Inc()
	c.sessionsByStatus.WithLabelValues(models.SessionStatusIdle.String()).Inc()
}

// RecordSessionClosed removes a session that was last seen in status
func (c *Collector) RecordSessionClosed(status models.SessionStatus) {
	c.sessionsOpen.Dec()
	c.sessionsByStatus.WithLabelValues(status.String()).Dec()
}

// RecordTransition moves a session between status gauges and counts the
// transitions that matter operationally
func (c *Collector) RecordTransition(from, to *models.SessionSnapshot) {
	if from.Status != to.Status {
		c.sessionsByStatus.WithLabelValues(from.Status.String()).Dec()
		c.sessionsByStatus.WithLabelValues(to.Status.String()).Inc()

		switch to.Status {
		case models.SessionStatusJoining:
			if from.Status.CanJoin() {
				c.joins.Inc()
			}
		case models.SessionStatusOngoingElsewhere:
			c.capacityViolations.Inc()
		}
	}

	if !from.Notify.MediaDenied.IsTrue() && to.Notify.MediaDenied.IsTrue() {
		c.mediaDenied.Inc()
	}
}

// ObserveRequest records the duration of a handled request
func (c *Collector) ObserveRequest(route string, code int, elapsed time.Duration) {
	c.requestDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(elapsed.Seconds())
}
