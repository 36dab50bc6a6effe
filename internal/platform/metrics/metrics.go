// Package metrics exposes Prometheus counters for HTTP traffic and for the
// record access and consent flows. A nil *Metrics is valid and records
// nothing, so services and tests can omit it.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healthlock/healthlock/internal/platform/apperr"
)

const namespace = "healthlock"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	tokenVerifications *prometheus.CounterVec
	consentTransitions *prometheus.CounterVec
	notifications      *prometheus.CounterVec
	recordViews        prometheus.Counter
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		tokenVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_token_verifications_total",
				Help:      "Record access token verifications by result",
			},
			[]string{"result"},
		),
		consentTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "profile_access_transitions_total",
				Help:      "Profile access request state transitions by target status",
			},
			[]string{"to"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notification dispatch outcomes",
			},
			[]string{"template", "result"},
		),
		recordViews: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_views_total",
				Help:      "Successful token-gated record views",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.tokenVerifications,
		m.consentTransitions,
		m.notifications,
		m.recordViews,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency keyed by the route pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				if ae, ok := apperr.As(err); ok {
					status = ae.Status()
				} else if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// TokenVerification records the outcome of a record token check. err is nil
// on success.
func (m *Metrics) TokenVerification(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
	}
	m.tokenVerifications.WithLabelValues(result).Inc()
}

// ConsentTransition records a profile access request entering status to.
func (m *Metrics) ConsentTransition(to string) {
	if m == nil {
		return
	}
	m.consentTransitions.WithLabelValues(to).Inc()
}

// Notification records a notification outcome: sent, failed or skipped.
func (m *Metrics) Notification(template, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(template, result).Inc()
}

func (m *Metrics) RecordViewed() {
	if m == nil {
		return
	}
	m.recordViews.Inc()
}
