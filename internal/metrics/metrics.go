// Package metrics defines the Prometheus instruments of the server.
//
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storink"

// Metrics holds every counter and histogram the server exports.
type Metrics struct {
	Registrations        prometheus.Counter
	Verifications        *prometheus.CounterVec
	Decisions            *prometheus.CounterVec
	Logins               *prometheus.CounterVec
	PasswordResets       *prometheus.CounterVec
	Captures             prometheus.Counter
	IntegrityChecks      *prometheus.CounterVec
	CasesCreated         prometheus.Counter
	CasesDeleted         prometheus.Counter
	NotificationFailures *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the instruments with reg. reg also serves the exposition handler.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registrations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registrations accepted into pending state",
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "email_verifications_total",
			Help:      "Email verification attempts by result",
		}, []string{"result"}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "onboarding_decisions_total",
			Help:      "Administrator onboarding decisions by outcome",
		}, []string{"outcome"}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Authentication attempts by result",
		}, []string{"result"}),
		PasswordResets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_resets_total",
			Help:      "Password reset attempts by result",
		}, []string{"result"}),
		Captures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screenshots_captured_total",
			Help:      "Screenshots recorded",
		}),
		IntegrityChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_checks_total",
			Help:      "Integrity verifications by match",
		}, []string{"match"}),
		CasesCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cases_created_total",
			Help:      "Cases created",
		}),
		CasesDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cases_deleted_total",
			Help:      "Cases deleted",
		}),
		NotificationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be delivered, by purpose",
		}, []string{"purpose"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		gatherer: reg,
	}
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) IncRegistration() {
	if m == nil {
		return
	}
	m.Registrations.Inc()
}

func (m *Metrics) IncVerification(result string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) IncDecision(outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncLogin(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

func (m *Metrics) IncPasswordReset(result string) {
	if m == nil {
		return
	}
	m.PasswordResets.WithLabelValues(result).Inc()
}

func (m *Metrics) IncCapture() {
	if m == nil {
		return
	}
	m.Captures.Inc()
}

func (m *Metrics) IncIntegrityCheck(match bool) {
	if m == nil {
		return
	}
	m.IntegrityChecks.WithLabelValues(strconv.FormatBool(match)).Inc()
}

func (m *Metrics) IncCaseCreated() {
	if m == nil {
		return
	}
	m.CasesCreated.Inc()
}

func (m *Metrics) IncCaseDeleted() {
	if m == nil {
		return
	}
	m.CasesDeleted.Inc()
}

func (m *Metrics) IncNotificationFailure(purpose string) {
	if m == nil {
		return
	}
	m.NotificationFailures.WithLabelValues(purpose).Inc()
}

// ObserveHTTP records one request. route is the chi route pattern, not the raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
