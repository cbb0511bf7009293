package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncRegistration()
	m.IncVerification("ok")
	m.IncVerification("invalid")
	m.IncVerification("invalid")
	m.IncIntegrityCheck(false)
	m.IncNotificationFailure("verify")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Registrations))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Verifications.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntegrityChecks.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailures.WithLabelValues("verify")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncLogin("ok")
		m.IncCaseCreated()
		m.ObserveHTTP("GET", "/healthz", 200, time.Millisecond)
	})
}

func TestHandler_Exposition(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IncCaseDeleted()
	m.ObserveHTTP("POST", "/case/create/{ownerId}", 201, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	out := string(body)
	assert.True(t, strings.Contains(out, "storink_cases_deleted_total 1"), out)
	assert.Contains(t, out, `route="/case/create/{ownerId}"`)
}
