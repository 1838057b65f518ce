package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserversIncrementCollectors(t *testing.T) {
	before := testutil.ToFloat64(syncOutcomes.WithLabelValues("trial", "failed"))
	ObserveSync("trial", "failed", 0.2)
	assert.Equal(t, before+1, testutil.ToFloat64(syncOutcomes.WithLabelValues("trial", "failed")))

	before = testutil.ToFloat64(trialsCommitted.WithLabelValues("unknown", "false"))
	ObserveTrialCommitted("", false)
	assert.Equal(t, before+1, testutil.ToFloat64(trialsCommitted.WithLabelValues("unknown", "false")))

	SetActiveSessions(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(activeSessions))
}

func TestHandlerExposesNamespace(t *testing.T) {
	reg := NewRegistry()
	ObserveSessionOpened(true)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "moderator_sessions_opened_total")
}
