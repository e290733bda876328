package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"contactlink/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordResolution(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordResolution(models.OutcomeMerged, "ok", 3*time.Millisecond)
	m.RecordResolution(models.OutcomeMerged, "ok", 5*time.Millisecond)
	m.RecordResolution("", "invalid_input", time.Microsecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ResolutionsTotal.WithLabelValues("merged", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolutionsTotal.WithLabelValues("none", "invalid_input")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ResolutionDuration))
}

func TestRecordLookupIsSeparate(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordLookup("ok", time.Millisecond)
	m.RecordLookup("store_error", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.LookupDuration))
	assert.Zero(t, testutil.CollectAndCount(m.ResolutionsTotal))
}

func TestRecordRetryAndRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRetry()
	m.RecordRequest("/identify", http.StatusOK)
	m.RecordRequest("/identify", http.StatusOK)
	m.RecordRequest("/identify", http.StatusBadRequest)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetriesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/identify", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/identify", "400")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordRetry()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "contactlink_resolver_retries_total 1")
}
