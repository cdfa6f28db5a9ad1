package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePage(t *testing.T) {
	m := New()
	m.ObservePage("all", 10, 4, time.Millisecond)
	m.ObservePage("all", 3, 3, time.Millisecond)

	assert.Equal(t, 13.0, testutil.ToFloat64(m.pageListings.WithLabelValues("all", "raw")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.pageListings.WithLabelValues("all", "kept")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveHTTP("/api/health", http.MethodGet, 200, time.Second)
	m.ObserveDispatch("CREATE_LISTING", "sent")
	m.ObservePoll("upserted", 3)
	m.SetCursorBlock(9)
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveDispatch("CREATE_LISTING", "sent")
	m.SetCursorBlock(42)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `puzzlr_dispatch_requests_total{action="CREATE_LISTING",outcome="sent"} 1`)
	assert.Contains(t, rec.Body.String(), "puzzlr_poller_cursor_block 42")
}
