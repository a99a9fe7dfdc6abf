package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAccumulate(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(permissionTransitions.WithLabelValues("approved"))
	PermissionTransitioned("approved")
	PermissionTransitioned("approved")
	if got := testutil.ToFloat64(permissionTransitions.WithLabelValues("approved")) - before; got != 2 {
		t.Fatalf("expected 2 transitions, got %v", got)
	}

	processedBefore := testutil.ToFloat64(bulkItems.WithLabelValues("processed"))
	failedBefore := testutil.ToFloat64(bulkItems.WithLabelValues("failed"))
	BulkProcessed(3, 1)
	if got := testutil.ToFloat64(bulkItems.WithLabelValues("processed")) - processedBefore; got != 3 {
		t.Fatalf("expected 3 processed, got %v", got)
	}
	if got := testutil.ToFloat64(bulkItems.WithLabelValues("failed")) - failedBefore; got != 1 {
		t.Fatalf("expected 1 failed, got %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	Init()
	ExpiredBySweep(4)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pengadaan_permission_expired_by_sweep_total") {
		t.Fatalf("sweep counter missing from exposition")
	}
}
