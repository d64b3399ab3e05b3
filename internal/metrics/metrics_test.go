package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	IncUpdate("Notes", "text")
	if got := testutil.ToFloat64(updatesTotal.WithLabelValues("notes", "text")); got != 1 {
		t.Fatalf("updates = %v", got)
	}
	IncRejected("")
	if got := testutil.ToFloat64(updatesRejected.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("rejected = %v", got)
	}
	ObserveVendorCall("openai", "chat", time.Now(), errors.New("boom"))
	if got := testutil.ToFloat64(vendorCalls.WithLabelValues("openai", "chat", "false")); got != 1 {
		t.Fatalf("vendor calls = %v", got)
	}
	IncSchedulerRun("reminder", true)
	if got := testutil.ToFloat64(schedulerRuns.WithLabelValues("reminder", "true")); got != 1 {
		t.Fatalf("scheduler runs = %v", got)
	}
}

func TestRouter(t *testing.T) {
	MustRegister()
	IncUpdate("sleep", "callback")
	h := Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "bot_updates_total") {
		t.Fatal("metrics output misses bot_updates_total")
	}
}
