package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test")
	ObserveHTTP("GET", "/featureinfo", 200, 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "app_build_info") || !strings.Contains(body, "http_requests_total") {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestInit_ExposesOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	// registering twice is harmless
	Init(reg, true)

	IncTransaction("1.1.0", "built")
	IncCacheResult("l1", "hit")
	IncCacheResult("l2", "miss")
	ObserveCacheOp("get", errors.New("timeout"), 3*time.Millisecond)
	ObserveFeatureInfo("raster_collection", 2)
	IncAddress("getmap", "ok")
	IncChangeEvent("dropped")

	if got := testutil.ToFloat64(transactionsTotal.WithLabelValues("1.1.0", "built")); got < 1 {
		t.Fatalf("transactions got %v", got)
	}
	if got := testutil.ToFloat64(cacheResults.WithLabelValues("l1", "hit")); got < 1 {
		t.Fatalf("l1 hits got %v", got)
	}

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("metrics scrape: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	out := string(b)
	for _, want := range []string{
		`cache_op_duration_seconds_bucket{op="get",result="error"`,
		`featureinfo_decoded_total{format="raster_collection"}`,
		`wms_addresses_total{kind="getmap",outcome="ok"}`,
		`change_events_total{outcome="dropped"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in:\n%s", want, out)
		}
	}
}

func TestInit_DisabledIsNoop(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, false)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 0 {
		t.Fatalf("expected empty registry, got %d families", len(mfs))
	}
}
