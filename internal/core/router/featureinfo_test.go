package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/ows-codec/internal/cache"
	"github.com/mohammed-shakir/ows-codec/internal/logger"
)

const pointCollection = `{"type":"FeatureCollection","features":[
  {"type":"Feature","id":"roads.4","properties":{"name":"E6","lanes":2},
   "geometry":{"type":"Point","coordinates":[120,2500]}}]}`

func TestHandleFeatureInfo_FetchesThroughCache(t *testing.T) {
	exec := &fakeExec{infoBody: pointCollection, infoCT: "application/json; charset=utf-8"}
	d := testDeps(t, exec)
	d.Cache = cache.NewLayered(discardLogger(), nil, 16, time.Second)
	h := HandleFeatureInfo(discardLogger(), d)

	target := "/featureinfo?layer=roads&x=130&y=2485&resolution=5.2&crs=EPSG:25833"
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, target, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("x-cache %q", rr.Header().Get("X-Cache"))
	}

	var out struct {
		Format   string `json:"format"`
		URL      string `json:"url"`
		Features []struct {
			ID         string         `json:"id"`
			Layer      string         `json:"layer"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Format != "geojson" || len(out.Features) != 1 || out.Features[0].ID != "roads.4" || out.Features[0].Layer != "roads" {
		t.Fatalf("unexpected result %+v", out)
	}
	if !strings.Contains(out.URL, "INFO_FORMAT=application%2Fjson") || !strings.Contains(out.URL, "REQUEST=GetFeatureInfo") {
		t.Fatalf("url %s", out.URL)
	}

	rr = httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, target, nil))
	if rr.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second lookup x-cache %q", rr.Header().Get("X-Cache"))
	}
	if len(exec.fetched) != 1 {
		t.Fatalf("upstream fetched %d times", len(exec.fetched))
	}
}

func TestHandleFeatureInfo_LogsLayerAndCacheTier(t *testing.T) {
	var buf bytes.Buffer
	zl := logger.Build(logger.Config{Level: "debug"}, &buf)
	exec := &fakeExec{infoBody: pointCollection, infoCT: "application/json"}
	d := testDeps(t, exec)
	d.Cache = cache.NewLayered(discardLogger(), nil, 16, time.Second)
	h := HandleFeatureInfo(logger.NewSlog(&zl), d)

	target := "/featureinfo?layer=roads&x=130&y=2485&resolution=5.2&crs=EPSG:25833"
	for _, tier := range []string{"upstream", "cache"} {
		buf.Reset()
		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("status %d", rr.Code)
		}
		out := buf.String()
		if !strings.Contains(out, `"layer":"roads"`) || !strings.Contains(out, `"cache_tier":"`+tier+`"`) {
			t.Fatalf("log line missing layer or tier %q: %s", tier, out)
		}
	}
}

func TestHandleFeatureInfo_NoGridIsNoInformation(t *testing.T) {
	exec := &fakeExec{}
	h := HandleFeatureInfo(discardLogger(), testDeps(t, exec))

	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/featureinfo?layer=nib&x=1&y=2&resolution=10", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status %d", rr.Code)
	}
	if rr.Header().Get("X-Message") != "no information available here" {
		t.Fatalf("message %q", rr.Header().Get("X-Message"))
	}
	if len(exec.fetched) != 0 {
		t.Fatal("nothing should be fetched")
	}
}

func TestHandleFeatureInfo_BadInput(t *testing.T) {
	h := HandleFeatureInfo(discardLogger(), testDeps(t, &fakeExec{}))
	for target, code := range map[string]int{
		"/featureinfo?layer=unknown&x=1&y=1&resolution=1": http.StatusNotFound,
		"/featureinfo?layer=roads&y=1&resolution=1":       http.StatusBadRequest,
		"/featureinfo?layer=roads&x=1&y=1&resolution=abc": http.StatusBadRequest,
		"/featureinfo?layer=roads&x=1&y=1&resolution=-2":  http.StatusBadRequest,
	} {
		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != code {
			t.Fatalf("%s: status %d want %d", target, rr.Code, code)
		}
	}
}

func TestHandleDecode_AppliesRules(t *testing.T) {
	h := HandleDecode(discardLogger(), testDeps(t, &fakeExec{}))

	req := httptest.NewRequest(http.MethodPost, "/featureinfo/decode?layer=nib_2020&x=10&y=20", strings.NewReader("Teig 12/3"))
	req.Header.Set("Content-Type", "text/html")
	rr := httptest.NewRecorder()
	h(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{`"format":"plain_text"`, `"text":"Teig 12/3"`, `"coordinates":[10,20]`} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q: %s", want, body)
		}
	}

	req = httptest.NewRequest(http.MethodPost, "/featureinfo/decode", strings.NewReader("<html/>"))
	req.Header.Set("Content-Type", "text/html")
	rr = httptest.NewRecorder()
	h(rr, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"format":"unrecognized","features":[]`) {
		t.Fatalf("unrecognized body %s", rr.Body.String())
	}
}
