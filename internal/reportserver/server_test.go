package reportserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/r9s-ai/proxy-unifier/pkg/unifier"
)

type fixture struct {
	srv       *Server
	sourceDir string
	bundleDir string
	calls     [][]string
}

func newFixture(t *testing.T, log *zap.Logger) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	f := &fixture{sourceDir: filepath.Join(root, "src"), bundleDir: filepath.Join(root, "zips")}
	for _, p := range []string{"orders/apiproxy", "users/apiproxy", "notes"} {
		if err := os.MkdirAll(filepath.Join(f.sourceDir, p), 0o750); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	f.srv = New(f.sourceDir, f.bundleDir, func(_ context.Context, proxies []string) unifier.Report {
		f.calls = append(f.calls, proxies)
		runs := make([]unifier.Result, 0, len(proxies))
		for _, p := range proxies {
			runs = append(runs, unifier.Result{Proxy: p, Bundles: []unifier.BundleSummary{{Name: p + "_0"}}})
		}
		return unifier.NewReport(runs)
	}, log)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealthzAndRequestID(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("missing request id header")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "rid-7")
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "rid-7" {
		t.Fatalf("request id=%q want rid-7", got)
	}
}

func TestListProxies(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/api/proxies", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body struct{ Proxies []string }
	decode(t, w, &body)
	if strings.Join(body.Proxies, ",") != "orders,users" {
		t.Fatalf("proxies=%v", body.Proxies)
	}
}

func TestUnifyAndLastRun(t *testing.T) {
	f := newFixture(t, nil)
	if w := f.do(t, http.MethodGet, "/api/runs/last", ""); w.Code != http.StatusNotFound {
		t.Fatalf("last before any run status=%d", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/unify", `{"proxies":["users"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unify status=%d body=%s", w.Code, w.Body.String())
	}
	var report unifier.Report
	decode(t, w, &report)
	if report.Total != 1 || report.Runs[0].Proxy != "users" {
		t.Fatalf("report=%+v", report)
	}

	w = f.do(t, http.MethodPost, "/api/unify", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unify all status=%d", w.Code)
	}
	if len(f.calls) != 2 || strings.Join(f.calls[1], ",") != "orders,users" {
		t.Fatalf("calls=%v", f.calls)
	}

	w = f.do(t, http.MethodGet, "/api/runs/last", "")
	if w.Code != http.StatusOK {
		t.Fatalf("last status=%d", w.Code)
	}
	decode(t, w, &report)
	if report.Total != 2 {
		t.Fatalf("last report total=%d", report.Total)
	}
}

func TestUnify_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	if w := f.do(t, http.MethodPost, "/api/unify", `{"proxies":["orders","ghost"]}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown proxy status=%d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/unify", `{"proxies":`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json status=%d", w.Code)
	}

	f.srv.running.Lock()
	w := f.do(t, http.MethodPost, "/api/unify", `{"proxies":["orders"]}`)
	f.srv.running.Unlock()
	if w.Code != http.StatusConflict {
		t.Fatalf("busy status=%d", w.Code)
	}
	if len(f.calls) != 0 {
		t.Fatalf("unify should not have run: %v", f.calls)
	}
}

func TestBundles(t *testing.T) {
	f := newFixture(t, nil)
	if w := f.do(t, http.MethodGet, "/api/bundles", ""); w.Code != http.StatusOK {
		t.Fatalf("empty bundle dir status=%d", w.Code)
	}

	if err := os.MkdirAll(f.bundleDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"Proxy_1.zip", "Proxy_0.zip", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(f.bundleDir, name), []byte("PK"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	w := f.do(t, http.MethodGet, "/api/bundles", "")
	var body struct {
		Bundles []archiveInfo `json:"bundles"`
	}
	decode(t, w, &body)
	if len(body.Bundles) != 2 || body.Bundles[0].Name != "Proxy_0" || body.Bundles[1].Size != 2 {
		t.Fatalf("bundles=%+v", body.Bundles)
	}

	w = f.do(t, http.MethodGet, "/api/bundles/Proxy_0", "")
	if w.Code != http.StatusOK || w.Body.String() != "PK" {
		t.Fatalf("download status=%d body=%q", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "Proxy_0.zip") {
		t.Fatalf("content-disposition=%q", cd)
	}
	if w := f.do(t, http.MethodGet, "/api/bundles/Proxy_9.zip", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing bundle status=%d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/bundles/..", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("dot name status=%d", w.Code)
	}
}

func TestRequestLogger_LevelsByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	f := newFixture(t, zap.New(core))
	f.do(t, http.MethodGet, "/healthz", "")
	f.do(t, http.MethodGet, "/api/bundles/nope", "")

	entries := logs.FilterMessage("request").All()
	if len(entries) != 2 {
		t.Fatalf("entries=%d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("levels=%v,%v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["path"] != "/api/bundles/nope" {
		t.Fatalf("fields=%v", entries[1].ContextMap())
	}
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("ListenAndServe err=%v", err)
	}
}
