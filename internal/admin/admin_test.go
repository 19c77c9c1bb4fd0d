package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"wirepass/internal/config"
	"wirepass/internal/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		Proxy:   config.ProxyConfig{Target: "http://upstream:8080"},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func TestHealthz(t *testing.T) {
	e := echo.New()
	h := NewHandler(testConfig(), "test")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	if err := h.Healthz(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestStatus(t *testing.T) {
	e := echo.New()
	h := NewHandler(testConfig(), "1.2.3")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	if err := h.Status(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["version"] != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", body["version"])
	}
	if body["target"] != "http://upstream:8080" {
		t.Errorf("target = %q", body["target"])
	}
}

func TestRegisterRoutes_MetricsEndpoint(t *testing.T) {
	e := echo.New()
	cfg := testConfig()
	RegisterRoutes(e, NewHandler(cfg, "test"), metrics.New(), cfg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", rec.Code)
	}
}
