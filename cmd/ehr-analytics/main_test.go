package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/analytics/internal/config"
	"github.com/ehr/analytics/internal/domain/records"
	"github.com/ehr/analytics/internal/ingest"
	"github.com/ehr/analytics/internal/platform/db"
	"github.com/ehr/analytics/internal/platform/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                "0",
		Env:                 "test",
		StoreBackend:        config.BackendMemory,
		RequestTimeout:      5 * time.Second,
		SelfPaySentinel:     "No Insurance",
		ChronicCodes:        "E11,I10",
		RetentionWindowDays: 180,
		ERWindowDays:        45,
		LatePaymentDays:     45,
	}
}

func seededDir(t *testing.T) string {
	t.Helper()
	d, err := ingest.Generate(ingest.SeedOptions{
		Seed: 11, Patients: 40, Doctors: 5, Visits: 120,
		Now: time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	dir := t.TempDir()
	if err := ingest.WriteDir(dir, d); err != nil {
		t.Fatalf("write dir: %v", err)
	}
	return dir
}

func newTestServer(t *testing.T) (http.Handler, *backend) {
	t.Helper()
	cfg := testConfig()
	cfg.DataDir = seededDir(t)
	b, err := openBackend(context.Background(), cfg, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	return newServer(cfg, b, metrics.NewCollector(), zerolog.Nop()), b
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestOpenBackend_MemoryLoadsDataDir(t *testing.T) {
	_, b := newTestServer(t)
	if b.pool != nil {
		t.Fatal("memory backend should not open a pool")
	}
	snap, err := b.store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Patients) != 40 || len(snap.Visits) != 120 {
		t.Errorf("expected 40 patients and 120 visits, got %d and %d", len(snap.Patients), len(snap.Visits))
	}
}

func TestOpenBackend_BadDataDir(t *testing.T) {
	cfg := testConfig()
	cfg.DataDir = t.TempDir() + "/missing"
	if _, err := openBackend(context.Background(), cfg, zerolog.Nop(), nil); err == nil {
		t.Fatal("expected error for missing DATA_DIR")
	}
}

func TestOpenBackend_UnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.StoreBackend = "sqlite"
	if _, err := openBackend(context.Background(), cfg, zerolog.Nop(), nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestServer_Health(t *testing.T) {
	h, _ := newTestServer(t)

	rec := get(t, h, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	rec = get(t, h, "/health/db")
	if !strings.Contains(rec.Body.String(), `"backend":"memory"`) {
		t.Errorf("expected memory backend in %s", rec.Body.String())
	}
}

func TestServer_ReportsAndRecords(t *testing.T) {
	h, _ := newTestServer(t)

	rec := get(t, h, "/api/v1/reports/measures")
	if rec.Code != http.StatusOK {
		t.Fatalf("list measures: expected 200, got %d", rec.Code)
	}

	rec = get(t, h, "/api/v1/reports/measures/visit-count-by-type/evaluate")
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluate: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report struct {
		Results []struct {
			Visits int `json:"visits"`
		} `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	total := 0
	for _, r := range report.Results {
		total += r.Visits
	}
	if total != 120 {
		t.Errorf("visit counts should sum to 120, got %d", total)
	}

	rec = get(t, h, "/api/v1/reports/measures/top-cities/evaluate?n=-1")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative n, got %d", rec.Code)
	}

	rec = get(t, h, "/api/v1/patients/1")
	if rec.Code != http.StatusOK {
		t.Errorf("get patient: expected 200, got %d", rec.Code)
	}
	rec = get(t, h, "/api/v1/patients/99999")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing patient: expected 404, got %d", rec.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	h, _ := newTestServer(t)

	get(t, h, "/api/v1/reports/measures/insurance-providers/evaluate")
	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"ehr_analytics_http_requests_total",
		`ehr_analytics_measure_evaluations_total{measure="insurance-providers",outcome="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestReportingDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.ChronicCodes = " e11, ,i10 "
	d := reportingDefaults(cfg)
	if len(d.ChronicCodes) != 2 || d.ChronicCodes[0] != "E11" || d.ChronicCodes[1] != "I10" {
		t.Errorf("unexpected chronic codes %v", d.ChronicCodes)
	}
	if d.LatePaymentDays != 45 || d.SelfPaySentinel != "No Insurance" {
		t.Errorf("unexpected defaults %+v", d)
	}
}

func TestReportCommand(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("LOG_LEVEL", "disabled")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("DATA_DIR", seededDir(t))

	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"report", "top-cities", "-p", "n=3"})
	if err := root.Execute(); err != nil {
		t.Fatalf("report: %v", err)
	}

	var report struct {
		MeasureID  string            `json:"measure_id"`
		Parameters map[string]string `json:"parameters"`
		Total      int               `json:"total"`
	}
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	if report.MeasureID != "top-cities" || report.Parameters["n"] != "3" {
		t.Errorf("unexpected report %+v", report)
	}
	if report.Total == 0 || report.Total > 3 {
		t.Errorf("expected 1..3 rows, got %d", report.Total)
	}
}

func TestReportCommand_UnknownMeasure(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("LOG_LEVEL", "disabled")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("DATA_DIR", "")

	root := rootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"report", "no-such-measure"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for unknown measure")
	}
}

func TestPrintOutput(t *testing.T) {
	var buf bytes.Buffer
	printCounts(&buf, ingest.Counts{records.KindPatient: 3, records.KindVisit: 5})
	if !strings.Contains(buf.String(), "total          8") {
		t.Errorf("unexpected counts output:\n%s", buf.String())
	}

	buf.Reset()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	printStatus(&buf, "public", []db.MigrationStatus{
		{Version: 1, Name: "core", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "indexes"},
	})
	out := buf.String()
	if !strings.Contains(out, "2024-01-02 03:04:05") || !strings.Contains(out, "pending") {
		t.Errorf("unexpected status output:\n%s", out)
	}
}
