package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/cdainsight/internal/config"
	"github.com/ehr/cdainsight/internal/platform/auth"
	"github.com/ehr/cdainsight/internal/platform/batch"
	"github.com/ehr/cdainsight/internal/platform/blobstore"
	"github.com/ehr/cdainsight/internal/platform/cache"
	"github.com/ehr/cdainsight/internal/platform/ccda"
	"github.com/ehr/cdainsight/internal/platform/db"
	"github.com/ehr/cdainsight/internal/platform/semantic"
	"github.com/ehr/cdainsight/internal/platform/telemetry"
)

const minimalCDA = `<ClinicalDocument xmlns="urn:hl7-org:v3"><code code="34133-9"/></ClinicalDocument>`

const patientCDA = `<ClinicalDocument xmlns="urn:hl7-org:v3">
  <recordTarget><patientRole><id extension="P-1"/><patient>
    <name><given>Ana</given><family>Ruiz</family></name>
    <administrativeGenderCode code="F"/>
    <birthTime value="19800101"/>
  </patient></patientRole></recordTarget>
</ClinicalDocument>`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestExtractCommand(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.xml", minimalCDA)

	out, err := runCLI(t, "extract", path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
}

func TestExtractCommand_MissingFile(t *testing.T) {
	_, err := runCLI(t, "extract", filepath.Join(t.TempDir(), "absent.xml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

func TestExtractCommand_RequiresArg(t *testing.T) {
	if _, err := runCLI(t, "extract"); err == nil {
		t.Error("expected an argument error")
	}
}

func TestAnalyzeCommand(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.xml", minimalCDA)

	out, err := runCLI(t, "analyze", path)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(out, "{") {
		t.Errorf("expected JSON output, got %q", out)
	}
}

func TestValidateCommand_InvalidDocument(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.xml", minimalCDA)

	out, err := runCLI(t, "validate", path)
	if !errors.Is(err, errInvalidDocument) {
		t.Fatalf("err = %v, want errInvalidDocument", err)
	}
	var got validateOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.Valid {
		t.Error("valid = true for a document without header elements")
	}
	if got.File != path {
		t.Errorf("file = %q, want %q", got.File, path)
	}
	if len(got.Validation) == 0 {
		t.Error("expected validation results")
	}
}

func TestValidateCommand_MalformedXML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.xml", "<ClinicalDocument>")

	_, err := runCLI(t, "validate", path)
	if err == nil || errors.Is(err, errInvalidDocument) {
		t.Errorf("err = %v, want a parse error", err)
	}
}

func TestBatchCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.xml", patientCDA)
	writeFile(t, dir, "b.xml", minimalCDA)
	writeFile(t, dir, "broken.xml", "<ClinicalDocument")
	writeFile(t, dir, "notes.txt", "ignored")

	out, err := runCLI(t, "batch", "--workers", "2", dir)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	var report batch.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if report.Statistics.TotalDocuments != 2 {
		t.Errorf("totalDocuments = %d, want 2", report.Statistics.TotalDocuments)
	}
	if len(report.Failures) != 1 || report.Failures[0].FileName != "broken.xml" {
		t.Errorf("failures = %+v", report.Failures)
	}
	if report.Source != "dir:"+dir {
		t.Errorf("source = %q", report.Source)
	}
}

func TestBatchCommand_StatsOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.xml", patientCDA)

	out, err := runCLI(t, "batch", "--stats-only", dir)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	var stats map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if _, ok := stats["totalDocuments"]; !ok {
		t.Errorf("missing totalDocuments in %s", out)
	}
	if _, ok := stats["documents"]; ok {
		t.Error("stats-only output should not carry documents")
	}
}

func TestBatchCommand_MissingDir(t *testing.T) {
	if _, err := runCLI(t, "batch", filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected an error for a missing directory")
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("AUTH_SIGNING_KEY", strings.Repeat("k", 32))

	out, err := runCLI(t, "token", "--subject", "svc-batch", "--role", auth.RoleAnalyst)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Errorf("expected a compact JWT, got %q", out)
	}
}

func testServices() *services {
	extractor := ccda.NewExtractor(ccda.ExtractorOptions{})
	svc := &services{
		extractor: extractor,
		analyzer:  semantic.NewService(extractor, cache.Noop{}, time.Minute, zerolog.Nop()),
		runner:    batch.NewRunner(batch.NewHeuristicExtractor(), 2, zerolog.Nop()),
		store:     blobstore.NewInMemoryBlobStore(),
		metrics:   telemetry.New(),
		checks:    map[string]db.Check{},
	}
	svc.analyzer.SetRecorder(svc.metrics.AnalysisRecorder(nil))
	return svc
}

func testConfig() *config.Config {
	return &config.Config{
		Port:           "8000",
		Env:            "development",
		LogLevel:       "info",
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		BodyLimit:      "1M",
		BatchWorkers:   2,
		CacheTTL:       time.Minute,
	}
}

func serve(e http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	e := newServer(testConfig(), zerolog.Nop(), testServices())

	rec := serve(e, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != version {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}

	rec = serve(e, http.MethodGet, "/health/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("ready status = %d, want 200", rec.Code)
	}
}

func TestServer_AnalyzeRoute(t *testing.T) {
	e := newServer(testConfig(), zerolog.Nop(), testServices())

	rec := serve(e, http.MethodPost, "/api/v1/cda/analyze", minimalCDA, http.Header{"Content-Type": {"application/xml"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestServer_Metrics(t *testing.T) {
	svc := testServices()
	e := newServer(testConfig(), zerolog.Nop(), svc)

	serve(e, http.MethodPost, "/api/v1/cda/analyze", minimalCDA, nil)
	if got := svc.metrics.Counter(telemetry.DocumentsAnalyzed); got != 1 {
		t.Errorf("analyzed counter = %d, want 1", got)
	}
	if got := svc.metrics.Requests(http.MethodPost, "/api/v1/cda/analyze", http.StatusOK); got != 1 {
		t.Errorf("request series = %d, want 1", got)
	}

	rec := serve(e, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cda_documents_analyzed_total 1") {
		t.Errorf("unexpected exposition:\n%s", rec.Body.String())
	}
}

func TestServer_ReportsNotMountedWithoutDatabase(t *testing.T) {
	e := newServer(testConfig(), zerolog.Nop(), testServices())

	rec := serve(e, http.MethodGet, "/api/v1/reports/batches", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServer_NotFoundIsJSON(t *testing.T) {
	e := newServer(testConfig(), zerolog.Nop(), testServices())

	rec := serve(e, http.MethodGet, "/nowhere", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == "" {
		t.Errorf("expected an error field, got %v", body)
	}
}

func TestServer_JWT(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = strings.Repeat("s", 32)
	cfg.AuthIssuer = "cda-insight"
	e := newServer(cfg, zerolog.Nop(), testServices())

	for _, path := range []string{"/health", "/health/ready", "/metrics"} {
		if rec := serve(e, http.MethodGet, path, "", nil); rec.Code != http.StatusOK {
			t.Errorf("%s should be public, got %d", path, rec.Code)
		}
	}

	rec := serve(e, http.MethodPost, "/api/v1/cda/analyze", minimalCDA, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "missing authorization header" {
		t.Errorf("error = %q", body["error"])
	}

	token, err := auth.NewToken(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		SigningKey: []byte(cfg.AuthSigningKey),
	}, "user-1", []string{auth.RoleAnalyst}, time.Minute)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	rec = serve(e, http.MethodPost, "/api/v1/cda/analyze", minimalCDA, http.Header{"Authorization": {"Bearer " + token}})
	if rec.Code != http.StatusOK {
		t.Errorf("status with token = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestServer_BodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.BodyLimit = "1K"
	e := newServer(cfg, zerolog.Nop(), testServices())

	rec := serve(e, http.MethodPost, "/api/v1/cda/extract", strings.Repeat("x", 4096), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestNewLogger_Level(t *testing.T) {
	cfg := testConfig()
	cfg.LogLevel = "warn"
	if got := newLogger(cfg).GetLevel(); got != zerolog.WarnLevel {
		t.Errorf("level = %v, want warn", got)
	}
	cfg.LogLevel = "bogus"
	if got := newLogger(cfg).GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("level = %v, want info", got)
	}
}
