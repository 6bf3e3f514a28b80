package web

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tidyimport/internal/config"
	"github.com/JonMunkholm/tidyimport/internal/core"
	"github.com/JonMunkholm/tidyimport/internal/export"
	"github.com/JonMunkholm/tidyimport/internal/spec"
)

const peopleSpec = `
columns:
  - source: Name
    target: name
    required: true
  - source: Age
    target: age
    type: integer
`

const peopleCSV = "Name,Age\nAlice,30\n,40\nBob,x\n"

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, ShutdownTimeout: time.Second},
		Database: config.DatabaseConfig{Table: "imported_records", ImportIDColumn: "import_id", BatchSize: 100},
		Import: config.ImportConfig{
			MaxFileSize:   1 << 20,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			Timeout:       10 * time.Second,
			Workers:       1,
		},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
}

// newTestServer registers the people spec and returns a server without a
// database sink.
func newTestServer(t *testing.T, cfg *config.Config, store export.Store) *Server {
	t.Helper()
	core.Clear()
	t.Cleanup(core.Clear)

	sp, err := spec.Parse([]byte(peopleSpec))
	require.NoError(t, err)
	require.NoError(t, core.Register("people", "hr", sp))

	return NewServer(cfg, store)
}

func multipartBody(t *testing.T, fields map[string]string, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func postImport(t *testing.T, s *Server, target string, fields map[string]string, fileName, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fields, fileName, content)
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", contentType)
	return doRequest(s, req)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// ----------------------------------------------------------------------------
// Health and spec listing
// ----------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Specs)
	assert.Equal(t, 2, resp.Imports.MaxConcurrent)
	assert.False(t, resp.Database)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestListSpecs(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/api/specs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SpecListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Specs, 1)
	assert.Equal(t, "people", resp.Specs[0].Key)
	assert.Equal(t, []string{"name", "age"}, resp.Specs[0].Columns)
	assert.Equal(t, []string{"hr"}, resp.Groups)

	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/api/specs?group=finance", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Specs)
}

func TestGetSpec(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/api/specs/people", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SpecResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Spec.Columns, 2)
	assert.Equal(t, "Name", resp.Spec.Columns[0].Source)

	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/api/specs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SPEC002", decodeError(t, rec).Code)
}

// ----------------------------------------------------------------------------
// Imports
// ----------------------------------------------------------------------------

func TestImport_RegisteredSpec(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	rec := postImport(t, s, "/api/import/people", nil, "people.csv", peopleCSV)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		ImportID    string           `json:"import_id"`
		Spec        string           `json:"spec"`
		Records     []map[string]any `json:"records"`
		Errors      []core.RowError  `json:"errors"`
		RecordCount int              `json:"record_count"`
		ErrorCount  int              `json:"error_count"`
		Fingerprint string           `json:"fingerprint"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	_, err := uuid.Parse(resp.ImportID)
	assert.NoError(t, err)
	assert.Equal(t, "people", resp.Spec)
	assert.Equal(t, 2, resp.RecordCount)
	assert.Equal(t, 1, resp.ErrorCount)
	assert.NotEmpty(t, resp.Fingerprint)

	require.Len(t, resp.Records, 2)
	assert.Equal(t, "Alice", resp.Records[0]["name"])
	assert.Equal(t, float64(30), resp.Records[0]["age"])
	assert.Equal(t, false, resp.Records[0]["is_former"])
	assert.Nil(t, resp.Records[1]["age"])

	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 3, resp.Errors[0].Row)
	assert.Equal(t, "name", resp.Errors[0].Column)
}

func TestImport_SameInputSameFingerprint(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	fingerprint := func() string {
		rec := postImport(t, s, "/api/import/people", nil, "people.csv", peopleCSV)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ImportResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp.Fingerprint
	}
	assert.Equal(t, fingerprint(), fingerprint())
}

func TestImport_CSVFormat(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	rec := postImport(t, s, "/api/import/people?format=csv", nil, "people.csv", peopleCSV)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "2", rec.Header().Get("X-Record-Count"))
	assert.Equal(t, "1", rec.Header().Get("X-Error-Count"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `"people.csv"`)
	assert.Equal(t, "name,age,is_former\nAlice,30,false\nBob,,false\n", rec.Body.String())
}

func TestImport_DBFormat(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE imported_records (import_id TEXT, name TEXT, age INTEGER, is_former BOOLEAN)`)
	require.NoError(t, err)

	store, err := export.NewSQLStore("sqlite", db)
	require.NoError(t, err)
	s := newTestServer(t, testConfig(), store)

	rec := postImport(t, s, "/api/import/people?format=db", nil, "people.csv", peopleCSV)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ImportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Written)
	assert.Equal(t, int64(2), *resp.Written)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM imported_records WHERE import_id = ?`, resp.ImportID).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestImport_AdHocSpec(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	rec := postImport(t, s, "/api/import", map[string]string{"spec": peopleSpec}, "people.csv", peopleCSV)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ImportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.RecordCount)
	assert.Empty(t, resp.Spec)
}

func TestImport_Errors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		fields   map[string]string
		fileName string
		content  string
		status   int
		code     string
	}{
		{
			name:     "unknown spec",
			target:   "/api/import/nope",
			fileName: "people.csv", content: peopleCSV,
			status: http.StatusNotFound, code: "SPEC002",
		},
		{
			name:   "no file",
			target: "/api/import/people",
			fields: map[string]string{"other": "x"},
			status: http.StatusBadRequest, code: "FILE004",
		},
		{
			name:     "unknown format",
			target:   "/api/import/people?format=parquet",
			fileName: "people.csv", content: peopleCSV,
			status: http.StatusBadRequest, code: "IMP004",
		},
		{
			name:     "db without database",
			target:   "/api/import/people?format=db",
			fileName: "people.csv", content: peopleCSV,
			status: http.StatusConflict, code: "DB006",
		},
		{
			name:     "unsupported file type",
			target:   "/api/import/people",
			fileName: "people.pdf", content: peopleCSV,
			status: http.StatusBadRequest, code: "FILE003",
		},
		{
			name:     "missing header row",
			target:   "/api/import",
			fields:   map[string]string{"spec": peopleSpec + "input:\n  header_row: 10\n"},
			fileName: "people.csv", content: peopleCSV,
			status: http.StatusBadRequest, code: "FILE005",
		},
		{
			name:     "invalid ad hoc spec",
			target:   "/api/import",
			fields:   map[string]string{"spec": "columns: nope\n"},
			fileName: "people.csv", content: peopleCSV,
			status: http.StatusUnprocessableEntity, code: "SPEC001",
		},
		{
			name:     "missing ad hoc spec",
			target:   "/api/import",
			fileName: "people.csv", content: peopleCSV,
			status: http.StatusUnprocessableEntity, code: "SPEC001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, testConfig(), nil)

			rec := postImport(t, s, tt.target, tt.fields, tt.fileName, tt.content)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestImport_InvalidSpecReportsPath(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	bad := "columns:\n  - source: A\n    target: a\ndynamic_columns:\n  - pattern: Q\n    mode: weird\n    target: t\n"
	rec := postImport(t, s, "/api/import", map[string]string{"spec": bad}, "people.csv", peopleCSV)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "dynamic_columns[0].mode", decodeError(t, rec).Path)
}

func TestImport_FileTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxFileSize = 8
	s := newTestServer(t, cfg, nil)

	rec := postImport(t, s, "/api/import/people", nil, "people.csv", peopleCSV)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "FILE001", decodeError(t, rec).Code)
}

func TestImport_Busy(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxConcurrent = 1
	cfg.Import.MaxWaitTime = 10 * time.Millisecond
	s := newTestServer(t, cfg, nil)

	require.True(t, s.Limiter().TryAcquire())
	defer s.Limiter().Release()

	rec := postImport(t, s, "/api/import/people", nil, "people.csv", peopleCSV)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "IMP001", decodeError(t, rec).Code)
}

// ----------------------------------------------------------------------------
// Middleware wiring
// ----------------------------------------------------------------------------

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	s := newTestServer(t, cfg, nil)

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/api/specs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/specs", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, doRequest(s, req).Code)

	// Health stays public.
	assert.Equal(t, http.StatusOK, doRequest(s, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	s := newTestServer(t, cfg, nil)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, doRequest(s, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	}
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decodeError(t, rec).Code)
}

func TestRateLimiter_WindowReset(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.allow("a"))

	now = now.Add(3 * time.Minute)
	rl.allow("c")
	assert.NotContains(t, rl.visitors, "b")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(core.ErrTooManyImports))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&spec.Error{Message: "bad"}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
	assert.True(t, strings.HasPrefix(core.MapError(errNoSpec).Code, "SPEC"))
}
