package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/mule-engine/internal/audit"
	"github.com/rawblock/mule-engine/internal/flags"
	"github.com/rawblock/mule-engine/internal/heuristics"
	"github.com/rawblock/mule-engine/internal/sar"
	"github.com/rawblock/mule-engine/pkg/models"
)

const triangleCSV = `transaction_id,sender_id,receiver_id,amount,timestamp
T1,ACC_A,ACC_B,1000,2024-01-01 10:00:00
T2,ACC_B,ACC_C,950,2024-01-01 11:00:00
T3,ACC_C,ACC_A,900,2024-01-01 12:00:00
`

type testServer struct {
	router  *gin.Engine
	limiter *RateLimiter
	flags   *flags.MemoryStore
	audit   *audit.FileLog
	alerts  *heuristics.AlertManager
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := flags.NewMemoryStore()
	engine := heuristics.NewEngine(heuristics.DefaultEngineConfig(), flags.Lookup{Store: store}, nil)
	t.Cleanup(engine.Close)

	auditLog := audit.NewFileLog(filepath.Join(t.TempDir(), "sar.log"))
	alerts := heuristics.NewAlertManager(60, nil, nil)

	router, limiter := SetupRouter(Deps{
		Engine:  engine,
		Drafter: sar.PlaceholderDrafter{},
		Flags:   store,
		Audit:   auditLog,
		Alerts:  alerts,
	}, opts)
	t.Cleanup(limiter.Stop)

	return &testServer{router: router, limiter: limiter, flags: store, audit: auditLog, alerts: alerts}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, csv string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "ledger.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Options{AuthToken: "secret"})

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "operational", body["status"])
	assert.Equal(t, "disabled", body["database"])
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealthReportsUnreachableDatabase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router, limiter := SetupRouter(Deps{DB: failingPinger{}}, Options{})
	defer limiter.Stop()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unreachable", body["database"])
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, Options{AuthToken: "secret"})
	payload := map[string]string{"account_id": "ACC_A", "status": "escalated"}

	w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/flag-account", payload))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := jsonRequest(t, http.MethodPost, "/api/v1/flag-account", payload)
	req.Header.Set("Authorization", "Token secret")
	assert.Equal(t, http.StatusForbidden, s.do(req).Code)

	req = jsonRequest(t, http.MethodPost, "/api/v1/flag-account", payload)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusForbidden, s.do(req).Code)

	req = jsonRequest(t, http.MethodPost, "/api/v1/flag-account", payload)
	req.Header.Set("Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, s.do(req).Code)
}

func TestAuthMiddleware_FilingScope(t *testing.T) {
	s := newTestServer(t, Options{AuthToken: "analyst", FilingToken: "filer"})
	submit := func(token string) int {
		req := jsonRequest(t, http.MethodPost, "/api/v1/submit-sar", map[string]any{
			"ring_id":        "RING_001",
			"report_content": map[string]string{"mule_herder": "ACC_A"},
		})
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return s.do(req).Code
	}

	assert.Equal(t, http.StatusUnauthorized, submit(""))
	assert.Equal(t, http.StatusForbidden, submit("analyst"))
	assert.Equal(t, http.StatusOK, submit("filer"))

	// the filing token also covers analyst routes
	req := jsonRequest(t, http.MethodPost, "/api/v1/flag-account", map[string]string{"account_id": "ACC_A", "status": "escalated"})
	req.Header.Set("Authorization", "Bearer filer")
	assert.Equal(t, http.StatusOK, s.do(req).Code)
}

func TestAuthMiddleware_AnalystTokenFilesWithoutFilingToken(t *testing.T) {
	s := newTestServer(t, Options{AuthToken: "secret"})

	req := jsonRequest(t, http.MethodPost, "/api/v1/submit-sar", map[string]any{
		"ring_id":        "RING_001",
		"report_content": map[string]string{"mule_herder": "ACC_A"},
	})
	req.Header.Set("Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, s.do(req).Code)
}

func TestTokensGrant(t *testing.T) {
	both := Tokens{Analyst: "a", Filing: "f"}
	assert.Equal(t, ScopeAnalyst, both.grant("a"))
	assert.Equal(t, ScopeFiling, both.grant("f"))
	assert.Equal(t, Scope(""), both.grant("x"))
	assert.Equal(t, Scope(""), both.grant(""))

	assert.Equal(t, ScopeFiling, Tokens{Analyst: "a"}.grant("a"))
	assert.True(t, ScopeFiling.covers(ScopeAnalyst))
	assert.False(t, ScopeAnalyst.covers(ScopeFiling))
}

func TestAnalyzeUpload(t *testing.T) {
	s := newTestServer(t, Options{})

	w := s.do(uploadRequest(t, triangleCSV))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result models.AnalysisResult
	decode(t, w, &result)

	assert.NotEmpty(t, result.RequestID)
	assert.Equal(t, 3, result.Summary.TotalAccountsAnalyzed)
	require.Len(t, result.FraudRings, 1)
	assert.Equal(t, "RING_001", result.FraudRings[0].RingID)
	assert.Equal(t, "cycle", result.FraudRings[0].PatternType)
	assert.Len(t, result.SuspiciousAccounts, 3)
	require.NotNil(t, result.GraphData)
	assert.Len(t, result.GraphData.Nodes, 3)
	assert.Len(t, result.GraphData.Links, 3)

	// ring risk 65 clears the test alert threshold of 60
	assert.Len(t, s.alerts.GetRecentAlerts(10), 1)
}

func TestAnalyzeShowsFlagStatus(t *testing.T) {
	s := newTestServer(t, Options{})
	require.NoError(t, s.flags.Set(context.Background(), flags.Flag{AccountID: "ACC_B", Status: flags.StatusEscalated}))

	w := s.do(uploadRequest(t, triangleCSV))
	require.Equal(t, http.StatusOK, w.Code)

	var result models.AnalysisResult
	decode(t, w, &result)
	require.NotNil(t, result.GraphData)

	statuses := map[string]string{}
	for _, n := range result.GraphData.Nodes {
		if n.Status != nil {
			statuses[n.ID] = *n.Status
		}
	}
	assert.Equal(t, map[string]string{"ACC_B": "escalated"}, statuses)
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	s := newTestServer(t, Options{RateBurst: 10})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	assert.Equal(t, http.StatusBadRequest, s.do(req).Code)

	w := s.do(uploadRequest(t, "id,from,to\n1,a,b\n"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]any
	decode(t, w, &body)
	assert.Contains(t, body["error"], "Missing columns")

	w = s.do(uploadRequest(t, "transaction_id,sender_id,receiver_id,amount,timestamp\nT1,A,B,-5,2024-01-01\n"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeRateLimited(t *testing.T) {
	s := newTestServer(t, Options{RatePerMinute: 1, RateBurst: 2})

	assert.Equal(t, http.StatusOK, s.do(uploadRequest(t, triangleCSV)).Code)
	assert.Equal(t, http.StatusOK, s.do(uploadRequest(t, triangleCSV)).Code)

	w := s.do(uploadRequest(t, triangleCSV))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestGenerateSARPlaceholder(t *testing.T) {
	s := newTestServer(t, Options{})

	w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/generate-sar", sar.RingReport{
		RingID:         "RING_001",
		PatternType:    "cycle",
		RiskScore:      65,
		MemberAccounts: []string{"ACC_A", "ACC_B", "ACC_C"},
	}))
	require.Equal(t, http.StatusOK, w.Code)

	var narrative sar.Narrative
	decode(t, w, &narrative)
	assert.Equal(t, "ACC_A", narrative.MuleHerder)
	assert.Contains(t, narrative.ExecutiveSummary, "Simulated AI Response")
}

func TestFlagAccount(t *testing.T) {
	s := newTestServer(t, Options{})

	w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/flag-account", map[string]string{
		"account_id": "ACC_A",
		"status":     "false_positive",
		"notes":      "payroll",
	}))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "Account status updated", body["message"])
	assert.Equal(t, "false_positive", body["status"])

	f, ok, err := s.flags.Get(context.Background(), "ACC_A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, flags.StatusFalsePositive, f.Status)
	assert.Equal(t, "payroll", f.Notes)

	w = s.do(jsonRequest(t, http.MethodPost, "/api/v1/flag-account", map[string]string{
		"account_id": "ACC_A",
		"status":     "guilty",
	}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(jsonRequest(t, http.MethodPost, "/api/v1/flag-account", map[string]string{"status": "escalated"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitSAR(t *testing.T) {
	s := newTestServer(t, Options{})

	// the drafted report is filed as-is
	w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/generate-sar", sar.RingReport{
		RingID:         "RING_001",
		PatternType:    "cycle",
		RiskScore:      65,
		MemberAccounts: []string{"ACC_A", "ACC_B", "ACC_C"},
	}))
	require.Equal(t, http.StatusOK, w.Code)
	draft := json.RawMessage(w.Body.Bytes())

	w = s.do(jsonRequest(t, http.MethodPost, "/api/v1/submit-sar", map[string]any{
		"ring_id":        "RING_001",
		"report_content": draft,
		"analyst_notes":  "escalated",
	}))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "SAR Submitted to FinCEN", body["message"])
	assert.True(t, strings.HasPrefix(body["reference_id"], "SAR-"))

	data, err := os.ReadFile(s.audit.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "Ring RING_001 - {")
	assert.Contains(t, string(data), `"mule_herder":"ACC_A"`)
	assert.Contains(t, string(data), body["reference_id"])
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}

func TestSubmitSARRejectsBadReport(t *testing.T) {
	s := newTestServer(t, Options{})

	cases := map[string]string{
		"missing ring":   `{"report_content":{"mule_herder":"ACC_A"}}`,
		"missing report": `{"ring_id":"RING_001"}`,
		"plain string":   `{"ring_id":"RING_001","report_content":"Circular flow"}`,
		"empty object":   `{"ring_id":"RING_001","report_content":{}}`,
		"array":          `{"ring_id":"RING_001","report_content":["ACC_A"]}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/submit-sar", strings.NewReader(payload))
			req.Header.Set("Content-Type", "application/json")
			w := s.do(req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	_, err := os.Stat(s.audit.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestListSubmissionsWithoutQueryBackend(t *testing.T) {
	s := newTestServer(t, Options{})
	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/sar-submissions/RING_001", nil))
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

type stubSubmissions struct {
	subs []audit.Submission
}

func (s stubSubmissions) SubmissionsForRing(_ context.Context, ringID string, limit int) ([]audit.Submission, error) {
	var out []audit.Submission
	for _, sub := range s.subs {
		if sub.RingID == ringID && len(out) < limit {
			out = append(out, sub)
		}
	}
	return out, nil
}

func TestListSubmissions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router, limiter := SetupRouter(Deps{Submissions: stubSubmissions{subs: []audit.Submission{
		{ReferenceID: "SAR-1", RingID: "RING_001"},
		{ReferenceID: "SAR-2", RingID: "RING_002"},
	}}}, Options{})
	defer limiter.Stop()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sar-submissions/RING_001", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Submissions []audit.Submission `json:"submissions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Submissions, 1)
	assert.Equal(t, "SAR-1", body.Submissions[0].ReferenceID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sar-submissions/RING_404", nil))
	assert.JSONEq(t, `{"submissions":[]}`, w.Body.String())
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, Options{AllowedOrigins: []string{"https://dash.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analyze", nil)
	req.Header.Set("Origin", "https://dash.example")
	w := s.do(req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dash.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = s.do(req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
