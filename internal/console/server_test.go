package console

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/scanconsole/internal/backend"
	"github.com/anstrom/scanconsole/internal/config"
	"github.com/anstrom/scanconsole/internal/logging"
	"github.com/anstrom/scanconsole/internal/metrics"
	"github.com/anstrom/scanconsole/internal/scan"
	"github.com/anstrom/scanconsole/internal/session"
	"github.com/anstrom/scanconsole/internal/storage"
)

var fixedNow = time.Date(2026, 10, 17, 9, 30, 0, 123000000, time.UTC)

// fakeBackend serves canned answers and remembers the last scan body.
type fakeBackend struct {
	mu       sync.Mutex
	routes   map[string]cannedResponse
	lastScan map[string]interface{}
}

type cannedResponse struct {
	status int
	body   string
}

func (f *fakeBackend) set(path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = cannedResponse{status: status, body: body}
}

func (f *fakeBackend) scanBody() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastScan
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == backend.PathScan {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastScan = body
		f.mu.Unlock()
	}

	f.mu.Lock()
	resp, ok := f.routes[r.URL.Path]
	f.mu.Unlock()
	if !ok {
		resp = cannedResponse{status: http.StatusNotFound, body: `{"message":"not found"}`}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_, _ = w.Write([]byte(resp.body))
}

type testEnv struct {
	backend *fakeBackend
	manager *session.Manager
	server  *Server
	pm      *metrics.PrometheusMetrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fb := &fakeBackend{routes: map[string]cannedResponse{}}
	backendServer := httptest.NewServer(fb)
	t.Cleanup(backendServer.Close)

	client := backend.New(config.BackendConfig{BaseURL: backendServer.URL})
	manager := session.NewManager(storage.NewMemoryStore(), client, session.WithLogger(logging.Discard()))
	require.NoError(t, manager.Initialize(context.Background()))

	dispatcher := scan.NewDispatcher(client, manager, scan.WithLogger(logging.Discard()))
	pm := metrics.NewPrometheusMetrics()

	srv := New(config.Default().Console, manager, dispatcher,
		WithLogger(logging.Discard()),
		WithClock(func() time.Time { return fixedNow }),
		WithRecorder(pm),
		WithMetricsHandler(pm.Handler()))
	t.Cleanup(srv.hub.Close)

	return &testEnv{backend: fb, manager: manager, server: srv, pm: pm}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	e.backend.set(backend.PathLogin, http.StatusOK, `{"token":"tok-1","lastLogin":"2026-10-16T08:00:00Z"}`)
	rec := e.do(t, http.MethodPost, "/api/login", `{"email":"op@example.com","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestGuardedRoutesRequireLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?from=%2F", rec.Header().Get("Location"))

	rec = env.do(t, http.MethodGet, "/scan/tcp-syn", "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?from=%2Fscan%2Ftcp-syn", rec.Header().Get("Location"))

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/api/scan/tcp-syn", `{"target_ip":"10.0.0.5"}`},
		{http.MethodGet, "/api/results", ""},
		{http.MethodPost, "/api/export/csv", ""},
	} {
		rec := env.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
		body := decode(t, rec)
		assert.Contains(t, body["login"], "/login?from=")
	}

	assert.Nil(t, env.backend.scanBody(), "guarded submission must not reach the backend")
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	t.Run("invalid form", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/login", `{"email":"not-an-email","password":"pw"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Email must be a valid email address", decode(t, rec)["error"])
	})

	t.Run("rejected by backend", func(t *testing.T) {
		env.backend.set(backend.PathLogin, http.StatusUnauthorized, `{"message":"Invalid credentials"}`)
		rec := env.do(t, http.MethodPost, "/api/login", `{"email":"op@example.com","password":"bad"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "Invalid credentials", body["error"])
		assert.Equal(t, "AUTH_FAILED", body["code"])
		assert.False(t, env.manager.IsAuthenticated())
	})

	t.Run("first login", func(t *testing.T) {
		env.backend.set(backend.PathLogin, http.StatusOK, `{"token":"tok-1","lastLogin":null}`)
		rec := env.do(t, http.MethodPost, "/api/login", `{"email":"op@example.com","password":"pw"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["is_authenticated"])
		assert.Equal(t, false, body["is_loading"])
		assert.Equal(t, "First login", body["last_login_display"])
	})

	t.Run("guard reflects login immediately", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var catalog []CatalogCategory
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &catalog))
		require.Len(t, catalog, 4)
		assert.Equal(t, "Connection-Based", catalog[0].Title)
		assert.Equal(t, "/scan/tcp-connect", catalog[0].Scans[0].Path)
	})

	t.Run("logout", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/logout", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, decode(t, rec)["is_authenticated"])

		rec = env.do(t, http.MethodGet, "/", "")
		assert.Equal(t, http.StatusSeeOther, rec.Code)
	})
}

func TestRegisterAndVerify(t *testing.T) {
	env := newTestEnv(t)

	env.backend.set(backend.PathRegister, http.StatusOK, `{"success":true,"message":"Check your email"}`)
	rec := env.do(t, http.MethodPost, "/api/register", `{"email":"op@example.com","password":"pw"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Check your email", decode(t, rec)["message"])

	env.backend.set(backend.PathVerifyOTP, http.StatusBadRequest, `{"success":false,"message":"Invalid OTP"}`)
	rec = env.do(t, http.MethodPost, "/api/verify-otp", `{"email":"op@example.com","otp":"123456"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Invalid OTP", body["message"])

	rec = env.do(t, http.MethodPost, "/api/verify-otp", `{"email":"op@example.com","otp":"12ab"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "OTP must be a 6-digit code", decode(t, rec)["error"])
}

func TestScanResultsAndExport(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	rec := env.do(t, http.MethodPost, "/api/export/csv", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NOTHING_TO_EXPORT", decode(t, rec)["code"])

	env.backend.set(backend.PathScan, http.StatusOK,
		`[{"port":22,"status":"Open","latency_ms":1.5},{"port":80,"status":"Filtered"}]`)

	rec = env.do(t, http.MethodPost, "/api/scan/tcp-connect", `{"target_ip":"10.0.0.5"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "ports", body["kind"])
	assert.Equal(t, "TCP Connect", body["scan_type"])

	sent := env.backend.scanBody()
	assert.Equal(t, "10.0.0.5", sent["target_ip"])
	assert.Equal(t, "1-100", sent["ports"], "absent ports fall back to the form default")
	assert.NotContains(t, sent, "zombie_ip")

	rec = env.do(t, http.MethodGet, "/api/results", "")
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode(t, rec)
	assert.Len(t, results["ports"], 2)
	assert.NotContains(t, results, "error")

	rec = env.do(t, http.MethodPost, "/api/export/csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Port,Status,Latency (ms)\n22,Open,1.5\n80,Filtered,N/A", rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="scan_results_10.0.0.5_1792229400123.csv"`,
		rec.Header().Get("Content-Disposition"))

	rec = env.do(t, http.MethodPost, "/api/export/json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	bundle := decode(t, rec)
	md := bundle["metadata"].(map[string]interface{})
	assert.Equal(t, "2026-10-17T09:30:00.123Z", md["scan_date"])
	assert.EqualValues(t, 1, md["filtered_ports"])

	rec = env.do(t, http.MethodPost, "/api/export/xml", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanErrors(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	t.Run("unknown scan type", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/scan/ping-sweep", `{"target_ip":"10.0.0.5"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid form", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/scan/idle", `{"target_ip":"10.0.0.5"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "VALIDATION", body["code"])
		assert.Equal(t, "Zombie IP address is required for Idle scans", body["error"])
	})

	t.Run("backend error field", func(t *testing.T) {
		env.backend.set(backend.PathScan, http.StatusOK, `{"error":"Invalid IP address"}`)
		rec := env.do(t, http.MethodPost, "/api/scan/os-detection", `{"target_ip":"10.0.0.5"}`)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "Invalid IP address", decode(t, rec)["error"])

		rec = env.do(t, http.MethodGet, "/api/results", "")
		results := decode(t, rec)
		errBody := results["error"].(map[string]interface{})
		assert.Equal(t, "UNEXPECTED", errBody["code"])
		assert.NotContains(t, results, "ports")
	})

	t.Run("expired credential logs out", func(t *testing.T) {
		env.backend.set(backend.PathScan, http.StatusUnauthorized, `{"message":"token expired"}`)
		rec := env.do(t, http.MethodPost, "/api/scan/udp", `{"target_ip":"10.0.0.5","ports":"53"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "AUTH_EXPIRED", body["code"])
		assert.Equal(t, "Authentication failed. Please log in again.", body["error"])
		assert.Equal(t, "/login?from=%2Fapi%2Fscan%2Fudp", body["login"])

		assert.False(t, env.manager.IsAuthenticated())
		rec = env.do(t, http.MethodGet, "/api/results", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestFormDescriptor(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	rec := env.do(t, http.MethodGet, "/scan/idle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var desc FormDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &desc))
	assert.Equal(t, "Idle Scan", desc.Title)
	assert.True(t, desc.RequiresPorts)
	assert.True(t, desc.RequiresZombie)
	assert.Equal(t, "1-100", desc.DefaultPorts)

	rec = env.do(t, http.MethodGet, "/scan/os-detection", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &desc))
	assert.Equal(t, "OS-Detection", desc.Title)
	assert.False(t, desc.RequiresPorts)

	rec = env.do(t, http.MethodGet, "/scan/bogus", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/login?from=%2Fscan%2Fudp", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "/scan/udp", body["from"])
	assert.Equal(t, false, body["is_authenticated"])

	rec = env.do(t, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["is_authenticated"])

	rec = env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestMiddleware(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader("email=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(headerRequestID, "req-42")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(headerRequestID))
	assert.Equal(t, "req-42", decode(t, rec)["request_id"])

	rec = env.do(t, http.MethodPost, "/api/login", `{"email":"op@example.com","password":"pw","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t)
	env.server.Router().HandleFunc("/panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := env.do(t, http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode(t, rec)["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/healthz", "")
	env.do(t, http.MethodGet, "/api/session", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `scanconsole_console_requests_total{method="GET",route="/healthz",status="200"} 1`)
	assert.Contains(t, out, `route="/api/session"`)
}
