package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/scanconsole/internal/backend"
)

// stubBackend answers the four backend endpoints and counts scan calls.
type stubBackend struct {
	mu        sync.Mutex
	scans     int
	scanReply string
}

func (s *stubBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case backend.PathLogin:
		_, _ = w.Write([]byte(`{"token":"tok-cli","lastLogin":"2026-10-16T08:00:00Z"}`))
	case backend.PathRegister:
		_, _ = w.Write([]byte(`{"success":true,"message":"Registration successful. Check your email."}`))
	case backend.PathVerifyOTP:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"message":"Invalid OTP"}`))
	case backend.PathScan:
		if r.Header.Get("Authorization") != "Bearer tok-cli" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"token expired"}`))
			return
		}
		s.mu.Lock()
		s.scans++
		reply := s.scanReply
		s.mu.Unlock()
		_, _ = w.Write([]byte(reply))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *stubBackend) scanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

type cliEnv struct {
	dir     string
	config  string
	backend *stubBackend
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	resetConfigState(t)

	stub := &stubBackend{
		scanReply: `[{"port":22,"status":"Open","latency_ms":0.8},{"port":80,"status":"Filtered"}]`,
	}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	path := writeConfig(t, dir, fmt.Sprintf(`
backend:
  base_url: %q
session:
  store: file
  path: %q
export:
  dir: %q
logging:
  level: error
`, srv.URL, filepath.Join(dir, "session.yaml"), dir))

	return &cliEnv{dir: dir, config: path, backend: stub}
}

// run executes the root command with args and captures both streams.
func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	resetFlags()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--config", e.config}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// resetFlags clears flag values left over from earlier executions.
func resetFlags() {
	sessionEmail, sessionPassword, sessionOTP = "", "", ""
	scanTarget, scanZombie, scanOutputDir = "", "", ""
	scanExport = nil
	scanResolve, scanJSON = false, false
}

func TestSessionCommands(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := env.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Session:    not logged in")

	_, _, err = env.run(t, "", "login", "--email", "not-an-email", "--password", "secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Email must be a valid email address")

	out, _, err = env.run(t, "secret\n", "login", "--email", "op@example.com", "--password", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in.")
	assert.Contains(t, out, "Last login: 2026-10-16T08:00:00Z")

	out, _, err = env.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Session:    logged in")

	out, _, err = env.run(t, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out.")

	out, _, err = env.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Session:    not logged in")
}

func TestRegisterAndVerifyCommands(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := env.run(t, "", "register", "--email", "new@example.com", "--password", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "Registration successful. Check your email.")

	_, _, err = env.run(t, "", "verify", "--email", "new@example.com", "--otp", "123456")
	require.Error(t, err)
	assert.Equal(t, "Invalid OTP", err.Error())
}

func TestScanCommand(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run(t, "", "scan", "tcp-connect", "--target", "10.0.0.5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Authentication required. Please log in.")
	assert.Contains(t, err.Error(), "scanconsole login")
	assert.Equal(t, 0, env.backend.scanCount(), "guarded scans never reach the backend")

	_, _, err = env.run(t, "", "login", "--email", "op@example.com", "--password", "secret")
	require.NoError(t, err)

	out, stderr, err := env.run(t, "", "scan", "tcp-connect", "--target", "10.0.0.5",
		"--ports", "22,80", "--export", "csv,json", "--output-dir", env.dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Running TCP Connect Scan against 10.0.0.5...")
	assert.Contains(t, out, "2 ports: 1 open, 0 closed, 1 filtered")
	assert.Contains(t, stderr, "Exported ")
	assert.Equal(t, 1, env.backend.scanCount())

	csvFiles, err := filepath.Glob(filepath.Join(env.dir, "scan_results_10.0.0.5_*.csv"))
	require.NoError(t, err)
	require.Len(t, csvFiles, 1)
	data, err := os.ReadFile(csvFiles[0])
	require.NoError(t, err)
	assert.Equal(t, "Port,Status,Latency (ms)\n22,Open,0.8\n80,Filtered,N/A", string(data))

	jsonFiles, err := filepath.Glob(filepath.Join(env.dir, "scan_results_10.0.0.5_*.json"))
	require.NoError(t, err)
	assert.Len(t, jsonFiles, 1)

	_, _, err = env.run(t, "", "scan", "bogus", "--target", "10.0.0.5")
	assert.Error(t, err)
}

func TestScanCommandJSONOutput(t *testing.T) {
	env := newCLIEnv(t)
	env.backend.scanReply = `{"os_guess":"Linux 5.x","detail":"ttl 64"}`

	_, _, err := env.run(t, "", "login", "--email", "op@example.com", "--password", "secret")
	require.NoError(t, err)

	out, _, err := env.run(t, "", "scan", "os-detection", "--target", "10.0.0.5", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"kind": "os"`)
	assert.Contains(t, out, `"os_guess": "Linux 5.x"`)
	assert.NotContains(t, out, "Running")
}

func TestTypesCommand(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := env.run(t, "", "types")
	require.NoError(t, err)
	assert.Contains(t, out, "tcp-xmas")
	assert.Contains(t, out, "ip-protocol")
}
