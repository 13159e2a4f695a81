//go:build !windows

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/internal/session"
	"github.com/grovetools/remote-panel/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct horse battery"

// runnerScript stands in for `npm run <script> -- args`.
const runnerScript = `script="$1"; shift
[ "$1" = "--" ] && shift
case "$script" in
  build) echo "build $*"; exit 0 ;;
  build:all) echo "boom" >&2; exit 3 ;;
  dev|dev:all) echo "up $*"; sleep 30 ;;
  *) echo "unknown $script"; exit 9 ;;
esac
`

type panel struct {
	t       *testing.T
	rt      *Runtime
	handler http.Handler
	root    string
	cookie  *http.Cookie
	csrf    string
}

func newPanel(t *testing.T, mutate func(*config.Settings)) *panel {
	t.Helper()
	ws := testutil.NewWorkspace(t)
	script := testutil.WriteScript(t, filepath.Join(ws.Root, "runner.sh"), runnerScript)
	off := false
	s := &config.Settings{
		Password:          testPassword,
		SessionSecret:     "0123456789abcdef0123456789abcdef",
		PersistSessions:   &off,
		SessionStoreFile:  ws.DefaultSessionStoreFile(),
		RuntimeConfigFile: ws.DefaultRuntimeConfigFile(),
		Runner:            []string{"/bin/sh", script},
	}
	if mutate != nil {
		mutate(s)
	}
	s.SetDefaults()
	require.NoError(t, s.Validate())

	rt, err := NewRuntime(Options{Settings: s, Workspace: ws})
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return &panel{t: t, rt: rt, handler: New(rt).Handler(), root: ws.Root}
}

func (p *panel) do(method, target string, body interface{}, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	p.t.Helper()
	var payload string
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(p.t, err)
		payload = string(data)
	}
	req := httptest.NewRequest(method, target, strings.NewReader(payload))
	req.RemoteAddr = "127.0.0.1:50000"
	req.Header.Set("Content-Type", "application/json")
	if p.cookie != nil {
		req.AddCookie(p.cookie)
	}
	if p.csrf != "" {
		req.Header.Set("X-CSRF-Token", p.csrf)
	}
	for _, mod := range mods {
		mod(req)
	}
	rec := httptest.NewRecorder()
	p.handler.ServeHTTP(rec, req)
	return rec
}

func (p *panel) login() {
	p.t.Helper()
	rec := p.do(http.MethodPost, "/api/auth/login", map[string]string{"password": testPassword})
	require.Equal(p.t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(p.t, rec)
	p.csrf, _ = body["csrfToken"].(string)
	require.NotEmpty(p.t, p.csrf)
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			p.cookie = c
		}
	}
	require.NotNil(p.t, p.cookie)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func from(addr string) func(*http.Request) {
	return func(r *http.Request) { r.RemoteAddr = addr }
}

func TestHealthIsPublic(t *testing.T) {
	p := newPanel(t, nil)
	rec := p.do(http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, false, body["commandRunning"])
	assert.Nil(t, body["activeDev"])
	panelInfo := body["panel"].(map[string]interface{})
	assert.Equal(t, "off", panelInfo["securityMode"])
	assert.Equal(t, float64(config.DefaultPort), panelInfo["port"])
}

func TestLoginFlow(t *testing.T) {
	p := newPanel(t, nil)

	rec := p.do(http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decode(t, rec)["error"])

	rec = p.do(http.MethodPost, "/api/auth/login", map[string]string{"password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decode(t, rec)["error"])
	assert.Equal(t, 1, p.rt.Limiter.Failures("127.0.0.1"))

	p.login()
	assert.True(t, p.cookie.HttpOnly)
	assert.False(t, p.cookie.Secure)

	rec = p.do(http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, p.csrf, body["csrfToken"])
	assert.Equal(t, float64(config.DefaultPreviewRefresh), body["previewRefreshMs"])
	assert.Equal(t, "quick", body["tunnelMode"])

	rec = p.do(http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = p.do(http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionBoundToLoginIP(t *testing.T) {
	p := newPanel(t, nil)
	p.login()

	rec := p.do(http.MethodGet, "/api/session", nil, from("192.168.1.20:40000"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRateLimit(t *testing.T) {
	p := newPanel(t, nil)
	for i := 0; i < 8; i++ {
		rec := p.do(http.MethodPost, "/api/auth/login", map[string]string{"password": "wrong"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := p.do(http.MethodPost, "/api/auth/login", map[string]string{"password": testPassword})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Too many login attempts. Try again later.", decode(t, rec)["error"])

	// Other clients keep their own budget.
	rec = p.do(http.MethodPost, "/api/auth/login", map[string]string{"password": testPassword}, from("192.168.1.9:1"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCSRFRequiredForMutations(t *testing.T) {
	p := newPanel(t, nil)
	p.login()
	token := p.csrf
	p.csrf = ""

	rec := p.do(http.MethodPost, "/api/note", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "CSRF_INVALID", decode(t, rec)["code"])

	// Reads do not need the token.
	rec = p.do(http.MethodGet, "/api/logs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	p.csrf = token
	rec = p.do(http.MethodPost, "/api/note", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateAllowlist(t *testing.T) {
	p := newPanel(t, func(s *config.Settings) { s.Allowlist = []string{"10.0.0.*"} })

	rec := p.do(http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "IP not allowed.", body["error"])
	assert.Equal(t, "127.0.0.1", body["ip"])

	rec = p.do(http.MethodGet, "/api/health", nil, from("10.0.0.7:1234"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateRequiresHTTPSForPublicClients(t *testing.T) {
	p := newPanel(t, func(s *config.Settings) { s.SecurityMode = config.SecurityAuto })

	rec := p.do(http.MethodGet, "/api/health", nil, from("203.0.113.5:1234"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "HTTPS_REQUIRED", decode(t, rec)["code"])

	rec = p.do(http.MethodGet, "/api/health", nil, from("203.0.113.5:1234"), func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "https")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "on", decode(t, rec)["panel"].(map[string]interface{})["effectiveSecurityMode"])

	rec = p.do(http.MethodGet, "/api/health", nil, from("192.168.1.5:1234"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	p := newPanel(t, nil)
	rec := p.do(http.MethodGet, "/api/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decode(t, rec)["error"])
}

func TestPayloadTooLarge(t *testing.T) {
	p := newPanel(t, nil)
	p.login()
	rec := p.do(http.MethodPost, "/api/note", map[string]string{"message": strings.Repeat("x", maxBodyBytes)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Payload too large", decode(t, rec)["error"])
}

func TestNoteStoresInboxEntry(t *testing.T) {
	p := newPanel(t, nil)
	p.login()

	rec := p.do(http.MethodPost, "/api/note", map[string]string{"message": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Message is required.", decode(t, rec)["error"])

	rec = p.do(http.MethodPost, "/api/note", map[string]string{"message": "ship the hero section"})
	require.Equal(t, http.StatusOK, rec.Code)
	note := decode(t, rec)["note"].(map[string]interface{})
	fileName := note["fileName"].(string)

	data, err := os.ReadFile(filepath.Join(p.root, ".agency", "remote", "inbox", fileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ship the hero section")

	rec = p.do(http.MethodGet, "/api/inbox/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode(t, rec)["note"].(map[string]interface{})
	assert.Equal(t, fileName, latest["fileName"])
	assert.Equal(t, "ship the hero section", latest["message"])

	rec = p.do(http.MethodGet, "/api/agent/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decode(t, rec)["status"].(map[string]interface{})["state"])
}

func TestAgentReplyAndPoller(t *testing.T) {
	p := newPanel(t, nil)
	p.login()

	rec := p.do(http.MethodPost, "/api/agent/reply", map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Reply message is required.", decode(t, rec)["error"])

	rec = p.do(http.MethodPost, "/api/agent/reply", map[string]string{"message": "done", "inReplyTo": "note-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "idle", body["status"].(map[string]interface{})["state"])

	rec = p.do(http.MethodGet, "/api/agent/poller", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Nil(t, body["latestInbox"])
	assert.Equal(t, "done", body["latestReply"].(map[string]interface{})["message"])

	rec = p.do(http.MethodGet, "/api/agent/activity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode(t, rec)["events"].([]interface{})
	require.NotEmpty(t, events)
	assert.Equal(t, "assistant_reply", events[len(events)-1].(map[string]interface{})["type"])

	rec = p.do(http.MethodGet, "/api/chat/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["history"], 1)
}

func TestSetAgentStatus(t *testing.T) {
	p := newPanel(t, nil)
	p.login()

	rec := p.do(http.MethodPost, "/api/agent/status", map[string]string{"state": "thinking", "message": "reading"})
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)["status"].(map[string]interface{})
	assert.Equal(t, "thinking", status["state"])
	assert.Equal(t, "panel", status["source"])

	rec = p.do(http.MethodPost, "/api/agent/status", map[string]string{"state": "idle", "message": strings.Repeat("m", 5001)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Status message too long.", decode(t, rec)["error"])
}

func TestSecurityModeSwitch(t *testing.T) {
	p := newPanel(t, nil)
	p.login()

	rec := p.do(http.MethodPost, "/api/security/mode", map[string]string{"mode": "sometimes"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Mode must be one of: on, off, auto.", decode(t, rec)["error"])

	rec = p.do(http.MethodPost, "/api/security/mode", map[string]string{"mode": "auto", "publicHost": "panel.example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "auto", body["mode"])
	assert.Equal(t, "panel.example.com", body["publicHost"])
	assert.Equal(t, config.SecurityAuto, p.rt.Config.SecurityMode())

	data, err := os.ReadFile(p.rt.Settings.RuntimeConfigFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"auto"`)

	// Omitting publicHost keeps the stored value.
	rec = p.do(http.MethodPost, "/api/security/mode", map[string]string{"mode": "off"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "panel.example.com", decode(t, rec)["publicHost"])

	rec = p.do(http.MethodGet, "/api/agent/activity", nil)
	events := decode(t, rec)["events"].([]interface{})
	require.NotEmpty(t, events)
	last := events[len(events)-1].(map[string]interface{})
	assert.Equal(t, "security_mode", last["type"])
	assert.Equal(t, "Security mode set to off", last["message"])
}

func TestConnectionHelp(t *testing.T) {
	p := newPanel(t, nil)
	p.login()

	rec := p.do(http.MethodGet, "/api/connection/help", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	guidance := body["guidance"].(map[string]interface{})
	assert.Equal(t, false, guidance["canDirectLan"])
	assert.Contains(t, guidance["action"], "--host 0.0.0.0")
	assert.Equal(t, "http_allowed", body["security"].(map[string]interface{})["mode"])
}

func TestCommands(t *testing.T) {
	p := newPanel(t, nil)
	p.login()

	rec := p.do(http.MethodPost, "/api/command/build", map[string]string{"project": "site"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Contains(t, body["result"].(map[string]interface{})["outputLines"], "build --project=site")

	rec = p.do(http.MethodPost, "/api/command/build-all", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, float64(3), body["result"].(map[string]interface{})["exitCode"])

	rec = p.do(http.MethodPost, "/api/command/build", map[string]string{"project": "../etc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDevStartConflict(t *testing.T) {
	p := newPanel(t, nil)
	p.login()

	rec := p.do(http.MethodPost, "/api/dev/start", map[string]interface{}{"mode": "fast"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Mode must be 'single' or 'all'.", decode(t, rec)["error"])

	rec = p.do(http.MethodPost, "/api/dev/start", map[string]interface{}{"port": "80"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Port must be between 1024 and 65535.", decode(t, rec)["error"])

	rec = p.do(http.MethodPost, "/api/dev/start", map[string]interface{}{"project": "site", "port": "5173"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dev := decode(t, rec)["activeDev"].(map[string]interface{})
	assert.Equal(t, "single", dev["mode"])
	assert.Equal(t, float64(5173), dev["port"])

	rec = p.do(http.MethodPost, "/api/dev/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_RUNNING", decode(t, rec)["code"])

	rec = p.do(http.MethodPost, "/api/dev/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["stopped"])
}

func TestRelayStopWhenIdle(t *testing.T) {
	p := newPanel(t, nil)
	p.login()

	rec := p.do(http.MethodPost, "/api/relay/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["stopped"])
	assert.Nil(t, body["activeRelay"])

	rec = p.do(http.MethodGet, "/api/agent/activity", nil)
	events := decode(t, rec)["events"].([]interface{})
	require.NotEmpty(t, events)
	assert.Equal(t, "Relay watcher is not running.", events[len(events)-1].(map[string]interface{})["message"])
}

func TestTunnelStartValidation(t *testing.T) {
	p := newPanel(t, nil)
	p.login()

	rec := p.do(http.MethodPost, "/api/tunnel/start", map[string]string{"targetUrl": "http://example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "local host")

	rec = p.do(http.MethodPost, "/api/tunnel/start", map[string]string{"provider": "ngrok"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = p.do(http.MethodPost, "/api/tunnel/start", map[string]string{"mode": "token"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = p.do(http.MethodGet, "/api/tunnel/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "cloudflared", body["provider"])
	assert.Nil(t, body["activeTunnel"])
}

func TestCodexSessions(t *testing.T) {
	p := newPanel(t, nil)
	p.login()

	rec := p.do(http.MethodPost, "/api/codex/sessions/upsert", map[string]interface{}{
		"name": "site-chat", "target": "thread-123", "project": "site", "makeDefault": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotNil(t, decode(t, rec)["registry"])

	rec = p.do(http.MethodGet, "/api/codex/sessions/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["sessions"], 1)

	rec = p.do(http.MethodPost, "/api/codex/sessions/retire", map[string]string{"name": "bad name!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreviewProxy(t *testing.T) {
	dev := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new?x=1", http.StatusFound)
			return
		}
		assert.Empty(t, r.Header.Get("Cookie"))
		fmt.Fprintf(w, "path=%s query=%s", r.URL.Path, r.URL.RawQuery)
	}))
	defer dev.Close()
	u, err := url.Parse(dev.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	p := newPanel(t, nil)
	ws := p.rt.Workspace
	testutil.WriteManifest(t, ws, "site", fmt.Sprintf(`{"host":"127.0.0.1","port":%d}`, port))
	testutil.WriteManifest(t, ws, "remote", `{"host":"10.0.0.8","port":5173}`)
	testutil.WriteManifest(t, ws, "noport", `{"host":"localhost"}`)

	rec := p.do(http.MethodGet, "/preview/site/", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	p.login()
	rec = p.do(http.MethodGet, "/preview/site/assets/app.js?v=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "path=/assets/app.js query=v=2", rec.Body.String())

	rec = p.do(http.MethodGet, "/preview/site", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "path=/ query=", rec.Body.String())

	rec = p.do(http.MethodGet, "/preview/site/old", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/preview/site/new?x=1", rec.Header().Get("Location"))

	rec = p.do(http.MethodGet, "/preview/remote/", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Preview proxy only supports local dev hosts.", decode(t, rec)["error"])

	rec = p.do(http.MethodGet, "/preview/noport/", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = p.do(http.MethodGet, "/preview/missing/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRewriteLocation(t *testing.T) {
	target := &url.URL{Scheme: "http", Host: "127.0.0.1:5173"}
	assert.Equal(t, "/preview/a/next", rewriteLocation("http://127.0.0.1:5173/next", target, "/preview/a"))
	assert.Equal(t, "/preview/a/x?y=1", rewriteLocation("/x?y=1", target, "/preview/a"))
	assert.Equal(t, "https://elsewhere.dev/", rewriteLocation("https://elsewhere.dev/", target, "/preview/a"))
}

func TestMetricsLoopbackOnly(t *testing.T) {
	p := newPanel(t, nil)
	rec := p.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = p.do(http.MethodGet, "/metrics", nil, from("192.168.1.5:1234"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
