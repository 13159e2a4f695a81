package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/pkg/paths"
	"github.com/grovetools/remote-panel/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func testSettings(root string) *config.Settings {
	ws := paths.NewWorkspace(root)
	s := &config.Settings{
		Password:          "hunter2-hunter2",
		SessionSecret:     strings.Repeat("s", 32),
		SessionStoreFile:  ws.DefaultSessionStoreFile(),
		RuntimeConfigFile: ws.DefaultRuntimeConfigFile(),
	}
	s.SetDefaults()
	return s
}

func TestRedact(t *testing.T) {
	s := testSettings(t.TempDir())
	s.Cloudflared.Token = "cf-token"

	r := redact(*s)
	assert.Equal(t, redacted, r.Password)
	assert.Equal(t, redacted, r.SessionSecret)
	assert.Equal(t, redacted, r.Cloudflared.Token)
	assert.Equal(t, "hunter2-hunter2", s.Password, "original must be untouched")
}

func TestEncodeSettings(t *testing.T) {
	s := redact(*testSettings(t.TempDir()))

	for _, format := range []string{"yaml", "toml", "json"} {
		t.Run(format, func(t *testing.T) {
			data, err := encodeSettings(s, format)
			require.NoError(t, err)
			assert.Contains(t, string(data), "8787")
			assert.NotContains(t, string(data), "hunter2")
		})
	}

	_, err := encodeSettings(s, "xml")
	assert.Error(t, err)
}

func TestLanHint(t *testing.T) {
	assert.Equal(t, "LAN enabled", lanHint("0.0.0.0"))
	assert.Equal(t, "local-only", lanHint("127.0.0.1"))
}

func TestHealthURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8787/api/health", healthURL("0.0.0.0", 8787))
	assert.Equal(t, "http://[::1]:9000/api/health", healthURL("::", 9000))
	assert.Equal(t, "http://192.168.1.5:8787/api/health", healthURL("192.168.1.5", 8787))
}

func TestWriteBanner(t *testing.T) {
	root := t.TempDir()
	s := testSettings(root)
	s.PublicHost = "phone.example.net"
	s.Allowlist = []string{"192.168.1.*"}
	s.PasswordGenerated = true

	var buf bytes.Buffer
	writeBanner(&buf, s, paths.NewWorkspace(root), "127.0.0.1:8787")
	out := buf.String()

	assert.Contains(t, out, "One-time password")
	assert.Contains(t, out, "hunter2-hunter2")
	assert.Contains(t, out, "http://127.0.0.1:8787 (local-only)")
	assert.Contains(t, out, "Security mode")
	assert.Contains(t, out, "phone.example.net")
	assert.Contains(t, out, ".agency/remote/panel-runtime.json")
	assert.Contains(t, out, "192.168.1.*")
}

func TestConfigCommandRedacts(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, filepath.Join(root, "panel.yml"), "password: very-secret-password\nport: 9100\n")

	out, err := run(t, "config", "-w", root, "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "# Source: ")
	assert.Contains(t, out, "9100")
	assert.Contains(t, out, redacted)
	assert.NotContains(t, out, "very-secret-password")
}

func TestStatusWhenNotRunning(t *testing.T) {
	root := t.TempDir()
	out, err := run(t, "status", "-w", root, "--json")
	require.NoError(t, err)

	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Running)
	assert.Contains(t, report.URL, "/api/health")
}

func TestStopWhenNotRunning(t *testing.T) {
	out, err := run(t, "stop", "-w", t.TempDir(), "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"stopped":false,"pid":0}`, strings.TrimSpace(out))
}

func TestActivityCommand(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	root := ws.Root
	lines := `{"time":"2026-01-02T03:04:05.000Z","type":"status","state":"working","message":"first","source":"agent","meta":{}}
not json
{"time":"2026-01-02T03:04:06.000Z","type":"status","state":"done","message":"second","source":"agent","meta":{}}
`
	testutil.WriteFile(t, ws.ActivityLogFile(), lines)

	out, err := run(t, "activity", "-w", root, "--json", "--tail", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"message":"second"`)
	assert.NotContains(t, out, `"message":"first"`)

	out, err = run(t, "activity", "-w", root)
	require.NoError(t, err)
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")
}

func TestRootHelpListsCommands(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"start", "stop", "status", "config", "activity", "version"} {
		assert.Contains(t, out, name)
	}
}
