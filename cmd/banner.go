package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/internal/server"
	"github.com/grovetools/remote-panel/logging"
	"github.com/grovetools/remote-panel/pkg/paths"
)

// lanHint describes whether the bind host is reachable from other machines.
func lanHint(host string) string {
	if host == "0.0.0.0" || host == "::" {
		return "LAN enabled"
	}
	return "local-only"
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// writeBanner prints the startup summary an operator needs to connect.
func writeBanner(w io.Writer, s *config.Settings, ws paths.Workspace, addr string) {
	p := logging.NewPrettyLogger().WithWriter(w)

	if s.PasswordGenerated {
		p.WarnPretty("REMOTE_PANEL_PASSWORD is not set. Generated one-time password.")
		p.Field("One-time password", s.Password)
	}
	if s.SecretGenerated {
		p.WarnPretty("REMOTE_PANEL_SESSION_SECRET is not set. Generated one-time secret.")
	}

	p.Divider()
	p.Success("Remote panel ready")
	p.Field("Listening", fmt.Sprintf("http://%s (%s)", addr, lanHint(s.Host)))
	p.Field("Security mode", fmt.Sprintf("%s (%s)", s.SecurityMode, server.SecurityModeLabel(s.SecurityMode)))
	p.Field("Tunnel mode default", config.ParseTunnelMode(s.TunnelMode, config.TunnelQuick))
	if s.PublicHost != "" {
		p.Field("Public/mobile host hint", s.PublicHost)
	}
	p.Field("Session persistence", fmt.Sprintf("%s (%s)", enabled(s.ShouldPersistSessions()), ws.Rel(s.SessionStoreFile)))
	p.Path("Runtime config", ws.Rel(s.RuntimeConfigFile))
	if len(s.Allowlist) > 0 {
		p.Field("IP allowlist", strings.Join(s.Allowlist, ", "))
	}
	p.Divider()
}
