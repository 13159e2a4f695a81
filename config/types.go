package config

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/grovetools/remote-panel/logging"
)

// Security modes decide when plain HTTP is acceptable.
const (
	SecurityOn   = "on"
	SecurityOff  = "off"
	SecurityAuto = "auto"
)

// Tunnel modes supported by the cloudflared provider.
const (
	TunnelQuick = "quick"
	TunnelToken = "token"
	TunnelNamed = "named"
)

const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 8787
	DefaultTunnelProvider = "cloudflared"
	DefaultAgentCLI       = "codex"
	DefaultPreviewRefresh = 3000
)

// Settings is the fully-resolved panel configuration.
type Settings struct {
	Host string `yaml:"host" toml:"host" mapstructure:"host"`
	Port int    `yaml:"port" toml:"port" mapstructure:"port"`

	// Password gates the login endpoint. A random one-time password is
	// generated at startup when empty.
	Password string `yaml:"password" toml:"password" mapstructure:"password"`
	// SessionSecret keys the session cookie HMAC.
	SessionSecret string `yaml:"session_secret" toml:"session_secret" mapstructure:"session_secret"`

	SecurityMode string `yaml:"security_mode" toml:"security_mode" mapstructure:"security_mode"`
	// RequireHTTPS is the legacy switch; it only picks the default for SecurityMode.
	RequireHTTPS bool `yaml:"require_https" toml:"require_https" mapstructure:"require_https"`

	Allowlist     []string `yaml:"allowlist" toml:"allowlist" mapstructure:"allowlist"`
	BindSessionIP *bool    `yaml:"bind_session_ip" toml:"bind_session_ip" mapstructure:"bind_session_ip"`
	PublicHost    string   `yaml:"public_host" toml:"public_host" mapstructure:"public_host"`

	PersistSessions   *bool  `yaml:"persist_sessions" toml:"persist_sessions" mapstructure:"persist_sessions"`
	SessionStoreFile  string `yaml:"session_store" toml:"session_store" mapstructure:"session_store"`
	RuntimeConfigFile string `yaml:"runtime_config" toml:"runtime_config" mapstructure:"runtime_config"`

	TunnelProvider string            `yaml:"tunnel_provider" toml:"tunnel_provider" mapstructure:"tunnel_provider"`
	TunnelMode     string            `yaml:"tunnel_mode" toml:"tunnel_mode" mapstructure:"tunnel_mode"`
	Cloudflared    CloudflaredConfig `yaml:"cloudflared" toml:"cloudflared" mapstructure:"cloudflared"`

	// Runner is the package script runner, e.g. ["npm", "run"].
	Runner []string `yaml:"runner" toml:"runner" mapstructure:"runner"`
	// AgentCLI is the agent binary used to mint sessions.
	AgentCLI string `yaml:"agent_cli" toml:"agent_cli" mapstructure:"agent_cli"`
	// PreviewRefreshMs is how often the UI reloads the dev preview.
	PreviewRefreshMs int `yaml:"preview_refresh_ms" toml:"preview_refresh_ms" mapstructure:"preview_refresh_ms"`

	Logging logging.Config `yaml:"logging" toml:"logging" mapstructure:"logging"`

	// PasswordGenerated and SecretGenerated record that the values above were
	// filled in randomly at startup.
	PasswordGenerated bool `yaml:"-" toml:"-" mapstructure:"-"`
	SecretGenerated   bool `yaml:"-" toml:"-" mapstructure:"-"`
}

// CloudflaredConfig holds the tunnel binary location and credentials.
type CloudflaredConfig struct {
	Bin        string `yaml:"bin" toml:"bin" mapstructure:"bin"`
	Token      string `yaml:"tunnel_token" toml:"tunnel_token" mapstructure:"tunnel_token"`
	TunnelName string `yaml:"tunnel_name" toml:"tunnel_name" mapstructure:"tunnel_name"`
	ConfigFile string `yaml:"config" toml:"config" mapstructure:"config"`
}

// SetDefaults fills every unset field.
func (s *Settings) SetDefaults() {
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port == 0 {
		s.Port = DefaultPort
	}

	fallback := SecurityOff
	if s.RequireHTTPS {
		fallback = SecurityOn
	}
	s.SecurityMode = ParseSecurityMode(s.SecurityMode, fallback)
	s.TunnelMode = ParseTunnelMode(s.TunnelMode, TunnelQuick)

	if s.BindSessionIP == nil {
		trueVal := true
		s.BindSessionIP = &trueVal
	}
	if s.PersistSessions == nil {
		trueVal := true
		s.PersistSessions = &trueVal
	}

	s.TunnelProvider = strings.ToLower(strings.TrimSpace(s.TunnelProvider))
	if s.TunnelProvider == "" {
		s.TunnelProvider = DefaultTunnelProvider
	}
	if s.AgentCLI == "" {
		s.AgentCLI = DefaultAgentCLI
	}
	switch {
	case s.PreviewRefreshMs == 0:
		s.PreviewRefreshMs = DefaultPreviewRefresh
	case s.PreviewRefreshMs < 1000:
		s.PreviewRefreshMs = 1000
	case s.PreviewRefreshMs > 20000:
		s.PreviewRefreshMs = 20000
	}
	s.PublicHost = NormalizePublicHost(s.PublicHost)
	s.Allowlist = cleanList(s.Allowlist)
	s.Cloudflared.Bin = strings.TrimSpace(s.Cloudflared.Bin)
	s.Cloudflared.Token = strings.TrimSpace(s.Cloudflared.Token)
	s.Cloudflared.TunnelName = strings.TrimSpace(s.Cloudflared.TunnelName)
	s.Cloudflared.ConfigFile = strings.TrimSpace(s.Cloudflared.ConfigFile)
}

// ShouldBindSessionIP reports whether sessions are pinned to their login IP.
func (s *Settings) ShouldBindSessionIP() bool {
	return s.BindSessionIP == nil || *s.BindSessionIP
}

// ShouldPersistSessions reports whether sessions survive restarts.
func (s *Settings) ShouldPersistSessions() bool {
	return s.PersistSessions == nil || *s.PersistSessions
}

// ParseSecurityMode accepts the lenient spellings operators use and falls
// back when the value is empty or unknown.
func ParseSecurityMode(value, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return fallback
	case "on", "true", "https", "required":
		return SecurityOn
	case "off", "false", "http", "disabled":
		return SecurityOff
	case "auto", "adaptive":
		return SecurityAuto
	default:
		return fallback
	}
}

// ParseTunnelMode normalizes a tunnel mode, falling back when unknown.
func ParseTunnelMode(value, fallback string) string {
	switch mode := strings.ToLower(strings.TrimSpace(value)); mode {
	case TunnelQuick, TunnelToken, TunnelNamed:
		return mode
	default:
		return fallback
	}
}

// NormalizePublicHost trims whitespace and trailing slashes.
func NormalizePublicHost(value string) string {
	return strings.TrimRight(strings.TrimSpace(value), "/")
}

var (
	schemeRegex     = regexp.MustCompile(`(?i)^https?://`)
	portSuffixRegex = regexp.MustCompile(`:\d+$`)
)

// BuildPublicURL turns a public host hint into a URL. Hosts that already
// carry a scheme are returned as-is; a missing port defaults to port.
func BuildPublicURL(host, protocol string, port int) string {
	host = NormalizePublicHost(host)
	switch {
	case host == "":
		return ""
	case schemeRegex.MatchString(host):
		return host
	case portSuffixRegex.MatchString(host):
		return protocol + "://" + host
	default:
		return protocol + "://" + host + ":" + strconv.Itoa(port)
	}
}

func cleanList(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
