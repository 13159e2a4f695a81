// Package tunnel starts the cloudflared tunnel binary and discovers the
// public URL it prints.
package tunnel

import (
	"net/url"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/errors"
)

const (
	DefaultDiscoveryTimeout = 45 * time.Second
	minDiscoveryTimeout     = 5 * time.Second
	maxDiscoveryTimeout     = 180 * time.Second
	minStartupGrace         = 1500 * time.Millisecond
	maxStartupGrace         = 10 * time.Second
)

var windowsBinCandidates = []string{
	`C:\Program Files\cloudflared\cloudflared.exe`,
	`C:\Program Files (x86)\cloudflared\cloudflared.exe`,
}

var localTargetHosts = map[string]bool{
	"127.0.0.1": true,
	"localhost": true,
	"::1":       true,
	"0.0.0.0":   true,
}

var (
	urlInText     = regexp.MustCompile(`https://[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}(?::\d+)?(?:/\S*)?`)
	trailingPunct = regexp.MustCompile(`[),.;]+$`)
)

// Vendor documentation and project pages the binary links to in its banner.
var deniedHosts = map[string]bool{
	"www.cloudflare.com":        true,
	"developers.cloudflare.com": true,
	"dash.cloudflare.com":       true,
	"github.com":                true,
}

// ClampTimeout bounds the discovery timeout. Zero selects the default.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultDiscoveryTimeout
	case d < minDiscoveryTimeout:
		return minDiscoveryTimeout
	case d > maxDiscoveryTimeout:
		return maxDiscoveryTimeout
	}
	return d
}

// StartupGrace is how long a token or named tunnel must stay alive before
// it is considered started.
func StartupGrace(timeout time.Duration) time.Duration {
	grace := timeout / 3
	if grace < minStartupGrace {
		return minStartupGrace
	}
	if grace > maxStartupGrace {
		return maxStartupGrace
	}
	return grace
}

// BuildArgs returns the cloudflared argument list for mode. Credentials the
// mode needs are checked here, before anything is spawned.
func BuildArgs(mode, targetURL, token, name, configFile string) ([]string, error) {
	var args []string
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	args = append(args, "tunnel")

	switch mode {
	case config.TunnelQuick:
		args = append(args, "--url", targetURL)
	case config.TunnelToken:
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, errors.InvalidInput("Token tunnel mode requires REMOTE_PANEL_CLOUDFLARED_TUNNEL_TOKEN.")
		}
		args = append(args, "run", "--token", token)
	case config.TunnelNamed:
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.InvalidInput("Named tunnel mode requires REMOTE_PANEL_CLOUDFLARED_TUNNEL_NAME.")
		}
		args = append(args, "run", name)
	default:
		return nil, errors.InvalidInput("Tunnel mode must be one of: quick, token, named.")
	}

	return append(args, "--no-autoupdate"), nil
}

// RedactArgs hides the value following --token.
func RedactArgs(args []string) []string {
	out := make([]string, 0, len(args))
	redactNext := false
	for _, arg := range args {
		if redactNext {
			out = append(out, "<redacted>")
			redactNext = false
			continue
		}
		if arg == "--token" {
			redactNext = true
		}
		out = append(out, arg)
	}
	return out
}

// ParseTargetURL validates the origin the tunnel forwards to. Empty selects
// the panel itself.
func ParseTargetURL(raw string, panelPort int) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "http://127.0.0.1:" + strconv.Itoa(panelPort), nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", errors.InvalidInput("Tunnel target URL is invalid.")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", errors.InvalidInput("Tunnel target URL must use http or https.")
	}
	if !localTargetHosts[strings.ToLower(u.Hostname())] {
		return "", errors.InvalidInput("Tunnel target URL must point to a local host (127.0.0.1/localhost).")
	}
	if u.User != nil {
		return "", errors.InvalidInput("Tunnel target URL must not include credentials.")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// ExtractURL returns the best public URL in a line of tunnel output, or "".
// Loopback and denied hosts are skipped; trycloudflare.com and
// cfargotunnel.com hosts win over any other match.
func ExtractURL(line string) string {
	var fallback string
	for _, candidate := range urlInText.FindAllString(line, -1) {
		if strings.Contains(candidate, "localhost") || strings.Contains(candidate, "127.0.0.1") {
			continue
		}
		cleaned := trailingPunct.ReplaceAllString(candidate, "")
		host := ""
		if u, err := url.Parse(cleaned); err == nil {
			host = strings.ToLower(u.Hostname())
		}
		if deniedHosts[host] {
			continue
		}
		if strings.Contains(host, "trycloudflare.com") || strings.Contains(host, "cfargotunnel.com") {
			return cleaned
		}
		if fallback == "" {
			fallback = cleaned
		}
	}
	return fallback
}

// ResolveBin picks the cloudflared binary: the configured path, a
// well-known install location on Windows, else whatever PATH provides.
func ResolveBin(configured string) string {
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured
	}
	if runtime.GOOS == "windows" {
		for _, candidate := range windowsBinCandidates {
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return "cloudflared"
}
