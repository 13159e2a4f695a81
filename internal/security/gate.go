// Package security decides which requests may reach the panel: IP
// allow-listing, the HTTPS policy, CSRF checks and login throttling.
package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/errors"
	"github.com/moby/patternmatcher"
)

// CSRFHeader carries the session's CSRF token on mutating requests.
const CSRFHeader = "X-CSRF-Token"

// ModeSource supplies the configured security mode, which can change at runtime.
type ModeSource interface {
	SecurityMode() string
}

// Gate applies the access policy to incoming requests.
type Gate struct {
	allowlist []string
	matcher   *patternmatcher.PatternMatcher
	modes     ModeSource
}

// NewGate builds a Gate. An empty allowlist admits every client.
func NewGate(allowlist []string, modes ModeSource) (*Gate, error) {
	g := &Gate{allowlist: allowlist, modes: modes}
	if len(allowlist) > 0 {
		pm, err := patternmatcher.New(allowlist)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "invalid allowlist")
		}
		g.matcher = pm
	}
	return g, nil
}

// Allowlist returns the configured allowlist entries.
func (g *Gate) Allowlist() []string {
	return append([]string(nil), g.allowlist...)
}

// ClientIP returns the normalized peer address of r. Forwarding headers are
// not trusted for identity.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return NormalizeIP(host)
}

// NormalizeIP unwraps IPv4-mapped IPv6 addresses and maps the IPv6
// loopback to 127.0.0.1.
func NormalizeIP(raw string) string {
	ip := strings.TrimSpace(raw)
	if strings.HasPrefix(ip, "::ffff:") {
		return ip[len("::ffff:"):]
	}
	if ip == "::1" {
		return "127.0.0.1"
	}
	return ip
}

// IsLocalIP reports loopback clients. An empty address counts as local.
func IsLocalIP(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1" || ip == ""
}

// IsPrivateIPv4 reports RFC1918 and link-local IPv4 addresses.
func IsPrivateIPv4(ip string) bool {
	if strings.HasPrefix(ip, "10.") || strings.HasPrefix(ip, "192.168.") || strings.HasPrefix(ip, "169.254.") {
		return true
	}
	if strings.HasPrefix(ip, "172.") {
		rest := strings.SplitN(ip[len("172."):], ".", 2)
		if len(rest) == 2 {
			if second, err := strconv.Atoi(rest[0]); err == nil && second >= 16 && second <= 31 {
				return true
			}
		}
	}
	return false
}

// IsPrivateNetworkIP reports local or private-range clients.
func IsPrivateNetworkIP(ip string) bool {
	return IsLocalIP(ip) || IsPrivateIPv4(ip)
}

// Allowed reports whether ip passes the allowlist.
func (g *Gate) Allowed(ip string) bool {
	if g.matcher == nil {
		return true
	}
	ok, err := g.matcher.MatchesOrParentMatches(ip)
	return err == nil && ok
}

// EffectiveMode resolves "auto" to on or off for a particular client.
func (g *Gate) EffectiveMode(ip string) string {
	mode := g.modes.SecurityMode()
	if mode != config.SecurityAuto {
		return mode
	}
	if IsPrivateNetworkIP(ip) {
		return config.SecurityOff
	}
	return config.SecurityOn
}

func forwardedHTTPS(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("X-Forwarded-Proto")), "https")
}

// IsHTTPS reports whether the request arrived over TLS, through an HTTPS
// proxy, or from the local machine.
func IsHTTPS(r *http.Request, ip string) bool {
	return r.TLS != nil || forwardedHTTPS(r) || IsLocalIP(ip)
}

// ShouldEnforceHTTPS reports whether the request must be refused for being
// plain HTTP.
func (g *Gate) ShouldEnforceHTTPS(r *http.Request, ip string) bool {
	if g.EffectiveMode(ip) != config.SecurityOn {
		return false
	}
	return !IsHTTPS(r, ip)
}

// SecureCookie reports whether session cookies for this request carry the
// Secure attribute. Local HTTP does not count here.
func (g *Gate) SecureCookie(r *http.Request, ip string) bool {
	if g.EffectiveMode(ip) != config.SecurityOn {
		return false
	}
	return r.TLS != nil || forwardedHTTPS(r)
}

// Check applies the allowlist and HTTPS policy. It returns the client IP.
func (g *Gate) Check(r *http.Request) (string, error) {
	ip := ClientIP(r)
	if !g.Allowed(ip) {
		return ip, errors.IPNotAllowed(ip)
	}
	if g.ShouldEnforceHTTPS(r, ip) {
		return ip, errors.HTTPSRequired()
	}
	return ip, nil
}

// IsSafeMethod reports methods exempt from CSRF checks.
func IsSafeMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// CheckCSRF requires mutating requests to echo the session's CSRF token.
func CheckCSRF(r *http.Request, sessionToken string) error {
	if IsSafeMethod(r.Method) {
		return nil
	}
	token := r.Header.Get(CSRFHeader)
	if token == "" || sessionToken == "" || !ConstantTimeEqual(token, sessionToken) {
		return errors.CSRFInvalid()
	}
	return nil
}

// ConstantTimeEqual compares two secrets without leaking their contents or
// lengths through timing.
func ConstantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
