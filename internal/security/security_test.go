package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedMode string

func (m fixedMode) SecurityMode() string { return string(m) }

func newRequest(remote string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	r.RemoteAddr = remote
	return r
}

func TestNormalizeIP(t *testing.T) {
	assert.Equal(t, "192.168.1.4", NormalizeIP("::ffff:192.168.1.4"))
	assert.Equal(t, "127.0.0.1", NormalizeIP("::1"))
	assert.Equal(t, "8.8.8.8", NormalizeIP("8.8.8.8"))

	r := newRequest("[::ffff:10.0.0.7]:5555")
	assert.Equal(t, "10.0.0.7", ClientIP(r))
	r = newRequest("[::1]:5555")
	assert.Equal(t, "127.0.0.1", ClientIP(r))
}

func TestIsPrivateIPv4(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"192.168.0.1", true},
		{"169.254.10.10", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"172.15.0.1", false},
		{"172.32.0.1", false},
		{"8.8.8.8", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPrivateIPv4(tt.ip), "ip %q", tt.ip)
	}
}

func TestAllowlist(t *testing.T) {
	open, err := NewGate(nil, fixedMode(config.SecurityOff))
	require.NoError(t, err)
	assert.True(t, open.Allowed("203.0.113.9"), "empty allowlist admits everyone")

	g, err := NewGate([]string{"192.168.1.*", "10.0.0.5"}, fixedMode(config.SecurityOff))
	require.NoError(t, err)

	assert.True(t, g.Allowed("192.168.1.44"))
	assert.True(t, g.Allowed("10.0.0.5"))
	assert.False(t, g.Allowed("10.0.0.50"))
	assert.False(t, g.Allowed("192.168.2.1"))

	_, err = g.Check(newRequest("203.0.113.9:1234"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIPNotAllowed))
	assert.Equal(t, http.StatusForbidden, errors.HTTPStatus(err))
}

func TestEffectiveModeAuto(t *testing.T) {
	g, err := NewGate(nil, fixedMode(config.SecurityAuto))
	require.NoError(t, err)

	assert.Equal(t, config.SecurityOff, g.EffectiveMode("127.0.0.1"))
	assert.Equal(t, config.SecurityOff, g.EffectiveMode("192.168.1.9"))
	assert.Equal(t, config.SecurityOn, g.EffectiveMode("203.0.113.9"))
}

func TestHTTPSEnforcement(t *testing.T) {
	g, err := NewGate(nil, fixedMode(config.SecurityOn))
	require.NoError(t, err)

	// Plain HTTP from a public address is refused.
	_, err = g.Check(newRequest("203.0.113.9:1000"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeHTTPSRequired))

	// Proxies that terminated TLS are trusted.
	r := newRequest("203.0.113.9:1000")
	r.Header.Set("X-Forwarded-Proto", "https")
	_, err = g.Check(r)
	assert.NoError(t, err)
	assert.True(t, g.SecureCookie(r, "203.0.113.9"))

	// Local HTTP passes but never gets a Secure cookie.
	r = newRequest("127.0.0.1:1000")
	_, err = g.Check(r)
	assert.NoError(t, err)
	assert.False(t, g.SecureCookie(r, "127.0.0.1"))

	r = newRequest("203.0.113.9:1000")
	r.TLS = &tls.ConnectionState{}
	assert.False(t, g.ShouldEnforceHTTPS(r, "203.0.113.9"))
	assert.True(t, g.SecureCookie(r, "203.0.113.9"))
}

func TestSecurityOffNeverSecure(t *testing.T) {
	g, err := NewGate(nil, fixedMode(config.SecurityOff))
	require.NoError(t, err)

	r := newRequest("203.0.113.9:1000")
	r.Header.Set("X-Forwarded-Proto", "https")
	assert.False(t, g.ShouldEnforceHTTPS(r, "203.0.113.9"))
	assert.False(t, g.SecureCookie(r, "203.0.113.9"))
}

func TestCheckCSRF(t *testing.T) {
	token := "csrf-token-value"

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		r := httptest.NewRequest(method, "/api/session", nil)
		assert.NoError(t, CheckCSRF(r, token), method)
	}

	tests := []struct {
		name   string
		header string
		ok     bool
	}{
		{"matching", token, true},
		{"missing", "", false},
		{"mismatched", "csrf-token-valuX", false},
		{"prefix", "csrf-token", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/dev/start", nil)
			if tt.header != "" {
				r.Header.Set(CSRFHeader, tt.header)
			}
			err := CheckCSRF(r, token)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, errors.ErrCodeCSRFInvalid))
			}
		})
	}

	r := httptest.NewRequest(http.MethodPost, "/api/dev/start", nil)
	r.Header.Set(CSRFHeader, "")
	assert.Error(t, CheckCSRF(r, ""), "an empty session token never matches")
}

func TestLoginLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewLoginLimiter(DefaultMaxLoginAttempts, DefaultLoginWindow)
	l.now = func() time.Time { return now }

	for i := 0; i < DefaultMaxLoginAttempts; i++ {
		require.True(t, l.Allow("1.2.3.4"), "attempt %d", i)
		l.RegisterFailure("1.2.3.4")
		now = now.Add(time.Minute)
	}
	assert.False(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("5.6.7.8"), "limits are per IP")

	// The first failure (at 12:00) leaves the window at 12:15.
	now = time.Date(2026, 1, 1, 12, 15, 1, 0, time.UTC)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.Equal(t, DefaultMaxLoginAttempts-1, l.Failures("1.2.3.4"))
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("secret", "secret"))
	assert.False(t, ConstantTimeEqual("secret", "secreT"))
	assert.False(t, ConstantTimeEqual("secret", "secret-longer"))
}

func TestSetHeaders(t *testing.T) {
	h := http.Header{}
	SetHeaders(h)
	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", h.Get("X-Frame-Options"))
	assert.Contains(t, h.Get("Content-Security-Policy"), "object-src 'none'")
}
