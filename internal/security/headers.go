package security

import (
	"net/http"
	"strings"
)

var contentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"script-src 'self'",
	"style-src 'self' 'unsafe-inline'",
	"font-src 'self' data:",
	"connect-src 'self'",
	"img-src 'self' data:",
	"frame-src 'self'",
	"object-src 'none'",
	"base-uri 'none'",
}, "; ")

// SetHeaders writes the security headers sent with every panel response.
func SetHeaders(h http.Header) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("X-Frame-Options", "SAMEORIGIN")
	h.Set("Content-Security-Policy", contentSecurityPolicy)
}
