package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/grovetools/remote-panel/errors"
)

// Validate checks that the resolved settings are usable. It runs after
// SetDefaults, so empty values here are operator errors.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Host) == "" {
		return errors.ConfigInvalid("host cannot be empty")
	}
	if s.Port < 1 || s.Port > 65535 {
		return errors.ConfigInvalid(fmt.Sprintf("port %d out of range", s.Port)).
			WithDetail("port", s.Port)
	}

	switch s.SecurityMode {
	case SecurityOn, SecurityOff, SecurityAuto:
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown security mode %q", s.SecurityMode))
	}

	if s.TunnelProvider != DefaultTunnelProvider {
		return errors.ConfigInvalid(fmt.Sprintf("unsupported tunnel provider %q (only cloudflared is supported)", s.TunnelProvider)).
			WithDetail("provider", s.TunnelProvider)
	}

	for _, entry := range s.Allowlist {
		if err := validateAllowlistEntry(entry); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, "invalid allowlist entry").
				WithDetail("entry", entry)
		}
	}

	if len(s.Runner) > 0 && strings.TrimSpace(s.Runner[0]) == "" {
		return errors.ConfigInvalid("runner command cannot be empty")
	}

	if len(s.SessionSecret) < 16 {
		return errors.ConfigInvalid("session secret must be at least 16 characters")
	}

	return nil
}

// validateAllowlistEntry accepts an exact IP or a prefix ending in '*'.
func validateAllowlistEntry(entry string) error {
	if strings.HasSuffix(entry, "*") {
		prefix := strings.TrimSuffix(entry, "*")
		if strings.HasPrefix(prefix, "!") || strings.ContainsAny(prefix, "*?[]\\ ") {
			return fmt.Errorf("wildcard is only allowed at the end: %s", entry)
		}
		return nil
	}
	if net.ParseIP(entry) == nil {
		return fmt.Errorf("not an IP address: %s", entry)
	}
	return nil
}
