package config

import (
	"testing"

	"github.com/grovetools/remote-panel/errors"
	"github.com/stretchr/testify/assert"
)

func TestValidateAllowlistEntry(t *testing.T) {
	testCases := []struct {
		name  string
		entry string
		valid bool
	}{
		{"exact ipv4", "192.168.1.20", true},
		{"exact ipv6", "fe80::1", true},
		{"prefix wildcard", "192.168.1.*", true},
		{"bare wildcard", "*", true},
		{"hostname", "phone.local", false},
		{"inner wildcard", "192.*.1.*", false},
		{"glob class", "10.0.[0-9]*", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateAllowlistEntry(tc.entry)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func validSettings() *Settings {
	s := &Settings{SessionSecret: "0123456789abcdef0123"}
	s.SetDefaults()
	return s
}

func TestValidateSettings(t *testing.T) {
	assert.NoError(t, validSettings().Validate())

	testCases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"port out of range", func(s *Settings) { s.Port = 70000 }},
		{"empty host", func(s *Settings) { s.Host = " " }},
		{"bad security mode", func(s *Settings) { s.SecurityMode = "sometimes" }},
		{"unsupported provider", func(s *Settings) { s.TunnelProvider = "ngrok" }},
		{"bad allowlist", func(s *Settings) { s.Allowlist = []string{"not-an-ip"} }},
		{"short secret", func(s *Settings) { s.SessionSecret = "short" }},
		{"empty runner", func(s *Settings) { s.Runner = []string{""} }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := validSettings()
			tc.mutate(s)
			err := s.Validate()
			assert.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeConfigInvalid))
		})
	}
}
