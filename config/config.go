package config

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/pkg/paths"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// envKeys maps REMOTE_PANEL_* variables onto dotted Settings keys.
var envKeys = map[string]string{
	"REMOTE_PANEL_HOST":                     "host",
	"REMOTE_PANEL_PORT":                     "port",
	"REMOTE_PANEL_PASSWORD":                 "password",
	"REMOTE_PANEL_SESSION_SECRET":           "session_secret",
	"REMOTE_PANEL_SECURITY_MODE":            "security_mode",
	"REMOTE_PANEL_REQUIRE_HTTPS":            "require_https",
	"REMOTE_PANEL_ALLOWLIST":                "allowlist",
	"REMOTE_PANEL_BIND_SESSION_IP":          "bind_session_ip",
	"REMOTE_PANEL_PERSIST_SESSIONS":         "persist_sessions",
	"REMOTE_PANEL_SESSION_STORE":            "session_store",
	"REMOTE_PANEL_RUNTIME_CONFIG":           "runtime_config",
	"REMOTE_PANEL_TUNNEL_PROVIDER":          "tunnel_provider",
	"REMOTE_PANEL_TUNNEL_MODE":              "tunnel_mode",
	"REMOTE_PANEL_CLOUDFLARED_BIN":          "cloudflared.bin",
	"REMOTE_PANEL_CLOUDFLARED_TUNNEL_TOKEN": "cloudflared.tunnel_token",
	"REMOTE_PANEL_CLOUDFLARED_TUNNEL_NAME":  "cloudflared.tunnel_name",
	"REMOTE_PANEL_CLOUDFLARED_CONFIG":       "cloudflared.config",
	"REMOTE_PANEL_AGENT_CLI":                "agent_cli",
	"REMOTE_PANEL_PREVIEW_REFRESH_MS":       "preview_refresh_ms",
	"REMOTE_PANEL_LOG_LEVEL":                "logging.level",
}

// Overrides are command-line values; they win over every other source.
type Overrides struct {
	Host           string
	Port           int
	SecurityMode   string
	PublicHost     string
	TunnelProvider string
	TunnelMode     string
	CloudflaredBin string
	TunnelToken    string
	TunnelName     string
	TunnelConfig   string
}

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// WorkDir is the workspace root the panel serves.
	WorkDir string
	// ConfigFile is an explicit panel.yml / panel.toml path.
	ConfigFile string
	Overrides  Overrides
	Logger     *logrus.Entry
}

// Load resolves Settings from, lowest to highest precedence: defaults, the
// config file, the workspace .env file, REMOTE_PANEL_* environment, the
// persisted runtime config and command-line overrides. A malformed config
// file or runtime config document is an error.
func Load(opts LoadOptions) (*Settings, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	ws := paths.NewWorkspace(opts.WorkDir)

	var s Settings

	configPath := opts.ConfigFile
	if configPath == "" {
		configPath = FindConfigFile(ws.Root)
	}
	if configPath != "" {
		logger.WithField("path", configPath).Debug("Loading panel configuration")
		if err := loadFile(configPath, &s); err != nil {
			return nil, err
		}
	}

	LoadDotEnv(filepath.Join(ws.Root, ".env"))
	if err := applyEnv(&s, os.LookupEnv); err != nil {
		return nil, err
	}

	if s.SessionStoreFile == "" {
		s.SessionStoreFile = ws.DefaultSessionStoreFile()
	}
	s.SessionStoreFile = ws.Resolve(s.SessionStoreFile)
	if s.RuntimeConfigFile == "" {
		s.RuntimeConfigFile = ws.DefaultRuntimeConfigFile()
	}
	s.RuntimeConfigFile = ws.Resolve(s.RuntimeConfigFile)

	rc, err := LoadRuntimeConfig(s.RuntimeConfigFile)
	if err != nil {
		return nil, err
	}
	if rc.SecurityMode != "" {
		s.SecurityMode = rc.SecurityMode
	}
	if rc.PublicHost != "" {
		s.PublicHost = rc.PublicHost
	}
	if rc.TunnelMode != "" {
		s.TunnelMode = rc.TunnelMode
	}

	applyOverrides(&s, opts.Overrides)
	s.SetDefaults()

	if s.Password == "" || strings.HasPrefix(s.Password, "replace_with") {
		s.Password = randomToken(18)
		s.PasswordGenerated = true
	}
	if s.SessionSecret == "" || strings.HasPrefix(s.SessionSecret, "replace_with") {
		s.SessionSecret = randomToken(32)
		s.SecretGenerated = true
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// FindConfigFile returns the first panel config file found in the workspace
// root, then the user config directory. It returns "" when there is none.
func FindConfigFile(root string) string {
	names := []string{"panel.yml", "panel.yaml", "panel.toml", ".panel.yml", ".panel.yaml"}

	dirs := []string{root}
	if dir := paths.ConfigDir(); dir != "" {
		dirs = append(dirs, dir)
	}
	for _, dir := range dirs {
		for _, name := range names {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
	}
	return ""
}

func loadFile(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New(errors.ErrCodeConfigNotFound, "configuration file not found").
				WithDetail("path", path)
		}
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}

	expanded := []byte(expandEnvVars(string(data)))

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		dec := toml.NewDecoder(bytes.NewReader(expanded))
		dec.DisallowUnknownFields()
		if err := dec.Decode(s); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML configuration").
				WithDetail("path", path)
		}
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && err != io.EOF {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML configuration").
			WithDetail("path", path)
	}
	return nil
}

// applyEnv overlays REMOTE_PANEL_* variables. Values are strings, so the
// decoder is weakly typed and understands comma lists and yes/no booleans.
func applyEnv(s *Settings, lookup func(string) (string, bool)) error {
	raw := map[string]interface{}{}
	for env, key := range envKeys {
		value, ok := lookup(env)
		if !ok || value == "" {
			continue
		}
		setDotted(raw, key, value)
	}
	if _, ok := raw["public_host"]; !ok {
		if v, ok := lookup("REMOTE_PANEL_PUBLIC_HOST"); ok && v != "" {
			raw["public_host"] = v
		} else if v, ok := lookup("REMOTE_PANEL_MOBILE_IP"); ok && v != "" {
			raw["public_host"] = v
		}
	}
	if len(raw) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           s,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			boolWordHook,
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create environment decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "invalid REMOTE_PANEL_* environment")
	}
	return nil
}

func setDotted(m map[string]interface{}, key string, value interface{}) {
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// boolWordHook accepts yes/no/on/off alongside strconv spellings.
func boolWordHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	if to.Kind() != reflect.Bool && !(to.Kind() == reflect.Ptr && to.Elem().Kind() == reflect.Bool) {
		return data, nil
	}
	switch strings.ToLower(strings.TrimSpace(data.(string))) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return data, nil
}

func applyOverrides(s *Settings, o Overrides) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&s.Host, o.Host)
	if o.Port != 0 {
		s.Port = o.Port
	}
	set(&s.SecurityMode, o.SecurityMode)
	set(&s.PublicHost, o.PublicHost)
	set(&s.TunnelProvider, o.TunnelProvider)
	set(&s.TunnelMode, o.TunnelMode)
	set(&s.Cloudflared.Bin, o.CloudflaredBin)
	set(&s.Cloudflared.Token, o.TunnelToken)
	set(&s.Cloudflared.TunnelName, o.TunnelName)
	set(&s.Cloudflared.ConfigFile, o.TunnelConfig)
}

// LoadDotEnv copies KEY=VALUE lines from path into the process environment
// without replacing variables that are already set. A missing file is fine.
func LoadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		value = strings.TrimPrefix(strings.TrimPrefix(value, `"`), `'`)
		value = strings.TrimSuffix(strings.TrimSuffix(value, `"`), `'`)
		if os.Getenv(name) == "" {
			_ = os.Setenv(name, value)
		}
	}
}

// expandEnvVars replaces ${VAR} with environment variable values
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		varName := envVarRegex.FindStringSubmatch(match)[1]

		// Handle default values: ${VAR:-default}
		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]
		defaultValue := ""
		if len(parts) > 1 {
			defaultValue = parts[1]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
