package logging

// Config defines the logging section of panel.yml / panel.toml.
type Config struct {
	// Level is the minimum log level to output (e.g., "debug", "info", "warn", "error").
	// Can be overridden by the PANEL_LOG_LEVEL environment variable.
	Level string `yaml:"level" toml:"level" mapstructure:"level"`

	// ReportCaller, if true, includes the file, line, and function name in the log output.
	ReportCaller bool `yaml:"report_caller" toml:"report_caller" mapstructure:"report_caller"`

	// File configures logging to a file.
	File FileSinkConfig `yaml:"file" toml:"file" mapstructure:"file"`

	// Format configures the appearance of the log output.
	Format FormatConfig `yaml:"format" toml:"format" mapstructure:"format"`
}

// FileSinkConfig configures the file logging sink.
type FileSinkConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" mapstructure:"enabled"`
	// Path is the full path to the log file. Defaults to
	// .agency/remote/logs/<component>-<date>.log under the workspace.
	Path string `yaml:"path" toml:"path" mapstructure:"path"`
}

// FormatConfig controls the log output format.
type FormatConfig struct {
	// Preset can be "default" (rich text), "simple" (minimal text), or "json".
	Preset           string `yaml:"preset" toml:"preset" mapstructure:"preset"`
	DisableTimestamp bool   `yaml:"disable_timestamp" toml:"disable_timestamp" mapstructure:"disable_timestamp"`
	DisableComponent bool   `yaml:"disable_component" toml:"disable_component" mapstructure:"disable_component"`
	// Stderr controls when logs are sent to stderr: "auto" (default), "always", or "never".
	// The panel is a foreground server, so "auto" logs to stderr unless it is
	// not a terminal and a file sink is enabled.
	Stderr string `yaml:"stderr" toml:"stderr" mapstructure:"stderr"`
}
