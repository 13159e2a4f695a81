package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("test-component")
	if logger == nil {
		t.Fatal("Expected logger to be created")
	}

	if logger.Data["component"] != "test-component" {
		t.Errorf("Expected component to be 'test-component', got %v", logger.Data["component"])
	}

	if NewLogger("test-component") != logger {
		t.Error("Expected cached logger for the same component")
	}
}

func TestTextFormatter(t *testing.T) {
	tests := []struct {
		name    string
		config  FormatConfig
		entry   *logrus.Entry
		want    []string
		notWant []string
	}{
		{
			name:   "default format",
			config: FormatConfig{},
			entry: &logrus.Entry{
				Level:   logrus.InfoLevel,
				Message: "dev server started",
				Data: logrus.Fields{
					"component": "supervisor",
					"pid":       4242,
				},
			},
			want: []string{"[INFO]", "supervisor", "dev server started", "pid=4242"},
		},
		{
			name: "simple format",
			config: FormatConfig{
				DisableTimestamp: true,
				DisableComponent: true,
			},
			entry: &logrus.Entry{
				Level:   logrus.WarnLevel,
				Message: "session secret generated",
				Data: logrus.Fields{
					"component": "session",
				},
			},
			want:    []string{"[WARN]", "session secret generated"},
			notWant: []string{"[session]"},
		},
		{
			name:   "caller information",
			config: FormatConfig{},
			entry: func() *logrus.Entry {
				logger := logrus.New()
				logger.SetReportCaller(true)
				return &logrus.Entry{
					Logger:  logger,
					Level:   logrus.InfoLevel,
					Message: "with caller",
					Data:    logrus.Fields{"component": "tunnel"},
					Caller: &runtime.Frame{
						File:     "/path/to/discovery.go",
						Line:     42,
						Function: "github.com/grovetools/remote-panel/internal/tunnel.(*Manager).Start",
					},
				}
			}(),
			want: []string{"[discovery.go:42 tunnel.(*Manager).Start]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TextFormatter{Config: tt.config}
			output, err := formatter.Format(tt.entry)
			require.NoError(t, err)

			outputStr := string(output)
			for _, want := range tt.want {
				assert.Contains(t, outputStr, want)
			}
			for _, notWant := range tt.notWant {
				assert.NotContains(t, outputStr, notWant)
			}
		})
	}
}

func TestTextFormatterSortsFields(t *testing.T) {
	formatter := &TextFormatter{Config: FormatConfig{DisableTimestamp: true}}
	out, err := formatter.Format(&logrus.Entry{
		Level:   logrus.InfoLevel,
		Message: "m",
		Data:    logrus.Fields{"zeta": 1, "alpha": 2, "mid": 3},
	})
	require.NoError(t, err)

	s := string(out)
	assert.Less(t, strings.Index(s, "alpha="), strings.Index(s, "mid="))
	assert.Less(t, strings.Index(s, "mid="), strings.Index(s, "zeta="))
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.WarnLevel)

	entry := logger.WithField("component", "test")
	entry.Debug("debug message")
	entry.Info("info message")
	entry.Warn("warn message")
	entry.Error("error message")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("PANEL_LOG_LEVEL", "debug")
	t.Setenv("PANEL_LOG_CALLER", "true")
	Configure(Config{}, "")
	defer Configure(Config{}, "")

	logger := NewLogger("env-test")
	assert.Equal(t, logrus.DebugLevel, logger.Logger.GetLevel())
	assert.True(t, logger.Logger.ReportCaller)
}

func TestConfigureFileSink(t *testing.T) {
	root := t.TempDir()
	Configure(Config{
		Level: "info",
		File:  FileSinkConfig{Enabled: true},
		Format: FormatConfig{
			Preset: "json",
			Stderr: "never",
		},
	}, root)
	defer Configure(Config{}, "")

	logger := NewLogger("file-test")
	logger.Info("persisted line")

	matches, err := filepath.Glob(filepath.Join(root, "logs", "file-test-*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"persisted line"`)
	assert.Contains(t, string(data), `"component":"file-test"`)
}

func TestPrettyLoggerWritesPlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrettyLogger().WithWriter(&buf)
	p.Field("Local", "http://127.0.0.1:8787")
	p.Success("Panel ready")

	out := buf.String()
	assert.Contains(t, out, "Local: http://127.0.0.1:8787")
	assert.Contains(t, out, "✓ Panel ready")
}
