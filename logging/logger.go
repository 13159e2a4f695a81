package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex

	activeConfig Config
	logRoot      string
)

// Configure sets the configuration used by loggers created afterwards and
// resets the component cache. root is the directory default log files are
// written under; empty disables the default file sink.
func Configure(cfg Config, root string) {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	activeConfig = cfg
	logRoot = root
	loggers = make(map[string]*logrus.Entry)
}

// NewLogger creates and returns a pre-configured logger for a specific component.
// It uses a singleton pattern per component to avoid re-initializing.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	logCfg := activeConfig
	logger := logrus.New()

	// Configure Level
	levelStr := "info"
	if os.Getenv("PANEL_LOG_LEVEL") != "" {
		levelStr = os.Getenv("PANEL_LOG_LEVEL")
	} else if logCfg.Level != "" {
		levelStr = logCfg.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if os.Getenv("PANEL_LOG_CALLER") == "true" || logCfg.ReportCaller {
		logger.SetReportCaller(true)
	}

	switch logCfg.Format.Preset {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "simple":
		logger.SetFormatter(&TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}})
	default:
		logger.SetFormatter(&TextFormatter{Config: logCfg.Format})
	}

	var writers []io.Writer

	logFilePath := ""
	if logCfg.File.Enabled {
		if logCfg.File.Path != "" {
			logFilePath = expandPath(logCfg.File.Path)
		} else if logRoot != "" {
			dateStr := time.Now().Format("2006-01-02")
			logFilePath = filepath.Join(logRoot, "logs", fmt.Sprintf("%s-%s.log", component, dateStr))
		}
	}

	if logFilePath != "" {
		dir := filepath.Dir(logFilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Warnf("Failed to create log directory %s: %v", dir, err)
		} else {
			file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				writers = append(writers, file)
			} else {
				logger.Warnf("Failed to open log file %s: %v", logFilePath, err)
			}
		}
	}

	if shouldLogToStderr(logCfg.Format.Stderr, len(writers) > 0) {
		writers = append(writers, os.Stderr)
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}

	entry := logger.WithField("component", component)
	loggers[component] = entry
	return entry
}

func shouldLogToStderr(mode string, hasFileSink bool) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		// Detached runs with a file sink keep stderr quiet; interactive runs
		// and runs without any other sink always log to stderr.
		isInteractive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
		return isInteractive || !hasFileSink
	}
}

// expandPath expands tilde in file paths
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
