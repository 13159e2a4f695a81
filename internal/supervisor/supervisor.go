// Package supervisor launches and tracks the panel's child processes: one-shot
// build commands guarded by a single-flight flag, and the long-running dev
// server and relay watcher, each held in a singleton slot.
package supervisor

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/remote-panel/command"
	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/internal/metrics"
	"github.com/grovetools/remote-panel/logging"
	"github.com/grovetools/remote-panel/pkg/process"
	"github.com/sirupsen/logrus"
)

const (
	DefaultOneShotTimeout = 20 * time.Minute
	// DefaultKillGrace is how long a timed-out tree gets to honour SIGTERM
	// before the group is killed outright.
	DefaultKillGrace = 2 * time.Second
	outputTailLines  = 250
)

// Listener is told about every log line and every change to the
// supervisor's public state.
type Listener interface {
	OnLog(LogEntry)
	OnStateChange()
}

// Options configures a Supervisor.
type Options struct {
	Builder     *command.SafeBuilder
	Metrics     *metrics.Metrics
	MaxLogLines int
	KillGrace   time.Duration
}

// Supervisor owns every child process the panel starts, except the tunnel.
type Supervisor struct {
	builder *command.SafeBuilder
	metrics   *metrics.Metrics
	logs      *LogRing
	logger    *logrus.Entry
	killGrace time.Duration

	listenerMu sync.RWMutex
	listener   Listener

	mu             sync.Mutex
	commandRunning bool
	dev            *slot[DevProcess]
	relay          *slot[RelayProcess]
}

type slot[T any] struct {
	info   T
	handle *process.Handle
}

// New creates a Supervisor.
func New(opts Options) *Supervisor {
	grace := opts.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	return &Supervisor{
		builder:   opts.Builder,
		metrics:   opts.Metrics,
		logs:      NewLogRing(opts.MaxLogLines),
		logger:    logging.NewLogger("supervisor"),
		killGrace: grace,
	}
}

// SetListener installs the receiver of log and state notifications.
func (s *Supervisor) SetListener(l Listener) {
	s.listenerMu.Lock()
	s.listener = l
	s.listenerMu.Unlock()
}

func (s *Supervisor) currentListener() Listener {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	return s.listener
}

// Builder returns the command builder used for child processes.
func (s *Supervisor) Builder() *command.SafeBuilder {
	return s.builder
}

// Log records a line in the ring buffer and forwards it to the listener.
func (s *Supervisor) Log(source, message string) {
	entry := s.logs.Add(source, message)
	if l := s.currentListener(); l != nil {
		l.OnLog(entry)
	}
}

// Logs returns the buffered log entries.
func (s *Supervisor) Logs() []LogEntry {
	return s.logs.Entries()
}

// NotifyState tells the listener that public state changed.
func (s *Supervisor) NotifyState() {
	if l := s.currentListener(); l != nil {
		l.OnStateChange()
	}
}

// CommandRunning reports whether a one-shot command is in flight.
func (s *Supervisor) CommandRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commandRunning
}

// OneShotSpec describes a command that is expected to run to completion.
// Exactly one of Script or Binary is set.
type OneShotSpec struct {
	// Source tags the command's output lines in the log.
	Source string
	// Script is a package script run through the configured runner.
	Script string
	// Binary is run directly, e.g. the agent CLI.
	Binary  string
	Args    []string
	Stdin   string
	Timeout time.Duration
}

// OneShotResult is what a finished one-shot command reports.
type OneShotResult struct {
	OK          bool     `json:"ok"`
	ExitCode    int      `json:"exitCode"`
	DurationMs  int64    `json:"durationMs"`
	OutputLines []string `json:"outputLines"`
}

func (spec OneShotSpec) label(b *command.SafeBuilder) string {
	if spec.Binary != "" {
		return strings.TrimSpace(spec.Binary + " " + strings.Join(spec.Args, " "))
	}
	name, argv := b.ScriptArgs(spec.Script, spec.Args...)
	return name + " " + strings.Join(argv, " ")
}

// RunOneShot runs spec to completion. Only one one-shot command may run at a
// time; a second call while one is in flight fails with a conflict error and
// starts nothing. On timeout (or ctx cancellation) the process tree is
// terminated, escalating to SIGKILL after the kill grace, and the error is
// returned without waiting on a tree that still refuses to die.
func (s *Supervisor) RunOneShot(ctx context.Context, spec OneShotSpec) (*OneShotResult, error) {
	s.mu.Lock()
	if s.commandRunning {
		s.mu.Unlock()
		return nil, errors.Conflict("Another command is already running.")
	}
	s.commandRunning = true
	s.mu.Unlock()
	s.NotifyState()

	defer func() {
		s.mu.Lock()
		s.commandRunning = false
		s.mu.Unlock()
		s.NotifyState()
	}()

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultOneShotTimeout
	}
	label := spec.label(s.builder)

	var cmd *exec.Cmd
	if spec.Binary != "" {
		cmd = s.builder.Binary(spec.Binary, spec.Args...)
	} else {
		cmd = s.builder.Script(spec.Script, spec.Args...)
	}
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	out := &tail{n: outputTailLines}
	s.Log("system", "Starting command: "+label)
	started := time.Now()

	h, err := process.Start(cmd, func(_ process.Stream, line string) {
		s.Log(spec.Source, line)
		out.add(line)
	})
	if err != nil {
		s.Log("system", fmt.Sprintf("Command failed to start: %s (%v)", label, err))
		return nil, spawnError(label, err)
	}
	s.metrics.ProcessStarted("oneshot")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.Done():
	case <-timer.C:
		s.terminate(h, label)
		s.Log("system", fmt.Sprintf("Command timed out: %s", label))
		s.metrics.ProcessExited("oneshot", -1)
		return nil, errors.CommandTimeout(timeout)
	case <-ctx.Done():
		s.terminate(h, label)
		s.Log("system", fmt.Sprintf("Command cancelled: %s", label))
		s.metrics.ProcessExited("oneshot", -1)
		return nil, errors.Wrap(ctx.Err(), errors.ErrCodeCommandFailed, "Command cancelled.")
	}

	res := h.Result()
	result := &OneShotResult{
		OK:          res.Err == nil && res.ExitCode == 0,
		ExitCode:    res.ExitCode,
		DurationMs:  time.Since(started).Milliseconds(),
		OutputLines: out.snapshot(),
	}
	s.metrics.ProcessExited("oneshot", result.ExitCode)
	s.metrics.OneShotFinished(spec.Source, time.Since(started).Seconds())
	s.Log("system", fmt.Sprintf("Finished command: %s (exit %d)", label, result.ExitCode))
	return result, nil
}

func (s *Supervisor) terminate(h *process.Handle, label string) {
	if !h.Terminate(s.killGrace) {
		s.Log("system", fmt.Sprintf("Command did not exit after SIGKILL: %s (pid=%d)", label, h.PID))
	}
}

// spawnError converts an exec start failure into a structured error.
func spawnError(label string, err error) error {
	if stderrors.Is(err, exec.ErrNotFound) || stderrors.Is(err, fs.ErrNotExist) {
		return errors.CommandNotFound(label, err)
	}
	return errors.CommandFailed(label, err)
}

// Shutdown signals every supervised long-running process.
func (s *Supervisor) Shutdown() {
	s.StopRelay()
	s.StopDev()
}
