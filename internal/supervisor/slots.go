package supervisor

import (
	"fmt"
	"strconv"
	"time"

	"github.com/grovetools/remote-panel/command"
	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/pkg/process"
)

// DevProcess is the public view of the running dev server.
type DevProcess struct {
	Mode      string    `json:"mode"`
	Project   string    `json:"project,omitempty"`
	Port      int       `json:"port,omitempty"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

// RelayProcess is the public view of the running relay watcher.
type RelayProcess struct {
	Mode            string    `json:"mode"`
	SessionName     string    `json:"sessionName"`
	Project         string    `json:"project"`
	UseLast         bool      `json:"useLast"`
	DryRun          bool      `json:"dryRun"`
	StartFromLatest bool      `json:"startFromLatest"`
	PollMs          int       `json:"pollMs"`
	History         int       `json:"history"`
	PID             int       `json:"pid"`
	StartedAt       time.Time `json:"startedAt"`
}

const (
	DevModeSingle = "single"
	DevModeAll    = "all"

	DefaultRelaySession = "codex-chat"
	DefaultRelayPollMs  = 1200
	DefaultRelayHistory = 16

	relayScript = "remote:relay:codex:watch"
)

// RelayOptions are the parameters of a relay watcher. Zero PollMs and
// History take their defaults; out-of-range values are clamped.
type RelayOptions struct {
	SessionName     string
	Project         string
	UseLast         bool
	DryRun          bool
	StartFromLatest bool
	PollMs          int
	History         int
}

// Normalize applies defaults and clamps in place.
func (o *RelayOptions) Normalize() {
	if o.SessionName == "" {
		o.SessionName = DefaultRelaySession
	}
	o.PollMs = clampOr(o.PollMs, 400, 60000, DefaultRelayPollMs)
	o.History = clampOr(o.History, 2, 120, DefaultRelayHistory)
}

// Validate checks the identifiers passed to the relay script.
func (o RelayOptions) Validate() error {
	if err := command.ValidateSessionName(o.SessionName); err != nil {
		return errors.InvalidInput("Invalid session name.")
	}
	if o.Project != "" {
		if err := command.ValidateProjectRef(o.Project); err != nil {
			return errors.InvalidInput("Invalid project value.")
		}
	}
	return nil
}

func clampOr(v, lo, hi, fallback int) int {
	if v == 0 {
		return fallback
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Dev returns the running dev server, or nil.
func (s *Supervisor) Dev() *DevProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil
	}
	info := s.dev.info
	return &info
}

// Relay returns the running relay watcher, or nil.
func (s *Supervisor) Relay() *RelayProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.relay == nil {
		return nil
	}
	info := s.relay.info
	return &info
}

// StartDev launches the dev server. It fails without touching the running
// process when one is already active.
func (s *Supervisor) StartDev(mode, project string, port int) (*DevProcess, error) {
	if mode != DevModeSingle && mode != DevModeAll {
		return nil, errors.InvalidInput("Mode must be 'single' or 'all'.")
	}
	if project != "" {
		if err := command.ValidateProjectRef(project); err != nil {
			return nil, errors.InvalidInput("Invalid project value")
		}
	}
	if err := command.ValidatePort(port); err != nil {
		return nil, errors.InvalidInput("%s", err.Error())
	}

	script := "dev"
	if mode == DevModeAll {
		script = "dev:all"
	}
	var args []string
	if mode == DevModeSingle && project != "" {
		args = append(args, "--project="+project)
	}
	if port != 0 {
		args = append(args, "--port="+strconv.Itoa(port))
	}

	s.mu.Lock()
	if s.dev != nil {
		pid := s.dev.info.PID
		s.mu.Unlock()
		return nil, errors.AlreadyRunning("A dev process", pid)
	}

	source := "dev:" + mode
	h, err := process.Start(s.builder.Script(script, args...), s.lineLogger(source))
	if err != nil {
		s.mu.Unlock()
		s.Log("system", fmt.Sprintf("Dev process error: %v", err))
		return nil, spawnError(script, err)
	}
	s.dev = &slot[DevProcess]{
		info: DevProcess{
			Mode:      mode,
			Project:   project,
			Port:      port,
			PID:       h.PID,
			StartedAt: h.StartedAt.UTC(),
		},
		handle: h,
	}
	info := s.dev.info
	s.mu.Unlock()

	s.metrics.ProcessStarted("dev")
	s.Log("system", fmt.Sprintf("Started dev process (%s) pid=%d", mode, h.PID))
	s.NotifyState()

	go s.watch("Dev process", "dev", h, func() {
		if s.dev != nil && s.dev.info.PID == h.PID {
			s.dev = nil
		}
	})
	return &info, nil
}

// StopDev signals the dev server's process tree. The slot is cleared when
// the exit is observed. It reports whether a process was running.
func (s *Supervisor) StopDev() bool {
	s.mu.Lock()
	active := s.dev
	s.mu.Unlock()
	if active == nil {
		return false
	}
	s.Log("system", fmt.Sprintf("Stopping dev process pid=%d", active.info.PID))
	if err := active.handle.KillTree(); err != nil {
		s.logger.WithError(err).WithField("pid", active.info.PID).Warn("Failed to signal dev process")
	}
	return true
}

// StartRelay launches the relay watcher.
func (s *Supervisor) StartRelay(opts RelayOptions) (*RelayProcess, error) {
	opts.Normalize()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	args := []string{"--session-name=" + opts.SessionName}
	if opts.Project != "" {
		args = append(args, "--project="+opts.Project)
	}
	args = append(args,
		"--codex-use-last="+strconv.FormatBool(opts.UseLast),
		"--dry-run="+strconv.FormatBool(opts.DryRun),
		"--start-from-latest="+strconv.FormatBool(opts.StartFromLatest),
		"--poll-ms="+strconv.Itoa(opts.PollMs),
		"--history="+strconv.Itoa(opts.History),
	)

	s.mu.Lock()
	if s.relay != nil {
		pid := s.relay.info.PID
		s.mu.Unlock()
		return nil, errors.AlreadyRunning("Relay watcher", pid)
	}

	h, err := process.Start(s.builder.Script(relayScript, args...), s.lineLogger("relay:codex"))
	if err != nil {
		s.mu.Unlock()
		s.Log("system", fmt.Sprintf("Relay watcher error: %v", err))
		return nil, spawnError(relayScript, err)
	}
	s.relay = &slot[RelayProcess]{
		info: RelayProcess{
			Mode:            "watch",
			SessionName:     opts.SessionName,
			Project:         opts.Project,
			UseLast:         opts.UseLast,
			DryRun:          opts.DryRun,
			StartFromLatest: opts.StartFromLatest,
			PollMs:          opts.PollMs,
			History:         opts.History,
			PID:             h.PID,
			StartedAt:       h.StartedAt.UTC(),
		},
		handle: h,
	}
	info := s.relay.info
	s.mu.Unlock()

	s.metrics.ProcessStarted("relay")
	msg := fmt.Sprintf("Started relay watcher pid=%d session=%s", h.PID, opts.SessionName)
	if opts.Project != "" {
		msg += " project=" + opts.Project
	}
	if opts.DryRun {
		msg += " dry-run=true"
	}
	s.Log("system", msg)
	s.NotifyState()

	go s.watch("Relay watcher", "relay", h, func() {
		if s.relay != nil && s.relay.info.PID == h.PID {
			s.relay = nil
		}
	})
	return &info, nil
}

// StopRelay signals the relay watcher's process tree.
func (s *Supervisor) StopRelay() bool {
	s.mu.Lock()
	active := s.relay
	s.mu.Unlock()
	if active == nil {
		return false
	}
	s.Log("system", fmt.Sprintf("Stopping relay watcher pid=%d", active.info.PID))
	if err := active.handle.KillTree(); err != nil {
		s.logger.WithError(err).WithField("pid", active.info.PID).Warn("Failed to signal relay watcher")
	}
	return true
}

// watch waits for a slot process to exit, then clears the slot if it still
// belongs to that process. clear runs under s.mu.
func (s *Supervisor) watch(label, kind string, h *process.Handle, clear func()) {
	<-h.Done()
	res := h.Result()

	s.mu.Lock()
	clear()
	s.mu.Unlock()

	s.metrics.ProcessExited(kind, res.ExitCode)
	if res.Err != nil {
		s.Log("system", fmt.Sprintf("%s error: %v", label, res.Err))
	}
	s.Log("system", fmt.Sprintf("%s exited (pid=%d, exit=%d)", label, h.PID, res.ExitCode))
	s.NotifyState()
}

func (s *Supervisor) lineLogger(source string) process.LineFunc {
	return func(_ process.Stream, line string) {
		s.Log(source, line)
	}
}
