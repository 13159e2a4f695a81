package tunnel

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
	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/internal/metrics"
	"github.com/grovetools/remote-panel/logging"
	"github.com/grovetools/remote-panel/pkg/process"
	"github.com/sirupsen/logrus"
)

// Phase is the discovery state of the tunnel slot.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseStarting   Phase = "starting"
	PhaseDiscovered Phase = "discovered"
	PhaseFailed     Phase = "failed"
)

// State is the public view of a running tunnel. URL is empty when a token
// or named tunnel started without printing one and no public host hint is
// configured.
type State struct {
	Provider  string    `json:"provider"`
	Mode      string    `json:"mode"`
	URL       string    `json:"url"`
	TargetURL string    `json:"targetUrl"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

// Sink receives the tunnel's log lines and state-change notices. The
// process supervisor implements it.
type Sink interface {
	Log(source, message string)
	NotifyState()
}

// Options configures a Manager.
type Options struct {
	// Bin is the configured cloudflared path; empty resolves it.
	Bin string
	// PanelPort is used for the default target and the public host hint.
	PanelPort int
	Executor  command.Executor
	Runtime   *config.RuntimeStore
	Sink      Sink
	Metrics   *metrics.Metrics
}

// StartOptions are the per-start parameters.
type StartOptions struct {
	Provider   string
	Mode       string
	TargetURL  string
	Token      string
	TunnelName string
	ConfigFile string
	Timeout    time.Duration
}

// Manager owns the single tunnel slot.
type Manager struct {
	opts   Options
	logger *logrus.Entry

	mu     sync.Mutex
	phase  Phase
	state  *State
	handle *process.Handle
}

// NewManager creates an idle Manager.
func NewManager(opts Options) *Manager {
	if opts.Executor == nil {
		opts.Executor = &command.RealExecutor{}
	}
	return &Manager{
		opts:   opts,
		logger: logging.NewLogger("tunnel"),
		phase:  PhaseIdle,
	}
}

// Active returns the running tunnel, or nil.
func (m *Manager) Active() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil
	}
	s := *m.state
	return &s
}

// Phase returns the current discovery phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Manager) log(message string) {
	if m.opts.Sink != nil {
		m.opts.Sink.Log("system", message)
	}
}

func (m *Manager) notify() {
	if m.opts.Sink != nil {
		m.opts.Sink.NotifyState()
	}
}

// Start launches the tunnel and waits for discovery. In quick mode it
// resolves on the first public URL and fails on timeout or early exit. In
// token and named modes the binary may never print a URL, so it resolves
// once the process has survived the startup grace period, using the
// configured public host as the URL when none was seen.
func (m *Manager) Start(ctx context.Context, o StartOptions) (*State, error) {
	provider := strings.ToLower(strings.TrimSpace(o.Provider))
	if provider == "" {
		provider = config.DefaultTunnelProvider
	}
	if provider != config.DefaultTunnelProvider {
		return nil, errors.InvalidInput("Unsupported tunnel provider. Only 'cloudflared' is currently supported.")
	}
	mode := config.ParseTunnelMode(o.Mode, "")
	if mode == "" {
		return nil, errors.InvalidInput("Tunnel mode must be one of: quick, token, named.")
	}
	target, err := ParseTargetURL(o.TargetURL, m.opts.PanelPort)
	if err != nil {
		return nil, err
	}
	args, err := BuildArgs(mode, target, o.Token, o.TunnelName, o.ConfigFile)
	if err != nil {
		return nil, err
	}
	timeout := ClampTimeout(o.Timeout)
	hint := ""
	if m.opts.Runtime != nil {
		hint = config.BuildPublicURL(m.opts.Runtime.Get().PublicHost, "https", m.opts.PanelPort)
	}

	m.mu.Lock()
	if m.state != nil || m.phase == PhaseStarting {
		pid := 0
		if m.state != nil {
			pid = m.state.PID
		}
		m.mu.Unlock()
		return nil, errors.AlreadyRunning("Tunnel", pid)
	}
	m.phase = PhaseStarting
	m.mu.Unlock()

	bin := ResolveBin(m.opts.Bin)
	found := make(chan string, 1)
	h, err := process.Start(m.opts.Executor.Command(bin, args...), func(stream process.Stream, line string) {
		if m.opts.Sink != nil {
			m.opts.Sink.Log("tunnel:cloudflared", "["+string(stream)+"] "+line)
		}
		if u := ExtractURL(line); u != "" {
			select {
			case found <- u:
			default:
			}
		}
	})
	if err != nil {
		m.setPhase(PhaseFailed)
		if stderrors.Is(err, exec.ErrNotFound) || stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrap(err, errors.ErrCodeCommandNotFound,
				"cloudflared is not installed or not found on PATH. Set REMOTE_PANEL_CLOUDFLARED_BIN if needed.")
		}
		return nil, errors.Wrap(err, errors.ErrCodeCommandFailed, "Tunnel launch failed: "+err.Error())
	}
	m.opts.Metrics.ProcessStarted("tunnel")
	m.log(fmt.Sprintf("Starting external tunnel (%s): %s %s", mode, bin, strings.Join(RedactArgs(args), " ")))

	discovered, err := m.discover(ctx, h, mode, timeout, hint, found)
	if err != nil {
		_ = h.KillTree()
		m.setPhase(PhaseFailed)
		m.logger.WithError(err).WithField("mode", mode).Warn("Tunnel discovery failed")
		return nil, err
	}

	st := &State{
		Provider:  provider,
		Mode:      mode,
		URL:       discovered,
		TargetURL: target,
		PID:       h.PID,
		StartedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.state = st
	m.handle = h
	m.phase = PhaseDiscovered
	m.mu.Unlock()

	m.persist(func(rc *config.RuntimeConfig) {
		rc.SecurityMode = config.SecurityOn
		rc.TunnelMode = mode
		if discovered != "" {
			rc.PublicHost = discovered
		}
	})
	m.notify()

	go m.watch(h, mode, discovered)

	if discovered != "" {
		m.log(fmt.Sprintf("External tunnel live (%s): %s", mode, discovered))
	} else {
		m.log(fmt.Sprintf("External tunnel running (%s) without detected URL. Set REMOTE_PANEL_PUBLIC_HOST for a clickable mobile URL.", mode))
	}
	out := *st
	return &out, nil
}

func (m *Manager) discover(ctx context.Context, h *process.Handle, mode string, timeout time.Duration, hint string, found <-chan string) (string, error) {
	quick := mode == config.TunnelQuick
	wait := timeout
	if !quick {
		wait = StartupGrace(timeout)
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case u := <-found:
		return u, nil
	case <-h.Done():
		// Done closes only after output is drained (bounded by
		// process.DrainDelay), so a URL printed just before exit is buffered.
		select {
		case u := <-found:
			return u, nil
		default:
		}
		res := h.Result()
		if !quick && res.ExitCode == 0 && hint != "" {
			return hint, nil
		}
		switch {
		case !quick:
			return "", errors.TunnelDiscovery(fmt.Sprintf("Tunnel exited (exit %d) before startup completed.", res.ExitCode))
		case res.ExitCode == 0:
			return "", errors.TunnelDiscovery("Tunnel exited before URL discovery.")
		default:
			return "", errors.TunnelDiscovery(fmt.Sprintf("Tunnel exited (exit %d) before URL discovery.", res.ExitCode))
		}
	case <-timer.C:
		if quick {
			return "", errors.TunnelDiscovery(fmt.Sprintf("Tunnel URL discovery timed out after %dms.", timeout.Milliseconds()))
		}
		// Still alive after the grace period counts as started, even though
		// the tunnel may never have become reachable. Connection help then
		// asks for an explicit public host.
		return hint, nil
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), errors.ErrCodeTunnelDiscovery, "Tunnel start cancelled.")
	}
}

// watch clears the slot when the tunnel exits. In quick mode the public
// host is cleared only if it is still the URL this run produced.
func (m *Manager) watch(h *process.Handle, mode, discovered string) {
	<-h.Done()
	res := h.Result()
	m.opts.Metrics.ProcessExited("tunnel", res.ExitCode)
	if res.Err != nil {
		m.log(fmt.Sprintf("Tunnel error: %v", res.Err))
	}
	m.log(fmt.Sprintf("Tunnel exited (pid=%d, exit=%d)", h.PID, res.ExitCode))

	m.mu.Lock()
	owned := m.state != nil && m.state.PID == h.PID
	if owned {
		m.state = nil
		m.handle = nil
		m.phase = PhaseIdle
	}
	m.mu.Unlock()

	if owned {
		m.persist(func(rc *config.RuntimeConfig) {
			if mode == config.TunnelQuick && discovered != "" && rc.PublicHost == discovered {
				rc.PublicHost = ""
			}
		})
	}
	m.notify()
}

// Stop signals the tunnel's process tree. The slot is cleared when the exit
// is observed.
func (m *Manager) Stop() bool {
	m.mu.Lock()
	h := m.handle
	var pid int
	if m.state != nil {
		pid = m.state.PID
	}
	m.mu.Unlock()
	if h == nil {
		return false
	}
	m.log(fmt.Sprintf("Stopping tunnel pid=%d", pid))
	if err := h.KillTree(); err != nil {
		m.logger.WithError(err).WithField("pid", pid).Warn("Failed to signal tunnel")
	}
	return true
}

func (m *Manager) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}

func (m *Manager) persist(fn func(rc *config.RuntimeConfig)) {
	if m.opts.Runtime == nil {
		return
	}
	if _, err := m.opts.Runtime.Update(fn); err != nil {
		m.logger.WithError(err).Warn("Failed to persist runtime config")
	}
}
