// Package server exposes the panel runtime over HTTP: the JSON API, the
// server-sent event stream, the chat WebSocket and the dev preview proxy.
package server

import (
	"context"
	"time"

	"github.com/grovetools/remote-panel/command"
	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/internal/activity"
	"github.com/grovetools/remote-panel/internal/broadcast"
	"github.com/grovetools/remote-panel/internal/codex"
	"github.com/grovetools/remote-panel/internal/mailbox"
	"github.com/grovetools/remote-panel/internal/metrics"
	"github.com/grovetools/remote-panel/internal/security"
	"github.com/grovetools/remote-panel/internal/session"
	"github.com/grovetools/remote-panel/internal/supervisor"
	"github.com/grovetools/remote-panel/internal/tunnel"
	"github.com/grovetools/remote-panel/logging"
	"github.com/grovetools/remote-panel/pkg/paths"
	"github.com/grovetools/remote-panel/pkg/workspace"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Options configures NewRuntime.
type Options struct {
	Settings  *config.Settings
	Workspace paths.Workspace
	// Executor creates every child process. Nil runs real binaries in the
	// workspace root.
	Executor command.Executor
	// ChatPollInterval overrides broadcast.PollInterval.
	ChatPollInterval time.Duration
}

// Runtime holds every piece of live panel state. Handlers reach state only
// through it.
type Runtime struct {
	Settings  *config.Settings
	Workspace paths.Workspace
	Config    *config.RuntimeStore

	Gate     *security.Gate
	Limiter  *security.LoginLimiter
	Sessions *session.Store

	Supervisor *supervisor.Supervisor
	Tunnel     *tunnel.Manager
	Bridge     *mailbox.Bridge
	Codex      *codex.Service
	Discovery  *workspace.DiscoveryService

	Hub     *broadcast.Hub
	Chat    *broadcast.Chat
	Metrics *metrics.Metrics

	pollInterval time.Duration
	logger       *logrus.Entry
}

// PanelState is the process summary pushed on every state change.
type PanelState struct {
	Time           string                   `json:"time"`
	CommandRunning bool                     `json:"commandRunning"`
	ActiveDev      *supervisor.DevProcess   `json:"activeDev"`
	ActiveRelay    *supervisor.RelayProcess `json:"activeRelay"`
	ActiveTunnel   *tunnel.State            `json:"activeTunnel"`
}

func runnerFrom(argv []string) command.Runner {
	if len(argv) == 0 {
		return command.DefaultRunner()
	}
	return command.Runner{Command: argv[0], Args: append([]string(nil), argv[1:]...)}
}

// NewRuntime wires the panel components together. Persisted sessions are
// restored; nothing is started until Run.
func NewRuntime(opts Options) (*Runtime, error) {
	s := opts.Settings
	ws := opts.Workspace
	logger := logging.NewLogger("panel")

	exec := opts.Executor
	if exec == nil {
		exec = &command.RealExecutor{Dir: ws.Root}
	}

	rt := &Runtime{
		Settings:     s,
		Workspace:    ws,
		Config:       config.NewRuntimeStore(s.RuntimeConfigFile, s.RuntimeSnapshot()),
		Limiter:      security.NewLoginLimiter(security.DefaultMaxLoginAttempts, security.DefaultLoginWindow),
		Metrics:      metrics.New(),
		Discovery:    workspace.NewDiscoveryService(ws, logging.NewLogger("workspace")),
		pollInterval: opts.ChatPollInterval,
		logger:       logger,
	}

	gate, err := security.NewGate(s.Allowlist, rt.Config)
	if err != nil {
		return nil, err
	}
	rt.Gate = gate

	storeFile := ""
	if s.ShouldPersistSessions() {
		storeFile = s.SessionStoreFile
	}
	rt.Sessions = session.NewStore(session.Options{
		Secret: s.SessionSecret,
		File:   storeFile,
		BindIP: s.ShouldBindSessionIP(),
	})
	if n, err := rt.Sessions.Load(); err != nil {
		logger.WithError(err).Warn("Failed to restore persisted sessions")
	} else if n > 0 {
		logger.WithField("sessions", n).Info("Restored persisted sessions")
	}
	rt.Metrics.SetSessions(rt.Sessions.Len())

	rt.Supervisor = supervisor.New(supervisor.Options{
		Builder: command.NewSafeBuilderWithExecutor(exec, runnerFrom(s.Runner)),
		Metrics: rt.Metrics,
	})
	rt.Tunnel = tunnel.NewManager(tunnel.Options{
		Bin:       s.Cloudflared.Bin,
		PanelPort: s.Port,
		Executor:  exec,
		Runtime:   rt.Config,
		Sink:      rt.Supervisor,
		Metrics:   rt.Metrics,
	})

	activityLog := activity.NewLog(ws.ActivityLogFile())
	rt.Bridge = mailbox.NewBridge(
		mailbox.New(ws),
		activityLog,
		activity.NewStatusStore(ws.AgentStatusFile()),
		rt.Supervisor,
	)

	registry, err := codex.NewStore(ws.CodexRegistryFile())
	if err != nil {
		return nil, err
	}
	rt.Codex = codex.NewService(registry, rt.Supervisor, activityLog, rt.Discovery, s.AgentCLI)

	rt.Hub = broadcast.NewHub(func() interface{} { return rt.State() }, rt.Metrics)
	rt.Supervisor.SetListener(rt.Hub)
	rt.Chat = broadcast.NewChat(rt.Bridge, rt.Supervisor, rt.Metrics)
	rt.Bridge.SetNotifier(rt.Chat)

	return rt, nil
}

// State returns the current process summary.
func (rt *Runtime) State() PanelState {
	return PanelState{
		Time:           activity.Timestamp(time.Now()),
		CommandRunning: rt.Supervisor.CommandRunning(),
		ActiveDev:      rt.Supervisor.Dev(),
		ActiveRelay:    rt.Supervisor.Relay(),
		ActiveTunnel:   rt.Tunnel.Active(),
	}
}

// Run drives the background loops until ctx is done: the session sweep,
// the chat poller, the mailbox watcher and the activity follower.
func (rt *Runtime) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.Sessions.Run(ctx, session.DefaultSweepInterval)
		return nil
	})
	g.Go(func() error {
		rt.Chat.Poll(ctx, rt.pollInterval)
		return nil
	})
	g.Go(func() error {
		return broadcast.NewMailboxWatcher(rt.Chat, rt.Bridge.Mailbox, rt.Supervisor).Run(ctx)
	})
	g.Go(func() error {
		if err := broadcast.ConnectActivity(ctx, rt.Bridge.Activity, rt.Chat); err != nil && ctx.Err() == nil {
			// The panel still works without live activity forwarding.
			rt.logger.WithError(err).Warn("Activity follower stopped")
		}
		return nil
	})
	return g.Wait()
}

// Close stops child processes, disconnects clients and flushes sessions.
func (rt *Runtime) Close() {
	rt.Tunnel.Stop()
	rt.Supervisor.Shutdown()
	rt.Chat.Close()
	rt.Hub.Close()
	if err := rt.Sessions.Flush(); err != nil {
		rt.logger.WithError(err).Warn("Failed to persist sessions")
	}
}
