package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/internal/pidfile"
	"github.com/grovetools/remote-panel/internal/server"
	"github.com/grovetools/remote-panel/logging"
	"github.com/grovetools/remote-panel/pkg/profiling"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type startFlags struct {
	overrides   config.Overrides
	askPassword bool
}

// NewStartCmd creates the `start` command.
func NewStartCmd() *cobra.Command {
	var f startFlags
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the panel server in the foreground",
		Long: `Loads panel.yml (or panel.toml), the workspace .env file and the
REMOTE_PANEL_* environment, then serves the panel until interrupted.
Flags override every other source. Only one panel may serve a workspace
at a time.

Examples:
  remote-panel start
  remote-panel start --port 9000 --public-host phone.example.net
  remote-panel start --tunnel-mode token --tunnel-token "$TOKEN"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, f)
		},
	}

	o := &f.overrides
	cmd.Flags().StringVar(&o.Host, "host", "", "Address to bind (default: 127.0.0.1)")
	cmd.Flags().IntVarP(&o.Port, "port", "p", 0, "Port to listen on (default: 8787)")
	cmd.Flags().StringVar(&o.SecurityMode, "security-mode", "", "Security mode: on, off or auto")
	cmd.Flags().StringVar(&o.PublicHost, "public-host", "", "Host or URL phones should use to reach the panel")
	cmd.Flags().StringVar(&o.TunnelProvider, "tunnel-provider", "", "Tunnel provider (only cloudflared)")
	cmd.Flags().StringVar(&o.TunnelMode, "tunnel-mode", "", "Default tunnel mode: quick, token or named")
	cmd.Flags().StringVar(&o.CloudflaredBin, "cloudflared-bin", "", "Path to the cloudflared binary")
	cmd.Flags().StringVar(&o.TunnelToken, "tunnel-token", "", "Cloudflare tunnel token for token mode")
	cmd.Flags().StringVar(&o.TunnelName, "tunnel-name", "", "Cloudflare tunnel name for named mode")
	cmd.Flags().StringVar(&o.TunnelConfig, "tunnel-config", "", "cloudflared config file for named mode")
	cmd.Flags().BoolVar(&f.askPassword, "ask-password", false, "Prompt for the panel password instead of reading it from config")
	return cmd
}

// readPassword prompts on the controlling terminal without echo.
func readPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.InvalidInput("--ask-password needs an interactive terminal")
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Panel password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(pw)) == "" {
		return "", errors.InvalidInput("password cannot be empty")
	}
	return string(pw), nil
}

func runStart(cmd *cobra.Command, f startFlags) error {
	var password string
	if f.askPassword {
		pw, err := readPassword(cmd)
		if err != nil {
			return err
		}
		password = pw
	}

	timer := profiling.FromContext(cmd.Context())

	phase := timer.Start("load settings")
	s, ws, err := loadSettings(cmd, f.overrides)
	phase.Stop()
	if err != nil {
		return err
	}
	if password != "" {
		s.Password = password
		s.PasswordGenerated = false
	}
	logger := logging.NewLogger("remote-panel")

	if err := pidfile.Acquire(ws.PidFile()); err != nil {
		return err
	}
	defer func() {
		if err := pidfile.Release(ws.PidFile()); err != nil {
			logger.WithError(err).Warn("Failed to remove pid file")
		}
	}()

	phase = timer.Start("build runtime")
	rt, err := server.NewRuntime(server.Options{Settings: s, Workspace: ws})
	phase.Stop()
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	phase = timer.Start("listen")
	ln, err := net.Listen("tcp", addr)
	phase.Stop()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, fmt.Sprintf("cannot listen on %s", addr)).
			WithDetail("addr", addr)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := rt.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("Background loop failed")
		}
	}()

	writeBanner(cmd.ErrOrStderr(), s, ws, ln.Addr().String())
	rt.Supervisor.Log("system", fmt.Sprintf("Remote panel ready at http://%s", addr))

	if err := server.New(rt).Serve(ctx, ln); err != nil {
		return err
	}
	rt.Supervisor.Log("system", "Shutting down remote panel...")
	return nil
}

// commandContext returns cmd's context, or Background when cobra was
// executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
