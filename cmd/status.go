package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/grovetools/remote-panel/cli"
	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/internal/pidfile"
	"github.com/grovetools/remote-panel/logging"
	"github.com/grovetools/remote-panel/version"
	"github.com/spf13/cobra"
)

const healthTimeout = 2 * time.Second

// statusReport is what `status --json` prints.
type statusReport struct {
	Running bool                   `json:"running"`
	PID     int                    `json:"pid,omitempty"`
	URL     string                 `json:"url"`
	Health  map[string]interface{} `json:"health,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// healthURL is the loopback health endpoint for a panel bound to host.
func healthURL(host string, port int) string {
	switch host {
	case "0.0.0.0", "":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/api/health"
}

func fetchHealth(url string) (map[string]interface{}, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.GetInfo().UserAgent())
	client := &http.Client{Timeout: healthTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned %s", resp.Status)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

// NewStatusCmd creates the `status` command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a panel is serving this workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ws, err := loadSettings(cmd, config.Overrides{})
			if err != nil {
				return err
			}
			running, pid, err := pidfile.IsRunning(ws.PidFile())
			if err != nil {
				return err
			}

			report := statusReport{Running: running, PID: pid, URL: healthURL(s.Host, s.Port)}
			if running {
				if health, err := fetchHealth(report.URL); err != nil {
					report.Error = err.Error()
				} else {
					report.Health = health
				}
			}

			if cli.GetOptions(cmd).JSONOutput {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			printStatus(cmd, report)
			return nil
		},
	}
}

func printStatus(cmd *cobra.Command, r statusReport) {
	p := logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout())
	if !r.Running {
		p.InfoPretty("Panel is not running")
		return
	}
	p.Success(fmt.Sprintf("Panel is running (pid %d)", r.PID))
	if r.Error != "" {
		p.WarnPretty("Health check failed: " + r.Error)
		return
	}
	panel, _ := r.Health["panel"].(map[string]interface{})
	if mode, ok := panel["effectiveSecurityMode"].(string); ok {
		p.Field("Effective security", mode)
	}
	for _, key := range []string{"activeDev", "activeRelay", "activeTunnel"} {
		p.Field(key, describeActive(r.Health[key]))
	}
	if busy, ok := r.Health["commandRunning"].(bool); ok {
		p.Field("commandRunning", busy)
	}
}

// describeActive summarises one active-process entry of the health body.
func describeActive(v interface{}) string {
	m, ok := v.(map[string]interface{})
	if !ok {
		return "none"
	}
	if url, ok := m["url"].(string); ok && url != "" {
		return url
	}
	if pid, ok := m["pid"].(float64); ok {
		return fmt.Sprintf("pid %d", int(pid))
	}
	return "running"
}
