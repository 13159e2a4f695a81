package server

import (
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/internal/activity"
	"github.com/grovetools/remote-panel/internal/tunnel"
)

// ConnectionHelp tells the operator how to reach the panel from a phone.
type ConnectionHelp struct {
	Panel    PanelInfo    `json:"panel"`
	Security SecurityInfo `json:"security"`
	Tunnel   TunnelInfo   `json:"tunnel"`
	URLs     URLSet       `json:"urls"`
	Guidance Guidance     `json:"guidance"`
	LanIPs   []string     `json:"lanIps"`
}

type PanelInfo struct {
	Host              string   `json:"host"`
	Port              int      `json:"port"`
	RequireHTTPS      bool     `json:"requireHttps"`
	SecurityMode      string   `json:"securityMode"`
	PublicHost        string   `json:"publicHost"`
	TunnelMode        string   `json:"tunnelMode"`
	TunnelProvider    string   `json:"tunnelProvider"`
	BindSessionIP     bool     `json:"bindSessionIp"`
	Allowlist         []string `json:"allowlist"`
	PersistSessions   bool     `json:"persistSessions"`
	SessionStoreFile  string   `json:"sessionStoreFile"`
	RuntimeConfigFile string   `json:"runtimeConfigFile"`
}

type SecurityInfo struct {
	Mode  string `json:"mode"`
	Label string `json:"label"`
}

type TunnelInfo struct {
	Active         bool   `json:"active"`
	Provider       string `json:"provider"`
	Mode           string `json:"mode"`
	ConfiguredMode string `json:"configuredMode"`
	HasTokenConfig bool   `json:"hasTokenConfig"`
	HasNamedConfig bool   `json:"hasNamedConfig"`
	HasConfigFile  bool   `json:"hasConfigFile"`
	URL            string `json:"url"`
	PID            int    `json:"pid"`
	StartedAt      string `json:"startedAt"`
}

type URLSet struct {
	Local     string   `json:"local"`
	Bind      string   `json:"bind"`
	DirectLan []string `json:"directLan"`
	Public    string   `json:"public"`
}

type Guidance struct {
	CanDirectLan         bool   `json:"canDirectLan"`
	RecommendedMobileURL string `json:"recommendedMobileUrl"`
	Action               string `json:"action"`
}

// SecurityModeLabel describes a configured security mode.
func SecurityModeLabel(mode string) string {
	switch mode {
	case config.SecurityOn:
		return "HTTPS required"
	case config.SecurityAuto:
		return "Adaptive: HTTPS for public clients"
	default:
		return "HTTP allowed (local/LAN)"
	}
}

func securityPolicyName(mode string) string {
	switch mode {
	case config.SecurityOn:
		return "https_required"
	case config.SecurityAuto:
		return "adaptive_https_for_public"
	default:
		return "http_allowed"
	}
}

// LanIPv4Addresses lists the machine's non-loopback, non-link-local IPv4
// addresses, sorted.
func LanIPv4Addresses() []string {
	seen := map[string]bool{}
	out := []string{}
	ifaces, err := net.Interfaces()
	if err != nil {
		return out
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
				continue
			}
			if s := ip4.String(); !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (rt *Runtime) connectionHelp() ConnectionHelp {
	s := rt.Settings
	live := rt.Config.Get()
	mode := live.SecurityMode
	lanIPs := LanIPv4Addresses()
	port := strconv.Itoa(s.Port)

	protocol := "http"
	if mode == config.SecurityOn {
		protocol = "https"
	}
	canDirectLan := s.Host == "0.0.0.0" && mode != config.SecurityOn
	directLan := []string{}
	if canDirectLan {
		for _, ip := range lanIPs {
			directLan = append(directLan, protocol+"://"+ip+":"+port)
		}
	}
	publicURL := config.BuildPublicURL(live.PublicHost, protocol, s.Port)

	active := rt.Tunnel.Active()
	tunnelURL := ""
	if active != nil {
		tunnelURL = strings.TrimSpace(active.URL)
	}

	var action string
	switch {
	case tunnelURL != "":
		action = "External tunnel is live at " + tunnelURL + ". Use this URL outside your home network."
	case active != nil && active.Mode != config.TunnelQuick:
		action = "Account tunnel is running but no public URL was detected. Set REMOTE_PANEL_PUBLIC_HOST to your tunnel hostname for a clickable link."
	case mode == config.SecurityOn:
		action = "Use an HTTPS tunnel URL for phone access. Direct LAN HTTP requests are blocked."
	case s.Host != "0.0.0.0":
		action = "Restart with --host 0.0.0.0 to allow phone access on your network."
	case mode == config.SecurityAuto:
		action = "Adaptive security is enabled: local/LAN clients can use HTTP, while public clients must use HTTPS via tunnel/proxy."
	default:
		action = "Open one of the LAN URLs from your phone while connected to the same Wi-Fi."
	}
	if publicURL != "" {
		action = "Use " + publicURL + " from your phone. " + action
	}

	recommended := tunnelURL
	if recommended == "" {
		recommended = publicURL
	}
	if recommended == "" && len(directLan) > 0 {
		recommended = directLan[0]
	}

	allowlist := rt.Gate.Allowlist()
	if allowlist == nil {
		allowlist = []string{}
	}

	return ConnectionHelp{
		Panel: PanelInfo{
			Host:              s.Host,
			Port:              s.Port,
			RequireHTTPS:      mode == config.SecurityOn,
			SecurityMode:      mode,
			PublicHost:        live.PublicHost,
			TunnelMode:        live.TunnelMode,
			TunnelProvider:    s.TunnelProvider,
			BindSessionIP:     s.ShouldBindSessionIP(),
			Allowlist:         allowlist,
			PersistSessions:   s.ShouldPersistSessions(),
			SessionStoreFile:  rt.Workspace.Rel(s.SessionStoreFile),
			RuntimeConfigFile: rt.Workspace.Rel(s.RuntimeConfigFile),
		},
		Security: SecurityInfo{
			Mode:  securityPolicyName(mode),
			Label: SecurityModeLabel(mode),
		},
		Tunnel: tunnelInfo(active, s, live.TunnelMode, tunnelURL),
		URLs: URLSet{
			Local:     "http://127.0.0.1:" + port,
			Bind:      "http://" + s.Host + ":" + port,
			DirectLan: directLan,
			Public:    publicURL,
		},
		Guidance: Guidance{
			CanDirectLan:         canDirectLan,
			RecommendedMobileURL: recommended,
			Action:               action,
		},
		LanIPs: lanIPs,
	}
}

func tunnelInfo(active *tunnel.State, s *config.Settings, configured, url string) TunnelInfo {
	info := TunnelInfo{
		Active:         url != "",
		Provider:       s.TunnelProvider,
		Mode:           configured,
		ConfiguredMode: configured,
		HasTokenConfig: s.Cloudflared.Token != "",
		HasNamedConfig: s.Cloudflared.TunnelName != "",
		HasConfigFile:  s.Cloudflared.ConfigFile != "",
		URL:            url,
	}
	if active != nil {
		info.Provider = active.Provider
		info.Mode = active.Mode
		info.PID = active.PID
		info.StartedAt = activity.Timestamp(active.StartedAt)
	}
	return info
}
