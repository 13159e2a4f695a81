// Package workspace reads what other tools leave in the served workspace:
// the project folders, dev-server manifests and prepared chat sessions.
// Everything here is read-only and tolerant of missing or malformed files.
package workspace

import (
	"encoding/json"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/grovetools/remote-panel/command"
	"github.com/grovetools/remote-panel/pkg/paths"
	"github.com/sirupsen/logrus"
)

// DiscoveryService scans the workspace for panel-visible entities.
type DiscoveryService struct {
	ws     paths.Workspace
	logger *logrus.Entry
}

// NewDiscoveryService creates a new discovery service.
func NewDiscoveryService(ws paths.Workspace, logger *logrus.Entry) *DiscoveryService {
	return &DiscoveryService{ws: ws, logger: logger}
}

var (
	slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)
	slugDashes = regexp.MustCompile(`-{2,}`)
)

// Slugify lowercases value and collapses everything else to single dashes.
func Slugify(value string) string {
	s := slugUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "-")
	s = slugDashes.ReplaceAllString(strings.Trim(s, "-"), "-")
	if s == "" {
		return "project"
	}
	return s
}

// readJSON decodes path into a generic map; any failure yields nil.
func readJSON(p string) map[string]interface{} {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func stringAt(m map[string]interface{}, keys ...string) string {
	var cur interface{} = m
	for _, k := range keys {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = obj[k]
	}
	s, _ := cur.(string)
	return s
}

// Projects lists the folders under projects/ with their build hints.
func (s *DiscoveryService) Projects() ProjectList {
	active := stringAt(readJSON(s.ws.AgencyConfigFile()), "activeProject")
	list := ProjectList{ActiveProject: active, Projects: []Project{}}

	entries, err := os.ReadDir(s.ws.ProjectsDir())
	if err != nil {
		return list
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		configPath := filepath.Join(s.ws.ProjectsDir(), name, "project.config.json")
		cfg := readJSON(configPath)
		_, statErr := os.Stat(configPath)

		engine := stringAt(cfg, "scripts", "engine")
		if engine == "" {
			engine = stringAt(cfg, "build", "scripts", "engine")
		}
		if engine == "" {
			engine = "default"
		}

		slug := Slugify(name)
		list.Projects = append(list.Projects, Project{
			Name:      name,
			Slug:      slug,
			DistDir:   path.Join("dist", "projects", slug),
			HasConfig: statErr == nil,
			JSEngine:  engine,
		})
	}
	sort.Slice(list.Projects, func(i, j int) bool { return list.Projects[i].Name < list.Projects[j].Name })
	return list
}

// Manifests lists dev-server manifests, newest first. Files whose name is
// not a safe manifest id, or that are not JSON objects, are skipped.
func (s *DiscoveryService) Manifests() []Manifest {
	out := []Manifest{}
	entries, err := os.ReadDir(s.ws.ManifestDir())
	if err != nil {
		return out
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		if command.ValidateManifestID(id) != nil {
			continue
		}
		raw := readJSON(filepath.Join(s.ws.ManifestDir(), entry.Name()))
		if raw == nil {
			s.logger.WithField("file", entry.Name()).Debug("Skipping unreadable manifest")
			continue
		}
		out = append(out, manifestFrom(id, raw))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return manifestTime(out[i]) > manifestTime(out[j])
	})
	return out
}

// Manifest reads the manifest named id, or returns nil when id is unsafe or
// the file is missing or malformed.
func (s *DiscoveryService) Manifest(id string) *Manifest {
	if command.ValidateManifestID(id) != nil {
		return nil
	}
	raw := readJSON(filepath.Join(s.ws.ManifestDir(), id+".json"))
	if raw == nil {
		return nil
	}
	m := manifestFrom(id, raw)
	return &m
}

func manifestFrom(id string, raw map[string]interface{}) Manifest {
	if v := stringAt(raw, "id"); v != "" {
		id = v
	}
	m := Manifest{
		ID:         id,
		Mode:       stringAt(raw, "mode"),
		Host:       stringAt(raw, "host"),
		PreviewURL: "/preview/" + url.PathEscape(id) + "/",
	}
	if m.Mode == "" {
		m.Mode = "unknown"
	}
	if m.Host == "" {
		m.Host = "127.0.0.1"
	}
	if v := stringAt(raw, "project"); v != "" {
		m.Project = &v
	}
	if v := stringAt(raw, "url"); v != "" {
		m.URL = &v
	}
	if v := stringAt(raw, "generatedAt"); v != "" {
		m.GeneratedAt = &v
	}
	if f, ok := raw["port"].(float64); ok && f != 0 {
		port := int(f)
		m.Port = &port
	}
	return m
}

func manifestTime(m Manifest) int64 {
	if m.GeneratedAt == nil {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, *m.GeneratedAt)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// LatestPreparedSession returns the newest chat session folder by name, or
// nil when the prep pipeline has not produced one.
func (s *DiscoveryService) LatestPreparedSession() *PreparedSession {
	dir := s.ws.ChatSessionsDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	if len(dirs) == 0 {
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))

	folder := filepath.Join(dir, dirs[0])
	sessionJSON := filepath.Join(folder, "session.json")
	return &PreparedSession{
		FolderName:      dirs[0],
		FolderPath:      s.ws.Rel(folder),
		SessionJSONPath: s.ws.Rel(sessionJSON),
		BriefingPath:    s.ws.Rel(filepath.Join(folder, "briefing.md")),
		SessionJSON:     readJSON(sessionJSON),
	}
}
