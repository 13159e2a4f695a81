// Package codex manages the agent session registry: named aliases for agent
// CLI threads, with a global default and per-project defaults the relay
// watcher resolves against.
package codex

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grovetools/remote-panel/command"
	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/internal/activity"
)

const (
	DefaultSessionName = "codex-chat"
	RegistryVersion    = 1
)

// Session is one registry entry. Target is what the agent CLI is told to
// resume: a thread id, or an alias it understands.
type Session struct {
	ID           string   `json:"id"`
	Name         string   `json:"name" jsonschema:"required"`
	Target       string   `json:"target"`
	ThreadID     string   `json:"threadId"`
	Source       string   `json:"source"`
	Notes        string   `json:"notes"`
	ProjectHints []string `json:"projectHints"`
	CreatedAt    string   `json:"createdAt"`
	UpdatedAt    string   `json:"updatedAt"`
	Retired      bool     `json:"retired"`
	RetiredAt    string   `json:"retiredAt"`
}

// Defaults maps the global and per-project default session names.
type Defaults struct {
	Global     string            `json:"global"`
	PerProject map[string]string `json:"perProject"`
}

// Registry is the codex-sessions.json document.
type Registry struct {
	Version   int       `json:"version" jsonschema:"required"`
	UpdatedAt string    `json:"updatedAt"`
	Sessions  []Session `json:"sessions" jsonschema:"required"`
	Defaults  Defaults  `json:"defaults"`
}

// Resolved is the outcome of default resolution.
type Resolved struct {
	Source  string  `json:"source"`
	Session Session `json:"session"`
	Name    string  `json:"name"`
	Target  string  `json:"target"`
}

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// NormalizeSessionName lowercases name and replaces unsupported characters
// with dashes. Names that are still invalid become fallback.
func NormalizeSessionName(name, fallback string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = unsafeNameChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 80 {
		s = s[:80]
	}
	if command.ValidateSessionName(s) == nil {
		return s
	}
	return fallback
}

func validProject(project string) bool {
	return project == "" || command.ValidateProjectRef(project) == nil
}

// DefaultRegistry holds only the default session alias.
func DefaultRegistry(now time.Time) *Registry {
	ts := activity.Timestamp(now)
	return &Registry{
		Version:   RegistryVersion,
		UpdatedAt: ts,
		Sessions: []Session{{
			ID:           uuid.NewString(),
			Name:         DefaultSessionName,
			Target:       DefaultSessionName,
			Source:       "bootstrap",
			Notes:        "Default session alias for relay automation.",
			ProjectHints: []string{},
			CreatedAt:    ts,
			UpdatedAt:    ts,
		}},
		Defaults: Defaults{Global: DefaultSessionName, PerProject: map[string]string{}},
	}
}

func normalizeSession(raw Session, now string) Session {
	name := raw.Name
	if name == "" {
		name = DefaultSessionName
	}
	name = NormalizeSessionName(name, DefaultSessionName)

	target := strings.TrimSpace(raw.Target)
	if target == "" {
		target = strings.TrimSpace(raw.ThreadID)
	}
	if target == "" || command.ValidateSessionTarget(target) != nil {
		target = name
	}

	hints := []string{}
	for _, h := range raw.ProjectHints {
		if h = strings.TrimSpace(h); h != "" && validProject(h) {
			hints = append(hints, h)
		}
	}

	s := Session{
		ID:           strings.TrimSpace(raw.ID),
		Name:         name,
		Target:       target,
		ThreadID:     strings.TrimSpace(raw.ThreadID),
		Source:       strings.TrimSpace(raw.Source),
		Notes:        strings.TrimSpace(raw.Notes),
		ProjectHints: hints,
		CreatedAt:    strings.TrimSpace(raw.CreatedAt),
		UpdatedAt:    strings.TrimSpace(raw.UpdatedAt),
		Retired:      raw.Retired,
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Source == "" {
		s.Source = "registry"
	}
	if s.CreatedAt == "" {
		s.CreatedAt = now
	}
	if s.UpdatedAt == "" {
		s.UpdatedAt = s.CreatedAt
	}
	if s.Retired {
		s.RetiredAt = strings.TrimSpace(raw.RetiredAt)
		if s.RetiredAt == "" {
			s.RetiredAt = s.UpdatedAt
		}
	}
	return s
}

// Normalize returns a cleaned copy of r: entries deduplicated by name (last
// wins), the default alias present, sessions newest first, and defaults
// that point at missing or retired sessions dropped.
func (r *Registry) Normalize(now time.Time) *Registry {
	ts := activity.Timestamp(now)

	var order []string
	byName := map[string]Session{}
	for _, raw := range r.Sessions {
		s := normalizeSession(raw, ts)
		if _, seen := byName[s.Name]; !seen {
			order = append(order, s.Name)
		}
		byName[s.Name] = s
	}
	if _, ok := byName[DefaultSessionName]; !ok {
		byName[DefaultSessionName] = DefaultRegistry(now).Sessions[0]
		order = append(order, DefaultSessionName)
	}

	sessions := make([]Session, 0, len(order))
	for _, name := range order {
		sessions = append(sessions, byName[name])
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt > sessions[j].UpdatedAt
	})

	out := &Registry{
		Version:   RegistryVersion,
		UpdatedAt: strings.TrimSpace(r.UpdatedAt),
		Sessions:  sessions,
		Defaults:  Defaults{PerProject: map[string]string{}},
	}
	if out.UpdatedAt == "" {
		out.UpdatedAt = ts
	}

	for project, name := range r.Defaults.PerProject {
		project, name = strings.TrimSpace(project), strings.TrimSpace(name)
		if !validProject(project) || command.ValidateSessionName(name) != nil {
			continue
		}
		if out.live(name) != nil {
			out.Defaults.PerProject[project] = name
		}
	}

	global := strings.TrimSpace(r.Defaults.Global)
	if out.live(global) != nil {
		out.Defaults.Global = global
	} else {
		out.Defaults.Global = out.firstLive()
	}
	return out
}

// live returns the non-retired session called name, or nil.
func (r *Registry) live(name string) *Session {
	for i := range r.Sessions {
		if r.Sessions[i].Name == name && !r.Sessions[i].Retired {
			return &r.Sessions[i]
		}
	}
	return nil
}

func (r *Registry) firstLive() string {
	for _, s := range r.Sessions {
		if !s.Retired {
			return s.Name
		}
	}
	return DefaultSessionName
}

// List returns sessions newest first, optionally including retired ones.
func (r *Registry) List(includeRetired bool) []Session {
	out := []Session{}
	for _, s := range r.Sessions {
		if includeRetired || !s.Retired {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out
}

// UpsertInput describes a session to create or update.
type UpsertInput struct {
	Name        string
	Target      string
	ThreadID    string
	Project     string
	Notes       string
	Source      string
	MakeDefault bool
}

// Upsert creates or replaces the named session, reviving it if retired.
// Fields left empty keep their previous values.
func (r *Registry) Upsert(in UpsertInput, now time.Time) (*Registry, error) {
	nameIn := in.Name
	if nameIn == "" {
		nameIn = in.Target
	}
	if nameIn == "" {
		nameIn = DefaultSessionName
	}
	name := NormalizeSessionName(nameIn, DefaultSessionName)
	target := strings.TrimSpace(in.Target)
	project := strings.TrimSpace(in.Project)

	if command.ValidateSessionName(name) != nil {
		return nil, errors.InvalidInput("Invalid session name.")
	}
	if command.ValidateSessionTarget(target) != nil {
		return nil, errors.InvalidInput("Invalid session target.")
	}
	if !validProject(project) {
		return nil, errors.InvalidInput("Invalid project reference.")
	}

	ts := activity.Timestamp(now)
	sessions := append([]Session{}, r.Sessions...)
	idx := -1
	for i := range sessions {
		if sessions[i].Name == name {
			idx = i
			break
		}
	}

	var existing Session
	if idx >= 0 {
		existing = sessions[idx]
	}
	hints := append([]string{}, existing.ProjectHints...)
	if project != "" && !contains(hints, project) {
		hints = append(hints, project)
	}

	next := Session{
		ID:           firstNonEmpty(existing.ID, uuid.NewString()),
		Name:         name,
		Target:       target,
		ThreadID:     firstNonEmpty(strings.TrimSpace(in.ThreadID), existing.ThreadID),
		Source:       firstNonEmpty(strings.TrimSpace(in.Source), existing.Source, "manual"),
		Notes:        firstNonEmpty(strings.TrimSpace(in.Notes), existing.Notes),
		ProjectHints: hints,
		CreatedAt:    firstNonEmpty(existing.CreatedAt, ts),
		UpdatedAt:    ts,
	}
	if idx >= 0 {
		sessions[idx] = next
	} else {
		sessions = append(sessions, next)
	}

	cp := *r
	cp.Sessions = sessions
	cp.UpdatedAt = ts
	out := cp.Normalize(now)
	if in.MakeDefault {
		return out.SetDefault(name, project, now)
	}
	return out, nil
}

// SetDefault makes name the default for project, or the global default when
// project is empty. The session must exist and not be retired.
func (r *Registry) SetDefault(name, project string, now time.Time) (*Registry, error) {
	if name == "" {
		name = DefaultSessionName
	}
	name = NormalizeSessionName(name, DefaultSessionName)
	project = strings.TrimSpace(project)
	if !validProject(project) {
		return nil, errors.InvalidInput("Invalid project reference.")
	}
	if r.live(name) == nil {
		return nil, errors.New(errors.ErrCodeNotFound, "Session '"+name+"' not found or retired.")
	}

	out := r.Normalize(now)
	if project != "" {
		out.Defaults.PerProject[project] = name
	} else {
		out.Defaults.Global = name
	}
	out.UpdatedAt = activity.Timestamp(now)
	return out, nil
}

// Retire marks name retired and moves any default that pointed at it.
func (r *Registry) Retire(name string, now time.Time) *Registry {
	name = NormalizeSessionName(name, DefaultSessionName)
	ts := activity.Timestamp(now)

	sessions := make([]Session, len(r.Sessions))
	for i, s := range r.Sessions {
		if s.Name == name {
			s.Retired = true
			s.RetiredAt = ts
			s.UpdatedAt = ts
		}
		sessions[i] = s
	}

	cp := *r
	cp.Sessions = sessions
	cp.UpdatedAt = ts
	out := cp.Normalize(now)
	if out.Defaults.Global == name {
		out.Defaults.Global = out.firstLive()
	}
	for project, n := range out.Defaults.PerProject {
		if n == name {
			delete(out.Defaults.PerProject, project)
		}
	}
	return out
}

// Resolve picks the session to relay to: an explicit name, else the
// project's default, else the global default, else the default alias. It
// returns nil when the chosen session is missing or retired.
func (r *Registry) Resolve(name, project string) *Resolved {
	name = strings.TrimSpace(name)
	project = strings.TrimSpace(project)

	var resolved, source string
	switch {
	case name != "":
		resolved, source = NormalizeSessionName(name, name), "explicit"
	case project != "" && r.Defaults.PerProject[project] != "":
		resolved, source = r.Defaults.PerProject[project], "project-default"
	case r.Defaults.Global != "":
		resolved, source = r.Defaults.Global, "global-default"
	default:
		resolved, source = DefaultSessionName, "fallback"
	}

	s := r.live(resolved)
	if s == nil {
		return nil
	}
	return &Resolved{Source: source, Session: *s, Name: s.Name, Target: s.Target}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
