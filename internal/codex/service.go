package codex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grovetools/remote-panel/command"
	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/internal/activity"
	"github.com/grovetools/remote-panel/internal/supervisor"
	"github.com/grovetools/remote-panel/logging"
	"github.com/grovetools/remote-panel/pkg/workspace"
	"github.com/sirupsen/logrus"
)

const (
	maxNotesLen = 5000

	CreateTimeoutMin     = 20 * time.Second
	CreateTimeoutMax     = 15 * time.Minute
	CreateTimeoutDefault = 8 * time.Minute

	createOutputTail = 25
	logSource        = "codex-sessions"
	activitySource   = "panel-codex"
)

// Runner is the part of the process supervisor the registry service drives.
type Runner interface {
	RunOneShot(ctx context.Context, spec supervisor.OneShotSpec) (*supervisor.OneShotResult, error)
	RunPrep(ctx context.Context, opts supervisor.PrepOptions) (*supervisor.PrepResult, error)
	Log(source, message string)
}

// Service applies registry mutations and records them in the panel log
// and the activity log.
type Service struct {
	store     *Store
	runner    Runner
	activity  *activity.Log
	discovery *workspace.DiscoveryService
	agentCLI  string
	logger    *logrus.Entry
}

// NewService creates the registry service. agentCLI is the binary used to
// mint new sessions.
func NewService(store *Store, runner Runner, log *activity.Log, discovery *workspace.DiscoveryService, agentCLI string) *Service {
	return &Service{
		store:     store,
		runner:    runner,
		activity:  log,
		discovery: discovery,
		agentCLI:  agentCLI,
		logger:    logging.NewLogger("codex"),
	}
}

// Store returns the underlying registry store.
func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) record(e activity.Event) {
	e.Source = activitySource
	if e.State == "" {
		e.State = activity.StateWorking
	}
	if _, err := s.activity.Append(e); err != nil {
		s.logger.WithError(err).WithField("type", e.Type).Warn("Failed to append activity event")
	}
}

func validateProject(project string) error {
	if project != "" && command.ValidateProjectRef(project) != nil {
		return errors.InvalidInput("Invalid project value.")
	}
	return nil
}

func truncateNotes(notes string) string {
	notes = strings.TrimSpace(notes)
	if len(notes) > maxNotesLen {
		notes = notes[:maxNotesLen]
	}
	return notes
}

// Listing is the registry view served to the panel.
type Listing struct {
	Registry        *Registry `json:"registry"`
	Sessions        []Session `json:"sessions"`
	ResolvedDefault *Resolved `json:"resolvedDefault"`
}

// Sessions returns the registry, every session including retired ones and
// the session a relay would use without any hints.
func (s *Service) Sessions() (*Listing, error) {
	reg, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	return &Listing{
		Registry:        reg,
		Sessions:        reg.List(true),
		ResolvedDefault: reg.Resolve("", ""),
	}, nil
}

// UpsertRequest is a manual registry edit.
type UpsertRequest struct {
	Name        string `json:"name"`
	Target      string `json:"target"`
	Project     string `json:"project"`
	Notes       string `json:"notes"`
	MakeDefault bool   `json:"makeDefault"`
}

// Mutation is the registry after a change and the resolution it implies.
type Mutation struct {
	Registry *Registry `json:"registry"`
	Resolved *Resolved `json:"resolved,omitempty"`
}

// Upsert saves a session by name.
func (s *Service) Upsert(req UpsertRequest) (*Mutation, error) {
	name := strings.TrimSpace(req.Name)
	target := strings.TrimSpace(req.Target)
	project := strings.TrimSpace(req.Project)

	if command.ValidateSessionName(name) != nil {
		return nil, errors.InvalidInput("Invalid session name.")
	}
	if command.ValidateSessionTarget(target) != nil {
		return nil, errors.InvalidInput("Invalid session target.")
	}
	if err := validateProject(project); err != nil {
		return nil, err
	}

	reg, err := s.store.Update(func(reg *Registry, now time.Time) (*Registry, error) {
		return reg.Upsert(UpsertInput{
			Name:        name,
			Target:      target,
			Project:     project,
			Notes:       truncateNotes(req.Notes),
			Source:      "panel-upsert",
			MakeDefault: req.MakeDefault,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.runner.Log(logSource, fmt.Sprintf("Upserted session %s -> %s", name, target))
	s.record(activity.Event{
		Type:    "session_upsert",
		Message: "Session saved: " + name,
		Meta:    map[string]interface{}{"name": name, "target": target, "project": project},
	})
	return &Mutation{Registry: reg, Resolved: reg.Resolve(name, project)}, nil
}

// SetDefault points the global or per-project default at name.
func (s *Service) SetDefault(name, project string) (*Mutation, error) {
	name = strings.TrimSpace(name)
	project = strings.TrimSpace(project)
	if command.ValidateSessionName(name) != nil {
		return nil, errors.InvalidInput("Invalid session name.")
	}
	if err := validateProject(project); err != nil {
		return nil, err
	}

	reg, err := s.store.Update(func(reg *Registry, now time.Time) (*Registry, error) {
		return reg.SetDefault(name, project, now)
	})
	if err != nil {
		return nil, err
	}

	scope, suffix := "global", " (global)"
	if project != "" {
		scope, suffix = "for "+project, " for "+project
	}
	s.runner.Log(logSource, fmt.Sprintf("Default %s set to %s", scope, name))
	s.record(activity.Event{
		Type:    "session_default",
		Message: "Default session set to " + name + suffix,
		Meta:    map[string]interface{}{"name": name, "project": project},
	})
	return &Mutation{Registry: reg, Resolved: reg.Resolve("", project)}, nil
}

// Retire hides a session from default resolution.
func (s *Service) Retire(name string) (*Mutation, error) {
	name = strings.TrimSpace(name)
	if command.ValidateSessionName(name) != nil {
		return nil, errors.InvalidInput("Invalid session name.")
	}

	reg, err := s.store.Update(func(reg *Registry, now time.Time) (*Registry, error) {
		return reg.Retire(name, now), nil
	})
	if err != nil {
		return nil, err
	}

	s.runner.Log(logSource, "Retired session "+name)
	s.record(activity.Event{
		Type:    "session_retire",
		Message: "Session retired: " + name,
		Meta:    map[string]interface{}{"name": name},
	})
	return &Mutation{Registry: reg}, nil
}

// CreateRequest asks the agent CLI for a fresh thread.
type CreateRequest struct {
	Name        string `json:"name"`
	Project     string `json:"project"`
	Notes       string `json:"notes"`
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	MakeDefault bool   `json:"makeDefault"`
	TimeoutMs   int    `json:"timeoutMs"`
}

// CreatedSession names the session a Create produced.
type CreatedSession struct {
	Name   string `json:"name"`
	Target string `json:"target"`
}

// CreateRun summarizes the agent CLI run behind a Create.
type CreateRun struct {
	ExitCode   int      `json:"exitCode"`
	DurationMs int64    `json:"durationMs"`
	OutputTail []string `json:"outputTail"`
	// Reply is the last agent message of the run, if any.
	Reply string `json:"reply,omitempty"`
}

// CreateResult is the outcome of a successful Create.
type CreateResult struct {
	Created  CreatedSession `json:"created"`
	Registry *Registry      `json:"registry"`
	Codex    CreateRun      `json:"codex"`
}

// ClampCreateTimeout bounds the agent CLI run time; zero selects the default.
func ClampCreateTimeout(ms int) time.Duration {
	if ms <= 0 {
		return CreateTimeoutDefault
	}
	d := time.Duration(ms) * time.Millisecond
	if d < CreateTimeoutMin {
		return CreateTimeoutMin
	}
	if d > CreateTimeoutMax {
		return CreateTimeoutMax
	}
	return d
}

// CreateArgs builds the agent CLI argument list; the prompt goes to stdin.
func CreateArgs(model string) []string {
	args := []string{"exec", "--json"}
	if model = strings.TrimSpace(model); model != "" {
		args = append(args, "--model", model)
	}
	return append(args, "-")
}

// Create runs the agent CLI to start a new thread and registers it under
// req.Name.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	name := strings.TrimSpace(req.Name)
	project := strings.TrimSpace(req.Project)
	if command.ValidateSessionName(name) != nil {
		return nil, errors.InvalidInput("Invalid session name.")
	}
	if err := validateProject(project); err != nil {
		return nil, err
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		scope := project
		if scope == "" {
			scope = "workspace"
		}
		prompt = fmt.Sprintf("Create a new Codex relay session for project '%s'. Reply exactly with READY.", scope)
	}

	res, err := s.runner.RunOneShot(ctx, supervisor.OneShotSpec{
		Source:  "codex:create",
		Binary:  s.agentCLI,
		Args:    CreateArgs(req.Model),
		Stdin:   prompt,
		Timeout: ClampCreateTimeout(req.TimeoutMs),
	})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, errors.New(errors.ErrCodeCommandFailed, fmt.Sprintf("Codex create failed (exit %d).", res.ExitCode)).
			WithDetail("result", res)
	}
	threadID := ExtractThreadID(res.OutputLines)
	if threadID == "" {
		return nil, errors.New(errors.ErrCodeCommandFailed, "Codex create completed but no thread_id was found in output.").
			WithDetail("result", res)
	}

	messages := s.recordRun(name, res.OutputLines)

	reg, err := s.store.Update(func(reg *Registry, now time.Time) (*Registry, error) {
		return reg.Upsert(UpsertInput{
			Name:        name,
			Target:      threadID,
			ThreadID:    threadID,
			Project:     project,
			Notes:       truncateNotes(req.Notes),
			Source:      "panel-create",
			MakeDefault: req.MakeDefault,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.runner.Log(logSource, fmt.Sprintf("Created session %s -> %s", name, threadID))
	s.record(activity.Event{
		Type:    "session_create",
		Message: "Session created: " + name,
		Meta:    map[string]interface{}{"name": name, "threadId": threadID, "project": project},
	})

	tail := res.OutputLines
	if len(tail) > createOutputTail {
		tail = tail[len(tail)-createOutputTail:]
	}
	reply := ""
	if len(messages) > 0 {
		reply = messages[len(messages)-1]
	}
	return &CreateResult{
		Created:  CreatedSession{Name: name, Target: threadID},
		Registry: reg,
		Codex: CreateRun{
			ExitCode:   res.ExitCode,
			DurationMs: res.DurationMs,
			OutputTail: append([]string{}, tail...),
			Reply:      reply,
		},
	}, nil
}

// recordRun replays the turn and item events of an agent CLI run into the
// activity log and returns the agent messages it produced.
func (s *Service) recordRun(name string, lines []string) []string {
	var tr Translator
	for _, line := range lines {
		e, ok := ParseEvent(line)
		if !ok {
			continue
		}
		ev, ok := tr.Translate(e)
		if !ok {
			continue
		}
		ev.Meta = map[string]interface{}{"name": name, "codexEvent": e.Type}
		s.record(ev)
	}
	return tr.Messages()
}

// PrepRequest selects the prep pipeline steps. Nil booleans mean true.
type PrepRequest struct {
	Project          string `json:"project"`
	Mode             string `json:"mode"`
	GenerateBriefing *bool  `json:"generateBriefing"`
	RunMCPPrep       *bool  `json:"runMcpPrep"`
}

// PrepResult is the outcome of a successful prep run.
type PrepResult struct {
	Project       string                     `json:"project"`
	Mode          string                     `json:"mode"`
	Prep          *supervisor.OneShotResult  `json:"prep"`
	MCPPrep       *supervisor.OneShotResult  `json:"mcpPrep"`
	Briefing      *supervisor.OneShotResult  `json:"briefing"`
	LatestSession *workspace.PreparedSession `json:"latestSession"`
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

// Prep runs the chat prep pipeline and reports the folder it produced. A
// failing step is returned as a CommandFailed error carrying every step
// result in its details.
func (s *Service) Prep(ctx context.Context, req PrepRequest) (*PrepResult, error) {
	project := strings.TrimSpace(req.Project)
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = "quick"
	}
	if err := validateProject(project); err != nil {
		return nil, err
	}

	res, err := s.runner.RunPrep(ctx, supervisor.PrepOptions{
		Project:          project,
		Mode:             mode,
		RunMCPPrep:       boolOr(req.RunMCPPrep, true),
		GenerateBriefing: boolOr(req.GenerateBriefing, true),
	})
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, errors.New(errors.ErrCodeCommandFailed, fmt.Sprintf("Prep step '%s' failed.", res.FailedStep)).
			WithDetail("step", res.FailedStep).
			WithDetail("prep", res.Prep).
			WithDetail("mcpPrep", res.MCPPrep).
			WithDetail("briefing", res.Briefing)
	}

	latest := s.discovery.LatestPreparedSession()
	folder := ""
	if latest != nil {
		folder = latest.FolderPath
	}
	shown := project
	if shown == "" {
		shown = "(auto)"
	}
	s.runner.Log(logSource, fmt.Sprintf("Prepared context for project=%s mode=%s", shown, mode))

	msg := fmt.Sprintf("Prep complete (%s)", mode)
	if project != "" {
		msg += " for " + project
	}
	s.record(activity.Event{
		Type:    "prep_complete",
		Message: msg,
		Meta:    map[string]interface{}{"project": project, "mode": mode, "sessionFolder": folder},
	})

	return &PrepResult{
		Project:       project,
		Mode:          mode,
		Prep:          res.Prep,
		MCPPrep:       res.MCPPrep,
		Briefing:      res.Briefing,
		LatestSession: latest,
	}, nil
}
