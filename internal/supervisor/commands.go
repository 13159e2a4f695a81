package supervisor

import (
	"context"
	"time"

	"github.com/grovetools/remote-panel/command"
	"github.com/grovetools/remote-panel/errors"
)

const (
	ChatTimeout     = 30 * time.Minute
	MCPPrepTimeout  = 15 * time.Minute
	BriefingTimeout = 10 * time.Minute
)

func validateOptionalProject(project string) error {
	if project == "" {
		return nil
	}
	if err := command.ValidateProjectRef(project); err != nil {
		return errors.InvalidInput("Invalid project value")
	}
	return nil
}

// Scaffold runs the project scaffolder.
func (s *Supervisor) Scaffold(ctx context.Context) (*OneShotResult, error) {
	return s.RunOneShot(ctx, OneShotSpec{Source: "scaffold", Script: "scaffold"})
}

// Build builds one project, or the default project when project is empty.
func (s *Supervisor) Build(ctx context.Context, project string) (*OneShotResult, error) {
	if err := validateOptionalProject(project); err != nil {
		return nil, err
	}
	var args []string
	if project != "" {
		args = []string{"--project=" + project}
	}
	return s.RunOneShot(ctx, OneShotSpec{Source: "build", Script: "build", Args: args})
}

// BuildAll builds every project.
func (s *Supervisor) BuildAll(ctx context.Context) (*OneShotResult, error) {
	return s.RunOneShot(ctx, OneShotSpec{Source: "build-all", Script: "build:all"})
}

// ChatQuick prepares a quick chat context for project.
func (s *Supervisor) ChatQuick(ctx context.Context, project string) (*OneShotResult, error) {
	if err := validateOptionalProject(project); err != nil {
		return nil, err
	}
	return s.RunOneShot(ctx, OneShotSpec{
		Source:  "chat:new:quick",
		Script:  "chat:new:quick",
		Args:    prepArgs(project),
		Timeout: ChatTimeout,
	})
}

// ChatBriefing regenerates the chat briefing.
func (s *Supervisor) ChatBriefing(ctx context.Context) (*OneShotResult, error) {
	return s.RunOneShot(ctx, OneShotSpec{Source: "chat:briefing", Script: "chat:briefing"})
}

// The prep scripts take PowerShell-style arguments.
func prepArgs(project string) []string {
	if project == "" {
		return nil
	}
	return []string{"-Project", project}
}

// PrepOptions selects the steps of the prep pipeline.
type PrepOptions struct {
	Project          string
	Mode             string // quick or full
	RunMCPPrep       bool
	GenerateBriefing bool
}

// PrepResult reports each pipeline step. FailedStep names the step that
// exited non-zero, if any; later steps are not run.
type PrepResult struct {
	Prep       *OneShotResult `json:"prep"`
	MCPPrep    *OneShotResult `json:"mcpPrep"`
	Briefing   *OneShotResult `json:"briefing"`
	FailedStep string         `json:"step,omitempty"`
}

// OK reports whether every step that ran succeeded.
func (r *PrepResult) OK() bool {
	return r.FailedStep == ""
}

// RunPrep runs chat:new:<mode>, then optionally mcp:prep and chat:briefing,
// stopping at the first failure.
func (s *Supervisor) RunPrep(ctx context.Context, opts PrepOptions) (*PrepResult, error) {
	if opts.Mode == "" {
		opts.Mode = "quick"
	}
	if opts.Mode != "quick" && opts.Mode != "full" {
		return nil, errors.InvalidInput("Mode must be 'quick' or 'full'.")
	}
	if err := validateOptionalProject(opts.Project); err != nil {
		return nil, errors.InvalidInput("Invalid project value.")
	}

	script := "chat:new:" + opts.Mode
	out := &PrepResult{}
	var err error

	out.Prep, err = s.RunOneShot(ctx, OneShotSpec{
		Source:  script,
		Script:  script,
		Args:    prepArgs(opts.Project),
		Timeout: ChatTimeout,
	})
	if err != nil {
		return nil, err
	}
	if !out.Prep.OK {
		out.FailedStep = "prep"
		return out, nil
	}

	if opts.RunMCPPrep {
		out.MCPPrep, err = s.RunOneShot(ctx, OneShotSpec{Source: "mcp:prep", Script: "mcp:prep", Timeout: MCPPrepTimeout})
		if err != nil {
			return nil, err
		}
		if !out.MCPPrep.OK {
			out.FailedStep = "mcp:prep"
			return out, nil
		}
	}

	if opts.GenerateBriefing {
		out.Briefing, err = s.RunOneShot(ctx, OneShotSpec{Source: "chat:briefing", Script: "chat:briefing", Timeout: BriefingTimeout})
		if err != nil {
			return nil, err
		}
		if !out.Briefing.OK {
			out.FailedStep = "chat:briefing"
			return out, nil
		}
	}
	return out, nil
}
