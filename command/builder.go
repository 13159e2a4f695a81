package command

import (
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
)

var (
	projectRefRegex    = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)
	manifestIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,100}$`)
	sessionNameRegex   = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,79}$`)
	sessionTargetRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._:-]{0,159}$`)
)

// Runner describes how package scripts are invoked, e.g. `npm run <script>`.
type Runner struct {
	Command string
	Args    []string
}

// DefaultRunner returns npm, wrapped in `cmd /c` on Windows where npm is a
// batch file.
func DefaultRunner() Runner {
	if runtime.GOOS == "windows" {
		return Runner{Command: "cmd", Args: []string{"/c", "npm", "run"}}
	}
	return Runner{Command: "npm", Args: []string{"run"}}
}

// SafeBuilder builds child process commands from validated inputs.
// Validation happens at the API boundary with the Validate* functions.
type SafeBuilder struct {
	executor Executor
	runner   Runner
}

// NewSafeBuilderWithExecutor creates a new SafeBuilder with a custom Executor
func NewSafeBuilderWithExecutor(exec Executor, runner Runner) *SafeBuilder {
	if runner.Command == "" {
		runner = DefaultRunner()
	}
	return &SafeBuilder{
		executor: exec,
		runner:   runner,
	}
}

// ValidateProjectRef ensures a project reference is safe to pass as an argument.
func ValidateProjectRef(project string) error {
	if !projectRefRegex.MatchString(project) {
		return fmt.Errorf("Invalid project name.")
	}
	return nil
}

// ValidateManifestID ensures a dev-server manifest id cannot escape its directory.
func ValidateManifestID(id string) error {
	if !manifestIDRegex.MatchString(id) {
		return fmt.Errorf("Invalid manifest id.")
	}
	return nil
}

// ValidateSessionName checks an agent session name such as "codex-chat".
func ValidateSessionName(name string) error {
	if !sessionNameRegex.MatchString(name) {
		return fmt.Errorf("Invalid session name.")
	}
	return nil
}

// ValidateSessionTarget checks an agent session target (a thread id or an
// alias the agent CLI understands).
func ValidateSessionTarget(target string) error {
	if !sessionTargetRegex.MatchString(target) {
		return fmt.Errorf("Invalid session target.")
	}
	return nil
}

// ValidatePort accepts unprivileged TCP ports. Zero means "not set".
func ValidatePort(port int) error {
	if port == 0 {
		return nil
	}
	if port < 1024 || port > 65535 {
		return fmt.Errorf("Port must be between 1024 and 65535.")
	}
	return nil
}

// ScriptArgs returns the full argv used to run a package script, with
// script arguments separated by `--`.
func (sb *SafeBuilder) ScriptArgs(script string, args ...string) (string, []string) {
	argv := append([]string{}, sb.runner.Args...)
	argv = append(argv, script)
	if len(args) > 0 {
		argv = append(argv, "--")
		argv = append(argv, args...)
	}
	return sb.runner.Command, argv
}

// Script creates the command for a package script.
func (sb *SafeBuilder) Script(script string, args ...string) *exec.Cmd {
	name, argv := sb.ScriptArgs(script, args...)
	return sb.executor.Command(name, argv...) //nolint:gosec // arguments are validated by callers
}

// Binary creates the command for an external binary such as the agent CLI
// or the tunnel daemon.
func (sb *SafeBuilder) Binary(name string, args ...string) *exec.Cmd {
	return sb.executor.Command(name, args...) //nolint:gosec // arguments are validated by callers
}
