package cli

import (
	"fmt"
	"io"

	"github.com/grovetools/remote-panel/errors"
)

// ErrorHandler turns command errors into operator hints.
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates an error handler writing to out.
func NewErrorHandler(out io.Writer, verbose bool) *ErrorHandler {
	return &ErrorHandler{Verbose: verbose, Out: out}
}

// Handle prints err with a hint for known codes and returns it unchanged.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}
	p := NewPalette(h.Out)
	fmt.Fprintf(h.Out, "%s %s\n", p.Error.Render("Error:"), errors.Message(err))

	panelErr, _ := errors.As(err)
	switch errors.GetCode(err) {
	case errors.ErrCodeConfigInvalid, errors.ErrCodeConfigNotFound:
		fmt.Fprintln(h.Out, p.Muted.Render("Check panel.yml and the REMOTE_PANEL_* environment, then run 'remote-panel config' to see the resolved values."))
	case errors.ErrCodeAlreadyRunning:
		fmt.Fprintln(h.Out, p.Muted.Render(fmt.Sprintf("Another panel owns this workspace (pid %v). Run 'remote-panel stop' first.", panelErr.Details["pid"])))
	case errors.ErrCodeCommandNotFound:
		fmt.Fprintln(h.Out, p.Muted.Render("Make sure the runner and agent CLI are installed and on PATH."))
	}

	if h.Verbose && panelErr != nil {
		fmt.Fprintf(h.Out, "\nError details:\n%s\n", panelErr.ToJSON())
		if panelErr.Cause != nil {
			fmt.Fprintf(h.Out, "Cause: %v\n", panelErr.Cause)
		}
	}
	return err
}
