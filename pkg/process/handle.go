package process

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Stream identifies which output pipe a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Result is what a supervised child resolves with once it has exited.
// ExitCode is -1 when the process was terminated by a signal or never ran.
type Result struct {
	ExitCode int
	Signal   string
	Err      error
}

// LineFunc receives each output line of a child process.
type LineFunc func(stream Stream, line string)

// Handle tracks a started child process. Done is closed once the child has
// been reaped and its output drained. Descendants that inherited the output
// pipes do not hold Done open for longer than DrainDelay.
type Handle struct {
	PID       int
	StartedAt time.Time

	cmd    *exec.Cmd
	done   chan struct{}
	result Result
}

// maxLineBytes bounds a single output line; longer lines are split.
const maxLineBytes = 1024 * 1024

// DrainDelay is how long output is still read after the child exits.
var DrainDelay = 250 * time.Millisecond

// Start launches cmd in its own process group, streaming every stdout and
// stderr line to onLine (which may be nil). Spawn failures are returned
// directly and never produce a Handle.
func Start(cmd *exec.Cmd, onLine LineFunc) (*Handle, error) {
	setProcessGroup(cmd)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, err
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if cmd.WaitDelay == 0 {
		// Bounds the stdin copy when a descendant keeps stdin open.
		cmd.WaitDelay = DrainDelay
	}

	err = cmd.Start()
	// The child holds its own copies of the write ends.
	closeAll(stdoutW, stderrW)
	if err != nil {
		closeAll(stdoutR, stderrR)
		return nil, err
	}

	h := &Handle{
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		cmd:       cmd,
		done:      make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go scanLines(&readers, stdoutR, Stdout, onLine)
	go scanLines(&readers, stderrR, Stderr, onLine)
	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()

	go func() {
		// Stdout and Stderr are *os.File, so Wait returns as soon as the
		// child itself exits.
		res := resultFromWait(cmd.Wait())
		timer := time.NewTimer(DrainDelay)
		select {
		case <-drained:
		case <-timer.C:
			closeAll(stdoutR, stderrR)
			<-drained
		}
		timer.Stop()
		closeAll(stdoutR, stderrR)
		h.result = res
		close(h.done)
	}()

	return h, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func scanLines(wg *sync.WaitGroup, r io.Reader, stream Stream, onLine LineFunc) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if onLine != nil {
			onLine(stream, scanner.Text())
		}
	}
	// Keep the pipe empty so the child never blocks on a full buffer. This
	// ends with an error once the read end is closed.
	_, _ = io.Copy(io.Discard, r)
}

func resultFromWait(err error) Result {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		// ErrWaitDelay is only returned after a successful exit.
		return Result{ExitCode: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res := Result{ExitCode: exitErr.ExitCode()}
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			res.Signal = status.Signal().String()
		}
		return res
	}
	return Result{ExitCode: -1, Err: err}
}

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the exit result. It is only meaningful after Done is closed.
func (h *Handle) Result() Result {
	<-h.done
	return h.result
}

// Exited reports whether the process has already exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// KillTree asks the process and every descendant in its group to terminate.
func (h *Handle) KillTree() error {
	if h.Exited() {
		return nil
	}
	return KillTree(h.PID)
}

// Terminate signals the process tree and, if the child is still running
// after grace, force-kills the whole group. It reports whether the child
// exited; it never waits longer than twice grace.
func (h *Handle) Terminate(grace time.Duration) bool {
	if h.Exited() {
		return true
	}
	_ = KillTree(h.PID)
	if h.waitFor(grace) {
		return true
	}
	_ = ForceKillTree(h.PID)
	return h.waitFor(grace)
}

func (h *Handle) waitFor(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	}
}
