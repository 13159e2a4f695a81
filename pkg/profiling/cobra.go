package profiling

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/spf13/cobra"
)

type timerKey struct{}

// CobraProfiler owns the hidden profiling flags of a command tree.
type CobraProfiler struct {
	cpuProfilePath string
	memProfilePath string
	timing         bool

	cpuFile *os.File
	timer   *Timer
}

// NewCobraProfiler creates a profiler with every feature off.
func NewCobraProfiler() *CobraProfiler {
	return &CobraProfiler{}
}

// AddFlags registers --cpu-profile, --mem-profile and --timing on cmd.
func (p *CobraProfiler) AddFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&p.cpuProfilePath, "cpu-profile", "", "Write a CPU profile to file")
	flags.StringVar(&p.memProfilePath, "mem-profile", "", "Write a heap profile to file on exit")
	flags.BoolVar(&p.timing, "timing", false, "Print startup phase timings on exit")
	for _, name := range []string{"cpu-profile", "mem-profile", "timing"} {
		_ = flags.MarkHidden(name)
	}
}

// PreRun starts the CPU profile and stores the Timer in the command
// context. Use it as PersistentPreRunE.
func (p *CobraProfiler) PreRun(cmd *cobra.Command, _ []string) error {
	p.timer = NewTimer(p.timing)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, timerKey{}, p.timer))

	if p.cpuProfilePath == "" {
		return nil
	}
	f, err := os.Create(p.cpuProfilePath)
	if err != nil {
		return fmt.Errorf("could not create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("could not start CPU profile: %w", err)
	}
	p.cpuFile = f
	return nil
}

// PostRun writes the profiles and the timing summary. Use it as
// PersistentPostRun.
func (p *CobraProfiler) PostRun(cmd *cobra.Command, _ []string) {
	out := cmd.ErrOrStderr()
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		p.cpuFile.Close()
		fmt.Fprintf(out, "CPU profile written to %s\n", p.cpuProfilePath)
	}
	if p.memProfilePath != "" {
		if err := writeHeapProfile(p.memProfilePath); err != nil {
			fmt.Fprintf(out, "could not write memory profile: %v\n", err)
		} else {
			fmt.Fprintf(out, "Memory profile written to %s\n", p.memProfilePath)
		}
	}
	p.timer.Summarize(out)
}

func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}

// FromContext returns the Timer installed by PreRun, or a disabled one.
func FromContext(ctx context.Context) *Timer {
	if ctx != nil {
		if t, ok := ctx.Value(timerKey{}).(*Timer); ok {
			return t
		}
	}
	return &Timer{}
}
