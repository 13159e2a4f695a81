package profiling

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledTimerIsSilent(t *testing.T) {
	var timer *Timer
	timer.Start("phase").Stop()

	var buf bytes.Buffer
	timer.Summarize(&buf)
	NewTimer(false).Summarize(&buf)
	assert.Empty(t, buf.String())
}

func TestTimerSummarize(t *testing.T) {
	timer := NewTimer(true)
	timer.Start("load settings").Stop()
	timer.Start("unfinished")

	var buf bytes.Buffer
	timer.Summarize(&buf)
	out := buf.String()
	assert.Contains(t, out, "Startup Timing")
	assert.Contains(t, out, "- load settings (")
	assert.NotContains(t, out, "unfinished")
}

func TestCobraProfilerInstallsTimer(t *testing.T) {
	p := NewCobraProfiler()
	var got *Timer
	cmd := &cobra.Command{
		Use:               "tool",
		PersistentPreRunE: p.PreRun,
		PersistentPostRun: p.PostRun,
		Run: func(cmd *cobra.Command, _ []string) {
			got = FromContext(cmd.Context())
			got.Start("work").Stop()
		},
	}
	p.AddFlags(cmd)

	var buf bytes.Buffer
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"--timing"})
	require.NoError(t, cmd.Execute())

	require.NotNil(t, got)
	assert.True(t, got.Enabled())
	assert.Contains(t, buf.String(), "- work (")
}

func TestFromContextDefaultsToDisabled(t *testing.T) {
	assert.False(t, FromContext(context.Background()).Enabled())
}
