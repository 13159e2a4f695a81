package activity

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeState(t *testing.T) {
	assert.Equal(t, StateWorking, NormalizeState(" Working "))
	assert.Equal(t, StateBlocked, NormalizeState("blocked"))
	assert.Equal(t, StateIdle, NormalizeState("sleeping"))
	assert.Equal(t, StateIdle, NormalizeState(""))
}

func TestAppendAndRead(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "remote", "activity.jsonl"))
	log.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 5e6, time.UTC) }

	var seen []Event
	log.OnAppend(func(e Event) { seen = append(seen, e) })

	e, err := log.Append(Event{
		Type:    strings.Repeat("t", 100),
		State:   "bogus",
		Message: strings.Repeat("m", 3000),
		Meta:    map[string]interface{}{"file": "inbox/a.md"},
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T10:00:00.005Z", e.Time)
	assert.Len(t, e.Type, 80)
	assert.Equal(t, StateIdle, e.State)
	assert.Len(t, e.Message, 2000)
	assert.Equal(t, "panel", e.Source)

	_, err = log.Append(Event{Type: "status", Source: "panel-status"})
	require.NoError(t, err)
	assert.Len(t, seen, 2)

	events, err := log.Read(0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "inbox/a.md", events[0].Meta["file"])
	assert.Equal(t, "", events[1].State, "empty state is kept empty")
	assert.NotNil(t, events[1].Meta)
}

func TestReadSkipsMalformedAndLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	content := strings.Join([]string{
		`{"time":"1","type":"a"}`,
		`not json`,
		``,
		`[1,2,3]`,
		`{"time":"2","type":"b","meta":"oops"}`,
		`{"time":"3"}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	log := NewLog(path)
	events, err := log.Read(0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].Type)
	assert.Empty(t, events[1].Meta)
	assert.Equal(t, "event", events[2].Type)

	// The limit counts raw lines, so malformed lines still consume it.
	events, err = log.Read(2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].Type)
}

func TestReadMissingFile(t *testing.T) {
	events, err := NewLog(filepath.Join(t.TempDir(), "none.jsonl")).Read(10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultReadLimit, ClampLimit(0))
	assert.Equal(t, 1, ClampLimit(-5))
	assert.Equal(t, MaxReadLimit, ClampLimit(5000))
	assert.Equal(t, 42, ClampLimit(42))
}

func TestStatusStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent-status.json")
	store := NewStatusStore(path)

	st, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, DefaultStatus(), st)

	st, err = store.Write("THINKING", strings.Repeat("x", 6000), "")
	require.NoError(t, err)
	assert.Equal(t, StateThinking, st.State)
	assert.Len(t, st.Message, 5000)
	assert.Equal(t, "panel", st.Source)

	got, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, st, got)

	require.NoError(t, os.WriteFile(path, []byte(`{"state":"napping"}`), 0644))
	got, err = store.Read()
	require.NoError(t, err)
	assert.Equal(t, StateIdle, got.State)
	assert.Equal(t, "unknown", got.Source)

	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0644))
	_, err = store.Read()
	assert.Error(t, err)
}

func TestFollowSeesExternalAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"old"}`+"\n"), 0644))
	log := NewLog(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Event, 4)
	go func() {
		_ = log.Follow(ctx, func(e Event) { got <- e })
	}()

	// Give the tailer time to seek to the end before appending.
	time.Sleep(200 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"relay_tick","source":"codex-relay"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case e := <-got:
		assert.Equal(t, "relay_tick", e.Type)
		assert.Equal(t, "codex-relay", e.Source)
	case <-time.After(5 * time.Second):
		t.Fatal("follower did not report the appended event")
	}
}
