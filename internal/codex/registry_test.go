package codex

import (
	"testing"
	"time"

	"github.com/grovetools/remote-panel/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeSessionName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Codex Chat", "codex-chat"},
		{"  alpha.beta_1 ", "alpha.beta_1"},
		{"--x--", "x"},
		{"!!!", "fallback"},
		{"", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSessionName(tt.in, "fallback"))
		})
	}
}

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry(t0)
	assert.Equal(t, RegistryVersion, reg.Version)
	require.Len(t, reg.Sessions, 1)
	assert.Equal(t, DefaultSessionName, reg.Sessions[0].Name)
	assert.Equal(t, DefaultSessionName, reg.Defaults.Global)
	assert.NotEmpty(t, reg.Sessions[0].ID)
}

func TestNormalizeDedupesAndPrunesDefaults(t *testing.T) {
	reg := &Registry{
		Sessions: []Session{
			{Name: "alpha", Target: "t-1", UpdatedAt: "2026-01-01T00:00:00.000Z"},
			{Name: "ALPHA", Target: "t-2", UpdatedAt: "2026-01-03T00:00:00.000Z"},
			{Name: "beta", Target: "bad target!", Retired: true, UpdatedAt: "2026-01-02T00:00:00.000Z"},
		},
		Defaults: Defaults{
			Global:     "missing",
			PerProject: map[string]string{"site": "beta", "app": "alpha", "bad project!": "alpha"},
		},
	}
	out := reg.Normalize(t0)

	names := []string{}
	for _, s := range out.Sessions {
		names = append(names, s.Name)
	}
	// codex-chat is added with the current time, so it sorts first.
	assert.Equal(t, []string{DefaultSessionName, "alpha", "beta"}, names)
	assert.Equal(t, "t-2", out.Sessions[1].Target)
	assert.Equal(t, "beta", out.Sessions[2].Target, "invalid target falls back to the name")
	assert.Equal(t, out.Sessions[2].UpdatedAt, out.Sessions[2].RetiredAt)

	assert.Equal(t, map[string]string{"app": "alpha"}, out.Defaults.PerProject)
	assert.Equal(t, DefaultSessionName, out.Defaults.Global)
	assert.Equal(t, RegistryVersion, out.Version)
}

func TestUpsertCreatesAndUpdates(t *testing.T) {
	reg := DefaultRegistry(t0)

	reg, err := reg.Upsert(UpsertInput{Name: "Site Chat", Target: "thread-1", Project: "site", Notes: "first"}, t0.Add(time.Minute))
	require.NoError(t, err)

	s := reg.live("site-chat")
	require.NotNil(t, s)
	assert.Equal(t, "thread-1", s.Target)
	assert.Equal(t, "manual", s.Source)
	assert.Equal(t, []string{"site"}, s.ProjectHints)
	created := s.CreatedAt
	id := s.ID

	reg, err = reg.Upsert(UpsertInput{Name: "site-chat", Target: "thread-2", Project: "other", Source: "panel-upsert"}, t0.Add(2*time.Minute))
	require.NoError(t, err)
	s = reg.live("site-chat")
	require.NotNil(t, s)
	assert.Equal(t, "thread-2", s.Target)
	assert.Equal(t, "first", s.Notes, "empty notes keep the previous value")
	assert.Equal(t, []string{"site", "other"}, s.ProjectHints)
	assert.Equal(t, created, s.CreatedAt)
	assert.Equal(t, id, s.ID)
	assert.Equal(t, "panel-upsert", s.Source)
	assert.Len(t, reg.Sessions, 2)
}

func TestUpsertRejectsBadInput(t *testing.T) {
	reg := DefaultRegistry(t0)

	_, err := reg.Upsert(UpsertInput{Name: "ok", Target: "-bad"}, t0)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = reg.Upsert(UpsertInput{Name: "ok", Target: "t", Project: "../etc"}, t0)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestUpsertMakeDefault(t *testing.T) {
	reg := DefaultRegistry(t0)

	reg, err := reg.Upsert(UpsertInput{Name: "site", Target: "t-1", Project: "alpha", MakeDefault: true}, t0)
	require.NoError(t, err)
	assert.Equal(t, "site", reg.Defaults.PerProject["alpha"])
	assert.Equal(t, DefaultSessionName, reg.Defaults.Global)

	reg, err = reg.Upsert(UpsertInput{Name: "global", Target: "t-2", MakeDefault: true}, t0)
	require.NoError(t, err)
	assert.Equal(t, "global", reg.Defaults.Global)
}

func TestSetDefault(t *testing.T) {
	reg, err := DefaultRegistry(t0).Upsert(UpsertInput{Name: "alpha", Target: "t-1"}, t0)
	require.NoError(t, err)

	out, err := reg.SetDefault("alpha", "", t0)
	require.NoError(t, err)
	assert.Equal(t, "alpha", out.Defaults.Global)

	out, err = out.SetDefault("alpha", "site", t0)
	require.NoError(t, err)
	assert.Equal(t, "alpha", out.Defaults.PerProject["site"])

	_, err = out.SetDefault("ghost", "", t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
	assert.Equal(t, "Session 'ghost' not found or retired.", errors.Message(err))

	retired := out.Retire("alpha", t0)
	_, err = retired.SetDefault("alpha", "", t0)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestRetireMovesDefaults(t *testing.T) {
	reg, err := DefaultRegistry(t0).Upsert(UpsertInput{Name: "alpha", Target: "t-1", Project: "site", MakeDefault: true}, t0)
	require.NoError(t, err)
	reg, err = reg.SetDefault("alpha", "", t0)
	require.NoError(t, err)

	out := reg.Retire("alpha", t0.Add(time.Minute))
	s := out.List(true)
	require.Len(t, s, 2)
	assert.Len(t, out.List(false), 1)

	assert.Equal(t, DefaultSessionName, out.Defaults.Global)
	assert.Empty(t, out.Defaults.PerProject)
	assert.Nil(t, out.Resolve("alpha", ""))
}

func TestResolveOrder(t *testing.T) {
	reg := DefaultRegistry(t0)
	reg, err := reg.Upsert(UpsertInput{Name: "proj", Target: "t-p", Project: "site", MakeDefault: true}, t0)
	require.NoError(t, err)
	reg, err = reg.Upsert(UpsertInput{Name: "glob", Target: "t-g"}, t0)
	require.NoError(t, err)

	r := reg.Resolve("Glob", "site")
	require.NotNil(t, r)
	assert.Equal(t, "explicit", r.Source)
	assert.Equal(t, "t-g", r.Target)

	r = reg.Resolve("", "site")
	require.NotNil(t, r)
	assert.Equal(t, "project-default", r.Source)
	assert.Equal(t, "proj", r.Name)

	r = reg.Resolve("", "elsewhere")
	require.NotNil(t, r)
	assert.Equal(t, "global-default", r.Source)
	assert.Equal(t, DefaultSessionName, r.Name)

	reg.Defaults.Global = ""
	r = reg.Resolve("", "")
	require.NotNil(t, r)
	assert.Equal(t, "fallback", r.Source)

	assert.Nil(t, reg.Resolve("nobody", ""))
}
