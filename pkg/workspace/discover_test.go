package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grovetools/remote-panel/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*DiscoveryService, string) {
	ws := testutil.NewWorkspace(t)
	return NewDiscoveryService(ws, testutil.QuietLogger()), ws.Root
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "my-site", Slugify("  My Site "))
	assert.Equal(t, "a-b", Slugify("a--__b"))
	assert.Equal(t, "project", Slugify("!!!"))
}

func TestProjects(t *testing.T) {
	svc, root := newService(t)

	list := svc.Projects()
	assert.Equal(t, "", list.ActiveProject)
	assert.Empty(t, list.Projects)

	testutil.WriteFile(t, filepath.Join(root, "agency.config.json"), `{"activeProject":"beta"}`)
	testutil.WriteFile(t, filepath.Join(root, "projects", "Beta Site", "project.config.json"), `{"build":{"scripts":{"engine":"esbuild"}}}`)
	testutil.WriteFile(t, filepath.Join(root, "projects", "alpha", "project.config.json"), `{"scripts":{"engine":"rollup"}}`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "projects", "gamma"), 0755))
	testutil.WriteFile(t, filepath.Join(root, "projects", "README.md"), "not a project")

	list = svc.Projects()
	assert.Equal(t, "beta", list.ActiveProject)
	require.Len(t, list.Projects, 3)

	assert.Equal(t, Project{Name: "Beta Site", Slug: "beta-site", DistDir: "dist/projects/beta-site", HasConfig: true, JSEngine: "esbuild"}, list.Projects[0])
	assert.Equal(t, "rollup", list.Projects[1].JSEngine)
	assert.Equal(t, "gamma", list.Projects[2].Name)
	assert.False(t, list.Projects[2].HasConfig)
	assert.Equal(t, "default", list.Projects[2].JSEngine)
}

func TestManifests(t *testing.T) {
	svc, root := newService(t)
	assert.Empty(t, svc.Manifests())

	dir := filepath.Join(root, ".agency", "dev-servers")
	testutil.WriteFile(t, filepath.Join(dir, "old.json"), `{"mode":"dev","project":"alpha","port":5173,"generatedAt":"2026-01-01T00:00:00.000Z"}`)
	testutil.WriteFile(t, filepath.Join(dir, "new.json"), `{"id":"new-id","url":"http://127.0.0.1:5174","generatedAt":"2026-02-01T00:00:00.000Z"}`)
	testutil.WriteFile(t, filepath.Join(dir, "bare.json"), `{}`)
	testutil.WriteFile(t, filepath.Join(dir, "broken.json"), `{not json`)
	testutil.WriteFile(t, filepath.Join(dir, ".hidden.json"), `{}`)

	got := svc.Manifests()
	require.Len(t, got, 3)

	assert.Equal(t, "new-id", got[0].ID)
	assert.Equal(t, "/preview/new-id/", got[0].PreviewURL)
	require.NotNil(t, got[0].URL)
	assert.Nil(t, got[0].Port)

	assert.Equal(t, "old", got[1].ID)
	assert.Equal(t, "dev", got[1].Mode)
	require.NotNil(t, got[1].Port)
	assert.Equal(t, 5173, *got[1].Port)
	require.NotNil(t, got[1].Project)
	assert.Equal(t, "alpha", *got[1].Project)

	assert.Equal(t, "bare", got[2].ID)
	assert.Equal(t, "unknown", got[2].Mode)
	assert.Equal(t, "127.0.0.1", got[2].Host)
	assert.Nil(t, got[2].GeneratedAt)
}

func TestLatestPreparedSession(t *testing.T) {
	svc, root := newService(t)
	assert.Nil(t, svc.LatestPreparedSession())

	dir := filepath.Join(root, ".agency", "chat", "sessions")
	testutil.WriteFile(t, filepath.Join(dir, "2026-01-01_a", "session.json"), `{"project":"old"}`)
	testutil.WriteFile(t, filepath.Join(dir, "2026-03-01_b", "session.json"), `{"project":"new"}`)

	got := svc.LatestPreparedSession()
	require.NotNil(t, got)
	assert.Equal(t, "2026-03-01_b", got.FolderName)
	assert.Equal(t, ".agency/chat/sessions/2026-03-01_b", got.FolderPath)
	assert.Equal(t, ".agency/chat/sessions/2026-03-01_b/briefing.md", got.BriefingPath)
	assert.Equal(t, "new", got.SessionJSON["project"])
}

func TestManifestByID(t *testing.T) {
	svc, root := newService(t)
	dir := filepath.Join(root, ".agency", "dev-servers")
	testutil.WriteFile(t, filepath.Join(dir, "site.json"), `{"host":"localhost","port":5173}`)

	m := svc.Manifest("site")
	require.NotNil(t, m)
	assert.Equal(t, "localhost", m.Host)
	require.NotNil(t, m.Port)
	assert.Equal(t, 5173, *m.Port)

	assert.Nil(t, svc.Manifest("missing"))
	assert.Nil(t, svc.Manifest("../site"))
}
