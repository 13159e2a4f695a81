// Package testutil builds throwaway panel workspaces for tests.
package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/grovetools/remote-panel/pkg/paths"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// NewWorkspace returns a workspace rooted in a fresh temporary directory.
func NewWorkspace(t *testing.T) paths.Workspace {
	t.Helper()
	return paths.NewWorkspace(t.TempDir())
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// WriteJSON marshals v into path.
func WriteJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	WriteFile(t, path, string(data))
}

// WriteScript writes an executable shell script and returns its path.
func WriteScript(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	return path
}

// WriteManifest stores a dev-server manifest named id.
func WriteManifest(t *testing.T, ws paths.Workspace, id, content string) {
	t.Helper()
	WriteFile(t, filepath.Join(ws.ManifestDir(), id+".json"), content)
}

// QuietLogger returns a logger entry that discards its output.
func QuietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// RandomString generates a random hex string of the specified length.
func RandomString(length int) string {
	b := make([]byte, length/2+1)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)[:length]
}
