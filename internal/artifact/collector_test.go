package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o775))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCollectCopiesMatches(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "app-debug.apk"), "apk bytes")
	writeFile(t, filepath.Join(src, "app-release.apk"), "more bytes")
	writeFile(t, filepath.Join(src, "notes.txt"), "ignored")

	dest := filepath.Join(t.TempDir(), "apk")
	arts, err := Collect(filepath.Join(src, "*.apk"), dest, Options{})
	require.NoError(t, err)
	require.Len(t, arts, 2)

	for _, a := range arts {
		assert.FileExists(t, a.Path)
		assert.Equal(t, dest, filepath.Dir(a.Path))
		assert.Greater(t, a.Size, int64(0))
		assert.Empty(t, a.Fingerprint)
	}
}

func TestCollectFingerprints(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "report.html"), "<html/>")

	arts, err := Collect(filepath.Join(src, "*.html"), t.TempDir(), Options{Fingerprint: true})
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Len(t, arts[0].Fingerprint, 64, "sha-256 hex digest")
}

func TestCollectNoMatchesStrict(t *testing.T) {
	_, err := Collect(filepath.Join(t.TempDir(), "*.apk"), t.TempDir(), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoArtifactsFound)
}

func TestCollectNoMatchesAllowEmpty(t *testing.T) {
	arts, err := Collect(filepath.Join(t.TempDir(), "*.apk"), t.TempDir(), Options{AllowEmpty: true})
	require.NoError(t, err)
	assert.Empty(t, arts)
}

func TestCollectSkipsDirectories(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "reports", "sub"), 0o775))
	writeFile(t, filepath.Join(src, "reports", "index.html"), "<html/>")

	arts, err := Collect(filepath.Join(src, "reports", "*"), t.TempDir(), Options{})
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, "index.html", filepath.Base(arts[0].Path))
}

func TestCollectCreatesDestDir(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "a")

	dest := filepath.Join(t.TempDir(), "deep", "nested", "dest")
	_, err := Collect(filepath.Join(src, "*.txt"), dest, Options{})
	require.NoError(t, err)
	assert.DirExists(t, dest)
}
