package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashString(t *testing.T) {
	// Known sha-256 of "abc".
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		HashString("abc"))
	assert.NotEqual(t, HashString("a"), HashString("b"))
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	sum, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, HashString("abc"), sum)
}

func TestHashFileMissing(t *testing.T) {
	_, err := HashFile(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}
