package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.Records())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestAddDeduplicatesByURL(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)

	require.NoError(t, s.Add("https://example.com/a", "a.bin", "/tmp"))
	require.NoError(t, s.Add("https://example.com/a", "a-again.bin", "/tmp"))
	require.NoError(t, s.Add("https://example.com/b", "b.bin", "/tmp"))

	records := s.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "a.bin", records[0].Filename)
	assert.True(t, s.Contains("https://example.com/a"))
	assert.False(t, s.Contains("https://example.com/c"))
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Add("https://example.com/a", "a.bin", "/tmp"))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.True(t, reopened.Contains("https://example.com/a"))
}

func TestRemoveDeletesFileWhenAsked(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(file, []byte("payload"), 0644))

	s, err := Open(filepath.Join(dir, "history.json"))
	require.NoError(t, err)
	require.NoError(t, s.Add("https://example.com/a", "a.bin", dir))

	require.NoError(t, s.Remove("https://example.com/a", true))
	assert.False(t, s.Contains("https://example.com/a"))
	_, statErr := os.Stat(file)
	assert.True(t, os.IsNotExist(statErr))

	// Removing an absent URL is a no-op.
	require.NoError(t, s.Remove("https://example.com/a", false))
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "history.json"))
	require.NoError(t, err)

	require.NoError(t, s.Add("https://example.com/a", "a.bin", dir))
	assert.False(t, s.FileExists("https://example.com/a"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), []byte("x"), 0644))
	assert.True(t, s.FileExists("https://example.com/a"))
}

func TestCorruptedFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.Records())
}

func TestClear(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)
	require.NoError(t, s.Add("https://example.com/a", "a.bin", "/tmp"))
	require.NoError(t, s.Clear())
	assert.Empty(t, s.Records())
}
