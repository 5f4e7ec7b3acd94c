package filesystem

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

func TestManager_FileSize(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	size, exists, err := m.FileSize(filepath.Join(dir, "missing.bin"))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, size)

	path := filepath.Join(dir, "a.zip")
	require.NoError(t, os.WriteFile(path, make([]byte, 50), 0644))

	size, exists, err = m.FileSize(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int64(50), size)

	_, _, err = m.FileSize(dir)
	assert.Error(t, err, "directories are not valid destinations")
}

func TestNewManager_EmptyRoot(t *testing.T) {
	_, err := NewManager("")
	assert.ErrorIs(t, err, domain.ErrNoDestination)
}

func TestManager_WriteFile(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManagerWithBufferSize(dir, 4)
	require.NoError(t, err)

	path := filepath.Join(dir, "nested", "out.txt")
	var sizes []int64
	n, err := m.WriteFile(path, strings.NewReader("hello"), false, func(s int64) { sizes = append(sizes, s) })
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, int64(5), sizes[len(sizes)-1])

	n, err = m.WriteFile(path, strings.NewReader(" world"), true, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	n, err = m.WriteFile(path, strings.NewReader("x"), false, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "non-append mode truncates")
}

func TestManager_DeleteFile(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	path := filepath.Join(dir, "a.zip")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.NoError(t, m.DeleteFile(path))
	require.NoError(t, m.DeleteFile(path), "deleting a missing file is not an error")

	_, exists, _ := m.FileSize(path)
	assert.False(t, exists)
}

func TestManager_GetDiskUsage(t *testing.T) {
	if os.PathSeparator == '\\' {
		t.Skip("unsupported on windows")
	}
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	usage, err := m.GetDiskUsage()
	require.NoError(t, err)
	assert.True(t, usage.Total >= usage.Free)
}
