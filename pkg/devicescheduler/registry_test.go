package devicescheduler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestRegistry_LoadParsesRecordsAndDerivesMaxQuota(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "resource-config.txt", "2\n"+
		"alpha 0.3 0.6 40 1000\n"+
		"beta 0.2 0.5 30 2000\n")

	r := NewRegistry(250, 100, 1000)
	require.NoError(t, r.Load(path))

	alpha := r.Get("alpha")
	require.NotNil(t, alpha)
	assert.Equal(t, 0.3, alpha.MinFraction)
	assert.Equal(t, 0.6, alpha.MaxFraction)
	assert.Equal(t, 40, alpha.SMPartition)
	assert.EqualValues(t, 1000, alpha.MemLimit)
	assert.InDelta(t, 300.0, alpha.MaxQuota, 1e-9) // 0.3 * 1000

	beta := r.Get("beta")
	require.NotNil(t, beta)
	assert.Equal(t, 30, beta.SMPartition)
}

func TestRegistry_ReloadReplacesEntryAndResetsMemUsed(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "resource-config.txt", "1\nalpha 0.3 0.6 40 1000\n")

	r := NewRegistry(250, 100, 1000)
	require.NoError(t, r.Load(path))

	alpha := r.Get("alpha")
	require.True(t, alpha.TryAllocate(500))
	assert.EqualValues(t, 500, alpha.MemUsed)

	// reload with the same content: documented policy is that mem_used
	// resets to 0 because the whole ClientInfo is replaced.
	require.NoError(t, r.Load(path))
	reloaded := r.Get("alpha")
	assert.EqualValues(t, 0, reloaded.MemUsed)
}

func TestRegistry_LoadUnknownFileErrors(t *testing.T) {
	r := NewRegistry(250, 100, 1000)
	err := r.Load(filepath.Join(t.TempDir(), "does-not-exist.txt"))
	assert.Error(t, err)
}

func TestRegistry_GetUnknownClientReturnsNil(t *testing.T) {
	r := NewRegistry(250, 100, 1000)
	assert.Nil(t, r.Get("nope"))
}
