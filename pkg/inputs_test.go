package astropix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, nil, 0644))
	return path
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	a := touch(t, filepath.Join(dir, "a.log"))
	b := touch(t, filepath.Join(dir, "night1", "b.bin"))
	c := touch(t, filepath.Join(dir, "night1", "deep", "c.apx.xz"))
	touch(t, filepath.Join(dir, "notes.txt"))
	d := touch(t, filepath.Join(dir, "d.log.xz"))

	inputs, err := ExpandInputs([]string{dir})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b, c, d}, inputs)

	inputs, err = ExpandInputs([]string{filepath.Join(dir, "**", "*.bin"), a, filepath.Join(dir, "*.log"), filepath.Join(dir, "none*")})
	require.NoError(t, err)
	assert.Equal(t, []string{b, a}, inputs)

	_, err = ExpandInputs([]string{filepath.Join(dir, "[")})
	assert.Error(t, err)
}
