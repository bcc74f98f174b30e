package pathutil

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindConfigPath(t *testing.T) {
	dir, err := ioutil.TempDir("", "pathutil")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck

	existing := filepath.Join(dir, "sim.json")
	require.NoError(t, AtomicWriteFile(existing, []byte("{}")))

	defaults := ConfigPaths{
		WorkingDirLoc: filepath.Join(dir, "missing.json"),
		HomeLoc:       existing,
	}

	path, err := FindConfigPath([]string{"a.json"}, 0, "", defaults)
	require.NoError(t, err)
	assert.Equal(t, "a.json", path)

	const env = "RELCHAN_PATHUTIL_TEST"
	require.NoError(t, os.Setenv(env, "b.json"))
	path, err = FindConfigPath(nil, 0, env, defaults)
	require.NoError(t, err)
	assert.Equal(t, "b.json", path)
	require.NoError(t, os.Unsetenv(env))

	path, err = FindConfigPath(nil, -1, env, defaults)
	require.NoError(t, err)
	assert.Equal(t, existing, path)

	_, err = FindConfigPath(nil, -1, "", ConfigPaths{WorkingDirLoc: filepath.Join(dir, "missing.json")})
	assert.Equal(t, ErrConfigNotFound, errors.Cause(err))
}

func TestAtomicWriteFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "pathutil")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck

	name := filepath.Join(dir, "out.json")
	require.NoError(t, AtomicWriteFile(name, []byte("one")))
	require.NoError(t, AtomicWriteFile(name, []byte("two")))

	b, err := ioutil.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "two", string(b))

	files, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestEnsureDir(t *testing.T) {
	dir, err := ioutil.TempDir("", "pathutil")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck

	abs, err := EnsureDir(filepath.Join(dir, "a", "b"))
	require.NoError(t, err)
	info, err := os.Stat(abs)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExpand(t *testing.T) {
	home, err := HomeDir()
	require.NoError(t, err)
	path, err := Expand("~/x")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x"), path)
}
