package testutil

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestTestEnvPath(t *testing.T) {
	env := NewTestEnv(t)

	path := env.Path("subdir", "file.txt")
	assert.True(t, filepath.IsAbs(path))
	assert.Contains(t, path, "subdir")
	assert.Contains(t, path, "file.txt")
}

func TestTestEnvWriteReadFile(t *testing.T) {
	env := NewTestEnv(t)

	env.WriteFileString("nested/dir/test.txt", "test content")
	assert.True(t, env.FileExists("nested/dir/test.txt"))
	assert.Equal(t, "test content", env.ReadFileString("nested/dir/test.txt"))
}

func TestTestEnvMkdirAll(t *testing.T) {
	env := NewTestEnv(t)

	env.MkdirAll("a/b/c")
	assert.True(t, env.FileExists("a/b/c"))
}

func TestTestEnvSymlink(t *testing.T) {
	env := NewTestEnv(t)

	env.WriteFileString("target.txt", "content")
	env.Symlink(env.Path("target.txt"), "links/link.txt")
	assert.Equal(t, "content", env.ReadFileString("links/link.txt"))
}

func TestSetViperValueRestoresPrevious(t *testing.T) {
	ResetViper(t)
	viper.Set("some.key", "original")

	t.Run("override", func(t *testing.T) {
		SetViperValue(t, "some.key", "changed")
		assert.Equal(t, "changed", viper.GetString("some.key"))
	})

	assert.Equal(t, "original", viper.GetString("some.key"))
}
