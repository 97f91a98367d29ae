package dups

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/seshat/internal/config"
	"github.com/lepinkainen/seshat/internal/testutil"
)

func TestRunRequiresRoot(t *testing.T) {
	testutil.ResetViper(t)
	config.SetDefaults()

	cmd := &Cmd{NoProgress: true}
	err := cmd.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no directory to scan")
}

func TestRunRejectsMissingRoot(t *testing.T) {
	testutil.ResetViper(t)
	config.SetDefaults()

	env := testutil.NewTestEnv(t)
	cmd := &Cmd{Root: env.Path("gone"), NoProgress: true}
	err := cmd.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestRunWritesReportFile(t *testing.T) {
	testutil.ResetViper(t)
	config.SetDefaults()

	env := testutil.NewTestEnv(t)
	env.WriteFileString("library/a.epub", "same content")
	env.WriteFileString("library/b.epub", "same content")
	env.WriteFileString("library/unique.epub", "something else")

	cmd := &Cmd{
		Root:       env.Path("library"),
		Out:        env.Path("report.json"),
		Format:     "json",
		NoProgress: true,
	}
	require.NoError(t, cmd.Run())

	out := env.ReadFileString("report.json")
	assert.Contains(t, out, `"duplicate_groups"`)
	assert.Contains(t, out, "a.epub")
	assert.Contains(t, out, "b.epub")
	assert.NotContains(t, out, "unique.epub")
}

func TestRunDefaultsRootToLibraryPath(t *testing.T) {
	testutil.ResetViper(t)
	config.SetDefaults()

	env := testutil.NewTestEnv(t)
	env.WriteFileString("library/a.epub", "dup")
	env.WriteFileString("library/b.epub", "dup")
	viper.Set("library.path", env.Path("library"))

	cmd := &Cmd{
		Out:        env.Path("report.yaml"),
		Format:     "yaml",
		NoProgress: true,
	}
	require.NoError(t, cmd.Run())
	assert.Contains(t, env.ReadFileString("report.yaml"), "a.epub")
}

func TestRunRejectsInvalidFormat(t *testing.T) {
	testutil.ResetViper(t)
	config.SetDefaults()

	env := testutil.NewTestEnv(t)
	env.MkdirAll("library")

	cmd := &Cmd{Root: env.Path("library"), Format: "xml", NoProgress: true}
	err := cmd.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dups.format")
}

func TestApplyOverrides(t *testing.T) {
	testutil.ResetViper(t)
	config.SetDefaults()

	cmd := &Cmd{
		Ext:             []string{"epub", "cbz"},
		MinSize:         4096,
		IncludeSidecars: true,
		FollowSymlinks:  true,
		Workers:         8,
		Format:          "yaml",
	}
	cmd.applyOverrides()

	assert.Equal(t, []string{"epub", "cbz"}, viper.GetStringSlice("dups.extensions"))
	assert.Equal(t, int64(4096), viper.GetInt64("dups.min_size"))
	assert.True(t, viper.GetBool("dups.include_sidecars"))
	assert.True(t, viper.GetBool("dups.follow_symlinks"))
	assert.Equal(t, 8, viper.GetInt("dups.workers"))
	assert.Equal(t, "yaml", viper.GetString("dups.format"))
}

func TestApplyOverridesKeepsDefaults(t *testing.T) {
	testutil.ResetViper(t)
	config.SetDefaults()

	(&Cmd{}).applyOverrides()

	assert.Equal(t, config.DefaultDupExtensions(), viper.GetStringSlice("dups.extensions"))
	assert.Equal(t, "text", viper.GetString("dups.format"))
}
