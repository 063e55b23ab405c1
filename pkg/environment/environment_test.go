package environment_test

import (
	"path/filepath"
	"testing"

	"github.com/meshvault/meshvault/pkg/environment"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvironmentWithOverrides(t *testing.T) {
	fs := afero.NewMemMapFs()
	environ := &environment.Environment{
		BaseDir:     "/data/meshvault",
		MaxFileSize: 1024,
	}

	resolved, err := environment.NewEnvironment(fs, environ)
	require.NoError(t, err)

	assert.Equal(t, "/data/meshvault", resolved.BaseDir)
	assert.Equal(t, filepath.Join("/data/meshvault", "tmp"), resolved.TempDir)
	assert.Equal(t, int64(1024), resolved.MaxFileSize)
	assert.Equal(t, "1", resolved.NonInteractive)
}

func TestNewEnvironmentDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()

	resolved, err := environment.NewEnvironment(fs, &environment.Environment{})
	require.NoError(t, err)

	assert.Equal(t, environment.DefaultBaseDir(), resolved.BaseDir)
	assert.Equal(t, int64(50*1024*1024), resolved.MaxFileSize)
	assert.NotEmpty(t, resolved.TempDir)
}

func TestNewEnvironmentFromEnviron(t *testing.T) {
	fs := afero.NewMemMapFs()
	t.Setenv("MESHVAULT_BASE_DIR", "/srv/uploads")
	t.Setenv("MESHVAULT_MAX_FILE_SIZE", "2048")

	resolved, err := environment.NewEnvironment(fs, nil)
	require.NoError(t, err)

	assert.Equal(t, "/srv/uploads", resolved.BaseDir)
	assert.Equal(t, int64(2048), resolved.MaxFileSize)
}
