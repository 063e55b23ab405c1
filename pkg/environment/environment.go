package environment

import (
	"path/filepath"

	env "github.com/Netflix/go-env"
	"github.com/adrg/xdg"
	"github.com/spf13/afero"
)

// Environment holds ingestion settings loaded from the OS or defaults.
type Environment struct {
	BaseDir        string `env:"MESHVAULT_BASE_DIR"`
	TempDir        string `env:"MESHVAULT_TEMP_DIR"`
	MaxFileSize    int64  `env:"MESHVAULT_MAX_FILE_SIZE,default=52428800"`
	NonInteractive string `env:"NON_INTERACTIVE,default=0"`
	Debug          string `env:"DEBUG,default=0"`
	Extras         env.EnvSet
}

// DefaultBaseDir is where uploads land when MESHVAULT_BASE_DIR is unset.
func DefaultBaseDir() string {
	return filepath.Join(xdg.DataHome, "meshvault")
}

// NewEnvironment initializes an Environment from provided overrides or the
// process environment.
func NewEnvironment(fs afero.Fs, environ *Environment) (*Environment, error) {
	if environ != nil {
		resolved := &Environment{
			BaseDir:        environ.BaseDir,
			TempDir:        environ.TempDir,
			MaxFileSize:    environ.MaxFileSize,
			NonInteractive: "1",
			Debug:          environ.Debug,
		}
		applyDefaults(resolved)
		return resolved, nil
	}

	environment := &Environment{}
	extras, err := env.UnmarshalFromEnviron(environment)
	if err != nil {
		return nil, err
	}
	environment.Extras = extras
	applyDefaults(environment)

	return environment, nil
}

func applyDefaults(environment *Environment) {
	if environment.BaseDir == "" {
		environment.BaseDir = DefaultBaseDir()
	}
	if environment.TempDir == "" {
		environment.TempDir = filepath.Join(environment.BaseDir, "tmp")
	}
	if environment.MaxFileSize <= 0 {
		environment.MaxFileSize = 50 * 1024 * 1024
	}
}
