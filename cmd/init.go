package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/meshvault/meshvault/pkg/environment"
	"github.com/meshvault/meshvault/pkg/logging"
)

// NewInitCommand creates the storage directory layout under the configured
// base directory.
func NewInitCommand(fs afero.Fs, env *environment.Environment, logger *logging.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the meshvault storage layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			skipPrompts := env.NonInteractive == "1"

			if !skipPrompts {
				var confirm bool
				if err := huh.Run(
					huh.NewConfirm().
						Title(fmt.Sprintf("Initialize storage under %s?", env.BaseDir)).
						Description("This creates the models, temp, and contingency directories.").
						Value(&confirm),
				); err != nil {
					return fmt.Errorf("could not confirm initialization: %w", err)
				}
				if !confirm {
					return fmt.Errorf("aborted by user")
				}
			}

			dirs := []string{
				filepath.Join(env.BaseDir, "models"),
				env.TempDir,
				filepath.Join(env.BaseDir, "contingency_storage"),
			}
			for _, dir := range dirs {
				if err := fs.MkdirAll(dir, 0o750); err != nil {
					return fmt.Errorf("creating %s: %w", dir, err)
				}
				logger.Debug("created directory", "path", dir)
			}

			logger.Info("storage initialized", "baseDir", env.BaseDir)
			fmt.Fprintf(cmd.OutOrStdout(), "Storage initialized at %s\n", env.BaseDir)
			return nil
		},
	}
}
