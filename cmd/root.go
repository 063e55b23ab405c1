package cmd

import (
	"context"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/meshvault/meshvault/pkg/environment"
	"github.com/meshvault/meshvault/pkg/logging"
	"github.com/meshvault/meshvault/pkg/version"
)

// NewRootCommand returns the root command with all subcommands attached.
func NewRootCommand(fs afero.Fs, ctx context.Context, env *environment.Environment, logger *logging.Logger) *cobra.Command {
	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:   "meshvault",
		Short: "Secure ingestion pipeline for untrusted 3D model files.",
		Long: `Meshvault validates, scans, and stores untrusted 3D model files (STL, OBJ,
3MF, AMF). Every upload passes structural validation, deep anomaly analysis,
and a content threat scan before landing in content-addressed storage.`,
		Version: version.Version,
	}

	rootCmd.AddCommand(NewInitCommand(fs, env, logger))
	rootCmd.AddCommand(NewScanCommand(fs, ctx, logger))
	rootCmd.AddCommand(NewUploadCommand(fs, ctx, env, logger))
	rootCmd.AddCommand(NewBreakersCommand(fs, env, logger))

	return rootCmd
}
