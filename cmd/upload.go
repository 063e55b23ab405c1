package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/meshvault/meshvault/pkg/environment"
	"github.com/meshvault/meshvault/pkg/logging"
	"github.com/meshvault/meshvault/pkg/uploader"
	"github.com/meshvault/meshvault/pkg/validator"
)

// NewUploadCommand runs a file through the full ingestion pipeline.
func NewUploadCommand(fs afero.Fs, ctx context.Context, env *environment.Environment, logger *logging.Logger) *cobra.Command {
	var (
		userID int64
		tier   string
	)

	uploadCmd := &cobra.Command{
		Use:   "upload [file]",
		Short: "Validate, scan, and store a model file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]

			info, err := fs.Stat(source)
			if err != nil {
				return fmt.Errorf("cannot read %s: %w", source, err)
			}

			v, err := validator.New(fs, validator.DefaultConfig(), logger)
			if err != nil {
				return err
			}

			cfg := uploader.DefaultConfig(env.BaseDir)
			cfg.TempDir = env.TempDir
			cfg.MaxFileSize = env.MaxFileSize
			u, err := uploader.New(fs, cfg, v, logger)
			if err != nil {
				return err
			}

			// The pipeline consumes its input file, so hand it a copy.
			incoming, err := stageCopy(fs, env.TempDir, source)
			if err != nil {
				return fmt.Errorf("preparing upload: %w", err)
			}

			result := u.ProcessUpload(ctx, uploader.FileUpload{
				Name:     filepath.Base(source),
				TempPath: incoming,
				Size:     info.Size(),
			}, userID, tier)

			for _, warning := range result.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", warnStyle.Render("warning: "+warning))
			}
			if !result.Success {
				return fmt.Errorf("upload rejected: %s", result.Message)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n",
				passStyle.Render("STORED"), result.Metadata.StoredPath,
				humanize.IBytes(uint64(result.Metadata.FileSize)))
			fmt.Fprintf(cmd.OutOrStdout(), "  hash: %s\n", result.Metadata.FileHash)
			return nil
		},
	}

	uploadCmd.Flags().Int64VarP(&userID, "user", "u", 1, "Owning user ID")
	uploadCmd.Flags().StringVarP(&tier, "tier", "t", "regular", "User quota tier (regular, premium, business)")
	return uploadCmd
}

func stageCopy(fs afero.Fs, tempDir, source string) (string, error) {
	if err := fs.MkdirAll(tempDir, 0o700); err != nil {
		return "", err
	}

	data, err := afero.ReadFile(fs, source)
	if err != nil {
		return "", err
	}

	incoming := filepath.Join(tempDir, "incoming-"+uuid.NewString()+filepath.Ext(source))
	if err := afero.WriteFile(fs, incoming, data, 0o600); err != nil {
		return "", err
	}
	return incoming, nil
}
