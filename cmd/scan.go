package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/meshvault/meshvault/pkg/logging"
	"github.com/meshvault/meshvault/pkg/validator"
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// NewScanCommand validates model files in place without storing them.
func NewScanCommand(fs afero.Fs, ctx context.Context, logger *logging.Logger) *cobra.Command {
	var deep bool

	scanCmd := &cobra.Command{
		Use:   "scan [file...]",
		Short: "Validate model files without uploading them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := validator.New(fs, validator.DefaultConfig(), logger)
			if err != nil {
				return err
			}

			failures := 0
			for _, path := range args {
				result := v.ValidateStructure(path)
				if deep && result.IsValid() {
					result.Merge(v.PerformDeepStructuralAnalysis(ctx, path))
				}

				if result.IsValid() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", passStyle.Render("PASS"), path)
				} else {
					failures++
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", failStyle.Render("FAIL"), path)
					for _, msg := range result.Errors() {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", msg)
					}
				}
				for _, msg := range result.Warnings() {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", warnStyle.Render("warning: "+msg))
				}
			}

			if failures > 0 {
				return fmt.Errorf("%d of %d files failed validation", failures, len(args))
			}
			return nil
		},
	}

	scanCmd.Flags().BoolVarP(&deep, "deep", "d", false, "Run deep structural analysis in addition to grammar validation")
	return scanCmd
}
