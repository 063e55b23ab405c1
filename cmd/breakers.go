package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/meshvault/meshvault/pkg/breaker"
	"github.com/meshvault/meshvault/pkg/environment"
	"github.com/meshvault/meshvault/pkg/logging"
	"github.com/meshvault/meshvault/pkg/uploader"
	"github.com/meshvault/meshvault/pkg/validator"
)

// NewBreakersCommand prints the configured circuit breakers and their
// metrics. Breaker state is per-process, so outside a long-running ingest
// this reports the configured policies at their initial state.
func NewBreakersCommand(fs afero.Fs, env *environment.Environment, logger *logging.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "breakers",
		Short: "Show circuit breaker configuration and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := validator.New(fs, validator.DefaultConfig(), logger)
			if err != nil {
				return err
			}
			u, err := uploader.New(fs, uploader.DefaultConfig(env.BaseDir), v, logger)
			if err != nil {
				return err
			}

			snapshot := map[string]breaker.Metrics{
				"model-deep-analysis": v.DeepAnalysisBreaker().Metrics(),
				"threat-scanner":      u.ThreatScannerBreaker().Metrics(),
				"storage-system":      u.StorageBreaker().Metrics(),
			}

			encoded, err := json.MarshalIndent(snapshot, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}
}
