package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/andresmejia3/neptune/internal/assets"
	"github.com/andresmejia3/neptune/internal/config"
	"github.com/spf13/cobra"
)

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Copy the bundled models into the staging directory",
	Long:  "Stages the face, emotion and liveness models once. An existing staging directory is left untouched; use 'reset --models' to force a fresh copy.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runStage(cmd.Context(), Env, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(stageCmd)
}

func runStage(ctx context.Context, env *config.Env, out io.Writer) error {
	logger := Logger
	if logger == nil {
		logger = config.Discard()
	}

	models, err := newMaterializer(env, logger).EnsureStaged(ctx)
	if err != nil {
		return err
	}
	if err := models.Verify(); err != nil {
		return fmt.Errorf("staging directory %s is incomplete: %w", models.Dir, err)
	}

	fmt.Fprintf(out, "📦 Models staged in %s\n", models.Dir)
	for _, name := range assets.DefaultNames {
		fmt.Fprintf(out, "   • %s\n", name)
	}
	return nil
}
