package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/andresmejia3/neptune/internal/store"
	"github.com/andresmejia3/neptune/internal/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	listLimit int
	listRun   string
)

// runLister reads persisted runs (implemented by *store.Store).
type runLister interface {
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
	ListFaces(ctx context.Context, runID uuid.UUID) ([]types.FaceResult, error)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List processed images, or the faces of one run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		db, err := openStore(cmd.Context(), true)
		if err != nil {
			return err
		}
		if listRun != "" {
			return runListFaces(cmd.Context(), db, listRun, cmd.OutOrStdout())
		}
		return runList(cmd.Context(), db, listLimit, cmd.OutOrStdout())
	},
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "Maximum runs to show (0 for all)")
	listCmd.Flags().StringVar(&listRun, "run", "", "Show the faces recorded for this run ID")
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context, db runLister, limit int, out io.Writer) error {
	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No processed images found in database.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tIMAGE\tSIZE\tFACES\tELAPSED\tPROCESSED")
	fmt.Fprintln(w, "------\t-----\t----\t-----\t-------\t---------")

	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%d\t%s\t%s\n",
			r.ID, r.SourcePath, r.Width, r.Height, r.FaceCount, r.Elapsed,
			r.ProcessedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runListFaces(ctx context.Context, db runLister, rawID string, out io.Writer) error {
	runID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid run ID %q: %w", rawID, err)
	}

	faces, err := db.ListFaces(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to list faces: %w", err)
	}
	if len(faces) == 0 {
		fmt.Fprintf(out, "No faces recorded for run %s.\n", runID)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tBOX\tCONF\tEMOTION\tLIVENESS\tREASON")
	fmt.Fprintln(w, "-\t---\t----\t-------\t--------\t------")

	for i, f := range faces {
		fmt.Fprintf(w, "%d\t%d,%d %dx%d\t%.2f\t%s (%.2f)\t%s (%.2f)\t%s\n",
			i+1, f.Box.X, f.Box.Y, f.Box.Width, f.Box.Height, f.Box.Confidence,
			f.Emotion.Label, f.Emotion.Confidence,
			f.Liveness.Status, f.Liveness.Confidence, f.Liveness.Reason)
	}
	return w.Flush()
}
