package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/neptune/internal/assets"
	"github.com/spf13/cobra"
)

var (
	resetDB     bool
	resetModels bool
	resetYes    bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Database, Staged Models)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetModels {
			resetDB = true
			resetModels = true
		}

		reader := bufio.NewReader(cmd.InOrStdin())

		if resetDB {
			if confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				db, err := openStore(cmd.Context(), true)
				if err != nil {
					return err
				}
				fmt.Println("🗑️  Clearing Database...")
				if err := db.Reset(cmd.Context()); err != nil {
					return fmt.Errorf("failed to reset database: %w", err)
				}
			}
		}

		if resetModels {
			if confirm(reader, "⚠️  Are you sure you want to delete the staged models?") {
				fmt.Println("🗑️  Clearing Staged Models...")
				removeDir(assets.DefaultDir(Env.ModelsDir))
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "database", false, "Clear PostgreSQL database")
	resetCmd.Flags().BoolVar(&resetModels, "models", false, "Clear the model staging directory")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not prompt for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	if resetYes {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	res, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return false
	}
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
