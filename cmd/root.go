package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/neptune/internal/config"
	"github.com/andresmejia3/neptune/internal/store"
	"github.com/andresmejia3/neptune/internal/utils"
	"github.com/spf13/cobra"
)

var (
	// Env is the environment configuration shared by subcommands
	Env *config.Env
	// Logger is the structured logger shared by subcommands
	Logger *slog.Logger
	// DB is opened on demand by subcommands that persist or read results
	DB *store.Store

	// Persistent flag values. Empty means "use the environment".
	dbURL      string
	engineType string
	modelsDir  string
)

// Version is the application version.
const Version = "0.1.0"

// defaultDBURL is used by list and reset when nothing else is configured.
const defaultDBURL = "postgres://localhost:5432/neptune"

var rootCmd = &cobra.Command{
	Use:     "neptune",
	Short:   "Face detection, emotion & liveness analysis for still images",
	Version: Version, // This enables the --version flag
	// Errors are reported by Execute in the error box
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		env, err := config.Load()
		if err != nil {
			return err
		}
		// Flags override the environment
		if engineType != "" {
			env.Engine = engineType
		}
		if modelsDir != "" {
			env.ModelsDir = modelsDir
		}
		if dbURL != "" {
			env.DatabaseURL = dbURL
		}

		Env = env
		Logger = config.NewLogger(env.Environment)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
			DB = nil
		}
	},
}

// openStore connects to the configured database. With required set, a missing
// URL falls back to the local default instead of skipping persistence.
func openStore(ctx context.Context, required bool) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	url := Env.DatabaseURL
	if url == "" {
		if !required {
			return nil, nil
		}
		url = defaultDBURL
	}

	s, err := store.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = s
	return s, nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		utils.Die("Command failed", err, nil)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (env: NEPTUNE_DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&engineType, "engine", "", "Engine backend: worker or mock (env: NEPTUNE_ENGINE)")
	rootCmd.PersistentFlags().StringVar(&modelsDir, "models-dir", "", "Root of the model staging directory (env: NEPTUNE_MODELS_DIR)")
}
