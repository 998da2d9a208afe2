package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/platter/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "platter",
	Short: "Find local businesses without a website and build them one",
	Long:  "Searches Google Places for businesses with no website, researches each one, generates two landing page variants with Claude, publishes them and drafts an outreach email.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal in production.
		_ = godotenv.Load()

		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
