package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rooftop-index/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "rooftop",
	Short: "Flat-roof extraction from elevation rasters and building footprints",
	Long:  "Derives slope and height from a DSM and ground model, classifies flat-roofed buildings, splits them into flat-area polygons and computes per-polygon features.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
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
