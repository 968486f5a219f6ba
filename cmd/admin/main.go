package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-assets/pkg/simpleassets"
	"github.com/tendant/simple-assets/pkg/simpleassets/config"
)

// serviceFactory builds the service a command operates on
type serviceFactory func(ctx context.Context) (simpleassets.Service, func(), error)

func loadService(ctx context.Context) (simpleassets.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.NewLogger(os.Stderr)
	return cfg.BuildService(ctx, logger)
}

func newRootCmd(factory serviceFactory) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "admin",
		Short: "Administration tool for simple-assets",
		Long: `Administration tool for simple-assets.

Configuration is read from the same environment variables as the server
(DATABASE_URL, STORAGE_URL, JWT_SECRET, ...). A .env file in the current
directory is loaded first; variables already set take precedence.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		createAdminCmd(factory),
		listAssetsCmd(factory),
		gcCmd(factory),
	)
	return rootCmd
}

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if err := newRootCmd(loadService).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
