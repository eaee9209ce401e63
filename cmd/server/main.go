package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"horse-wager/internal/config"
	"horse-wager/internal/logging"
)

func main() {
	root := &cobra.Command{
		Use:          "horse-wager",
		Short:        "Horse-race wagering engine",
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSimulateCmd(),
		newTokenCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads .env (without overriding the environment) and sets up logging.
func loadConfig() (config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return cfg, err
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)
	return cfg, nil
}
