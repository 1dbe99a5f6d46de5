// Package main is the entry point for the custody ledger server.
// It provides a REST API for forensic cases, evidence intake, the
// hash-linked chain of custody, analysis results and the audit log.
//
// Commands:
//   - serve           run the HTTP API and the integrity worker
//   - migrate         apply the embedded schema and exit
//   - verify-custody  recompute every custody chain and report breaks
package main

import (
	"fmt"
	"os"

	"github.com/caseledger/custody-server/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "custody-server",
		Short:         "Case and evidence chain-of-custody ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCommand(), migrateCommand(), verifyCommand())
	return root
}

// setup loads configuration and builds the logger shared by every command.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	var logger *zap.Logger
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}
