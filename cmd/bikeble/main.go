package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"unicode"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bikeble/pkg/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// app carries the state shared by every subcommand of one invocation
type app struct {
	configPath string
	logLevel   string
	verbose    bool
	tracePath  string

	cfg    *config.Config
	logger *logrus.Logger
}

// newRootCmd builds the command tree. Each call returns an independent tree.
func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "bikeble",
		Short: "Bluetooth Low Energy CLI for the e-bike controller",
		Long: `Bluetooth Low Energy (BLE) command-line tool for the e-bike controller that provides:

- Discovery of the Bike Info and Stats services with decoded values
- Live notification updates for battery, lights and assist mode
- Writes of lights and assist mode labels
- A CBOR trace of every attribute operation for offline analysis

The controller is found by its advertised name unless an address is given.`,
		Version:           fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		PersistentPreRunE: a.setup,
		// Silence Cobra's "Error:" prefix - main() prints clean errors
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&a.tracePath, "trace", "", "Write a CBOR operation trace to this file")

	rootCmd.AddCommand(
		newCatalogCmd(a),
		newInspectCmd(a),
		newReadCmd(a),
		newSetCmd(a),
		newWatchCmd(a),
		newTraceCmd(a),
	)
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.tracePath != "" {
		cfg.TraceFile = a.tracePath
	}
	a.cfg = cfg

	logger, err := configureLogger(cmd, "verbose", a.configPath != "", cfg)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("ERROR:"), FormatUserError(err))
		stop()
		os.Exit(1)
	}
}
