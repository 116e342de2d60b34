// Package cmd wires the taskmaster command line. The binary has a single
// behavior: load configuration, supervise, and serve the REPL until exit.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"taskmaster/config"
	"taskmaster/repl"
	"taskmaster/supervisor"
)

var (
	configPath   string
	settingsPath string
	debugFlag    bool
)

var rootCmd = &cobra.Command{
	Use:   "taskmaster -f <config>",
	Short: "Supervise a set of long-running programs",
	Long: `taskmaster launches the programs described in a configuration file,
keeps them in their intended run-state, and serves an interactive
control REPL on the controlling terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSupervisor,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "f", "", "program configuration file (required)")
	rootCmd.Flags().StringVarP(&settingsPath, "settings", "s", "", "supervisor settings file (taskmaster.ini)")
	rootCmd.Flags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.MarkFlagRequired("config")
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return err
	}
	if debugFlag {
		settings.Debug = true
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	sup, err := supervisor.New(settings, cfg)
	if err != nil {
		return err
	}
	defer sup.Close()

	sup.Start()

	// The REPL runs beside the core: shutdown can come from a typed exit,
	// EOF, or a signal. Wait returns when the core is done; a reader still
	// blocked on the terminal just goes down with the process.
	go repl.New(sup.Core(), cmd.InOrStdin(), cmd.OutOrStdout()).Run()
	sup.Wait()
	return nil
}

// Execute runs the CLI and maps failures onto the documented exit codes:
// 0 clean shutdown, 1 configuration parse error, 2 configuration semantics
// error, 3 fatal internal error.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "taskmaster: %v\n", err)

		var parseErr *config.ParseError
		if errors.As(err, &parseErr) {
			return 1
		}
		var validationErr *config.ValidationError
		if errors.As(err, &validationErr) {
			return 2
		}
		return 3
	}
	return 0
}
