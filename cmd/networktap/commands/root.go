// Package commands implements the networktap CLI.
package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Exit codes. Start returns these through exitError so scripts and the
// service unit can tell configuration problems from runtime failures.
const (
	ExitOK      = 0
	ExitConfig  = 1
	ExitRuntime = 2
	ExitSignal  = 130
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "networktap",
	Short: "Passive network monitoring appliance daemon",
	Long: `networktap runs the monitoring appliance: it supervises the packet
capture and IDS services, follows their logs, enforces disk retention,
switches between span and bridge wiring, and serves the management API.

Configuration lives in a flat KEY=VALUE file, /etc/networktap.conf by
default; override with --config or the NETWORKTAP_CONFIG environment
variable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to config file (default: /etc/networktap.conf)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(passwdCmd)
	rootCmd.AddCommand(checkCmd)
}

// exitError carries a process exit code up through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the CLI and exits the process with the proper code.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var xe *exitError
	if errors.As(err, &xe) {
		if xe.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", xe.err)
		}
		os.Exit(xe.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(ExitRuntime)
}
