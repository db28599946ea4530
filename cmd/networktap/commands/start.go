package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/networktap/networktap/internal/logger"
	"github.com/networktap/networktap/pkg/config"
	"github.com/networktap/networktap/pkg/host"
	"github.com/networktap/networktap/pkg/server"
)

// defaultScriptDir is where the appliance image installs the helper
// scripts (switch_mode, update_check, ...).
const defaultScriptDir = "/usr/local/lib/networktap"

var (
	bindAddr  string
	logLevel  string
	logFormat string
	scriptDir string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the networktap daemon",
	Long: `Start the daemon in the foreground. The service unit runs this under
systemd; for debugging, run it directly with --log-level DEBUG.

Examples:
  # Start with the default config
  networktap start

  # Start with a custom config and verbose logging
  networktap start --config /tmp/test.conf --log-level DEBUG

  # Override the listen address from the config file
  networktap start --bind 127.0.0.1:8443`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&bindAddr, "bind", "",
		"Listen address override (default: \":WEB_PORT\" from config)")
	startCmd.Flags().StringVar(&logLevel, "log-level", "INFO",
		"Log level: DEBUG, INFO, WARN, ERROR")
	startCmd.Flags().StringVar(&logFormat, "log-format", "text",
		"Log format: text, json")
	startCmd.Flags().StringVar(&scriptDir, "scripts", defaultScriptDir,
		"Directory holding the appliance helper scripts")
}

func runStart(cmd *cobra.Command, args []string) error {
	if err := logger.Init(logger.Config{
		Level:  logLevel,
		Format: logFormat,
		Output: "stderr",
	}); err != nil {
		return &exitError{code: ExitConfig, err: err}
	}

	path := config.ResolvePath(configFile)
	store, err := config.Load(path)
	if err != nil {
		return &exitError{code: ExitConfig, err: fmt.Errorf("load config %s: %w", path, err)}
	}
	logger.Info("configuration loaded", "path", path)

	rt := server.New(store, host.NewSystem(scriptDir), server.Options{
		Version:  Version,
		BindAddr: bindAddr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- rt.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received", "signal", sig.String())
		cancel()

		if err := <-serverDone; err != nil {
			return &exitError{code: ExitRuntime, err: err}
		}
		if sig == syscall.SIGINT {
			return &exitError{code: ExitSignal}
		}

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			return &exitError{code: ExitRuntime, err: err}
		}
	}

	return nil
}
