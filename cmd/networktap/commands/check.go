package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/networktap/networktap/pkg/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config file without starting the daemon",
	Long: `Load and validate the configuration, then exit. Useful as a
pre-start check in the service unit or after hand-editing the file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolvePath(configFile)
		store, err := config.Load(path)
		if err != nil {
			return &exitError{code: ExitConfig, err: fmt.Errorf("%s: %w", path, err)}
		}
		snap := store.Get()
		fmt.Printf("%s: OK (mode=%s, capture_dir=%s)\n", path, snap.Mode, snap.CaptureDir)
		return nil
	},
}
