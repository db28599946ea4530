package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/networktap/networktap/pkg/auth"
	"github.com/networktap/networktap/pkg/config"
)

var passwdApply bool

var passwdCmd = &cobra.Command{
	Use:   "passwd <password>",
	Short: "Derive web credentials for the config file",
	Long: `Derive the salted password hash pair for the given password. By
default it prints the WEB_PASS_SALT and WEB_PASS_HASH lines for manual
editing; with --apply it writes them into the config file directly.

The API's POST /config/password endpoint does the same thing over HTTP;
this command is the recovery path when the current password is lost.`,
	Args: cobra.ExactArgs(1),
	RunE: runPasswd,
}

func init() {
	passwdCmd.Flags().BoolVar(&passwdApply, "apply", false,
		"Write the credentials into the config file")
}

func runPasswd(cmd *cobra.Command, args []string) error {
	salt, hash, err := auth.HashPassword(args[0])
	if err != nil {
		return &exitError{code: ExitRuntime, err: err}
	}

	if !passwdApply {
		fmt.Printf("%s=%s\n%s=%s\n", config.KeyWebPassSalt, salt, config.KeyWebPassHash, hash)
		return nil
	}

	path := config.ResolvePath(configFile)
	store, err := config.Load(path)
	if err != nil {
		return &exitError{code: ExitConfig, err: fmt.Errorf("load config %s: %w", path, err)}
	}
	if _, err := store.Update(map[string]string{
		config.KeyWebPassSalt: salt,
		config.KeyWebPassHash: hash,
	}); err != nil {
		return &exitError{code: ExitConfig, err: err}
	}
	fmt.Printf("Credentials updated in %s\n", path)
	return nil
}
