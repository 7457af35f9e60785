package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfsd/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample nfsd configuration file holding every default.

By default, the configuration file is created at $XDG_CONFIG_HOME/nfsd/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  nfsd init

  # Initialize with custom path
  nfsd init --config /etc/nfsd/config.yaml

  # Force overwrite existing config
  nfsd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()

	var err error
	if configPath != "" {
		err = config.InitConfigToPath(configPath, initForce)
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Edit the shares section to export your data")
	fmt.Fprintln(out, "  2. Start the server with: nfsd serve")
	fmt.Fprintf(out, "  3. Or specify custom config: nfsd serve --config %s\n", configPath)
	return nil
}
