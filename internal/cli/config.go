package cli

import (
	"fmt"

	"github.com/qwenlm/qwen-ext/internal/config"
	"github.com/spf13/cobra"
)

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage user settings",
	Long: `Read and write settings stored at ~/.qwen/config.yaml.

Keys:
  extensions                     comma-separated list of extensions to force-enable ("none" disables all)
  folder_trust.enabled           require trusted workspaces for installs
  folder_trust.trusted_folders   comma-separated list of trusted folders
  github_token                   token for GitHub release lookups`,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.Set(key, value); err != nil {
			return fmt.Errorf("setting config key %q: %w", key, err)
		}
		shown := value
		if key == config.KeyGitHubToken {
			shown = "<redacted>"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, shown)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), config.Get(args[0]))
		return nil
	},
}
