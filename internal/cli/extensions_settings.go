package cli

import (
	"fmt"

	"github.com/qwenlm/qwen-ext/internal/settings"
	"github.com/qwenlm/qwen-ext/internal/userdata"
	"github.com/spf13/cobra"
)

var (
	settingsScope  string
	settingsReveal bool
)

func init() {
	settingsListCmd.Flags().BoolVar(&settingsReveal, "reveal", false, "Show non-sensitive values unredacted")
	settingsSetCmd.Flags().StringVar(&settingsScope, "scope", string(settings.ScopeUser), "Where the value is stored: user or workspace")
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	extensionsCmd.AddCommand(settingsCmd)
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "View and change extension settings",
}

var settingsListCmd = &cobra.Command{
	Use:   "list <name>",
	Short: "List the settings of an extension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager(cmd)
		if err != nil {
			return err
		}
		resolved, err := m.ResolvedSettings(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(resolved) == 0 {
			fmt.Fprintf(out, "Extension %q declares no settings.\n", args[0])
			return nil
		}
		for _, s := range resolved {
			value := "(not set)"
			if s.Set {
				switch {
				case s.Sensitive:
					value = userdata.Redact(s.Value)
				case settingsReveal:
					value = s.Value
				default:
					value = userdata.RedactValue(s.EnvVar, s.Value)
				}
			}
			fmt.Fprintf(out, "%s (%s): %s\n", s.Name, s.EnvVar, value)
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <name> <setting>",
	Short: "Set one setting of an extension",
	Long: `Prompt for a new value of one setting. The setting may be given by name or
by its environment variable.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := settings.ParseScope(settingsScope)
		if err != nil {
			return err
		}
		m, err := newManager(cmd)
		if err != nil {
			return err
		}
		if err := m.UpdateSetting(cmd.Context(), args[0], args[1], scope, newRequester(cmd)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Setting %q of %q updated (%s scope).\n", args[1], args[0], scope)
		return nil
	},
}
