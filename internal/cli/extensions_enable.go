package cli

import (
	"fmt"
	"os"

	"github.com/qwenlm/qwen-ext/internal/settings"
	"github.com/spf13/cobra"
)

var enableScope string

func init() {
	for _, c := range []*cobra.Command{enableCmd, disableCmd} {
		c.Flags().StringVar(&enableScope, "scope", string(settings.ScopeUser), "Where the change applies: user or workspace")
		extensionsCmd.AddCommand(c)
	}
}

var enableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable an extension",
	Long: `Enable an extension for the user (home directory and below) or for the
current workspace only.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetEnabled(cmd, args[0], false)
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable an extension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetEnabled(cmd, args[0], true)
	},
}

func runSetEnabled(cmd *cobra.Command, name string, disable bool) error {
	scope, err := settings.ParseScope(enableScope)
	if err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}
	m, err := newManager(cmd)
	if err != nil {
		return err
	}

	verb := "enabled"
	if disable {
		verb = "disabled"
		err = m.Disable(cmd.Context(), name, scope, cwd)
	} else {
		err = m.Enable(cmd.Context(), name, scope, cwd)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Extension %q %s for scope %q.\n", name, verb, scope)
	return nil
}
