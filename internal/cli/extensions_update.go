package cli

import (
	"fmt"

	"github.com/qwenlm/qwen-ext/internal/extension"
	"github.com/spf13/cobra"
)

var (
	updateAll   bool
	updateCheck bool
)

func init() {
	updateCmd.Flags().BoolVar(&updateAll, "all", false, "Update every extension with an available update")
	updateCmd.Flags().BoolVar(&updateCheck, "check", false, "Only report which extensions can be updated")
	extensionsCmd.AddCommand(updateCmd)
}

var updateCmd = &cobra.Command{
	Use:   "update [name]",
	Short: "Update extensions from their install source",
	Args: func(cmd *cobra.Command, args []string) error {
		if updateAll || updateCheck {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		states := m.CheckForAllExtensionUpdates(ctx, nil)
		if updateCheck {
			for _, ext := range m.LoadedExtensions() {
				fmt.Fprintf(out, "%s: %s\n", ext.Name, states[ext.Name])
			}
			return nil
		}

		if updateAll {
			infos, err := m.UpdateAll(ctx, nil)
			for _, info := range infos {
				printUpdated(cmd, info)
			}
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(out, "No extensions to update.")
			}
			return nil
		}

		name := args[0]
		ext := m.Get(name)
		if ext == nil {
			return fmt.Errorf("%s: %w", name, extension.ErrNotInstalled)
		}
		switch states[ext.Name] {
		case extension.StateUpToDate:
			fmt.Fprintf(out, "Extension %q is already up to date.\n", ext.Name)
			return nil
		case extension.StateNotUpdatable:
			return fmt.Errorf("extension %q was not installed from an updatable source", ext.Name)
		}

		info, err := m.UpdateExtension(ctx, ext.Name, nil)
		if err != nil {
			if extension.IsConsentDeclined(err) {
				fmt.Fprintln(out, err.Error())
				return nil
			}
			return err
		}
		if info != nil {
			printUpdated(cmd, info)
		}
		return nil
	},
}

func printUpdated(cmd *cobra.Command, info *extension.UpdateInfo) {
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Extension %q updated: %s → %s.\n", info.Name, info.OriginalVersion, info.UpdatedVersion)
}
