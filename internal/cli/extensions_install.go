package cli

import (
	"fmt"

	"github.com/qwenlm/qwen-ext/internal/extension"
	"github.com/spf13/cobra"
)

var (
	installType       string
	installRef        string
	installPlugin     string
	installAutoUpdate bool
)

func init() {
	installCmd.Flags().StringVar(&installType, "type", "", "Install type: local, git, github-release or marketplace (detected when empty)")
	installCmd.Flags().StringVar(&installRef, "ref", "", "Git ref or release tag to install")
	installCmd.Flags().StringVar(&installPlugin, "plugin", "", "Plugin to install from a Claude marketplace")
	installCmd.Flags().BoolVar(&installAutoUpdate, "auto-update", false, "Update automatically when the source changes")
	extensionsCmd.AddCommand(installCmd)
	extensionsCmd.AddCommand(linkCmd)
	extensionsCmd.AddCommand(uninstallCmd)
}

var installCmd = &cobra.Command{
	Use:   "install <source>",
	Short: "Install an extension",
	Long: `Install an extension from a local directory, a git repository, a GitHub
release or a Claude plugin marketplace.

Examples:
  qwen-ext extensions install ./my-extension
  qwen-ext extensions install https://github.com/owner/repo --ref v1.2.0
  qwen-ext extensions install https://github.com/owner/marketplace --plugin reviewer`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := resolveInstallType(args[0], installPlugin, installType)
		if err != nil {
			return err
		}
		if typ == extension.TypeLink {
			return fmt.Errorf("use the link command to link a local directory")
		}
		return runInstall(cmd, extension.InstallMetadata{
			Type:       typ,
			Source:     args[0],
			PluginName: installPlugin,
			AutoUpdate: installAutoUpdate,
			Ref:        installRef,
		})
	},
}

var linkCmd = &cobra.Command{
	Use:   "link <path>",
	Short: "Link a local extension directory",
	Long: `Install an extension by reference. The directory is not copied, so edits
take effect the next time extensions are loaded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstall(cmd, extension.InstallMetadata{Type: extension.TypeLink, Source: args[0]})
	},
}

func runInstall(cmd *cobra.Command, meta extension.InstallMetadata) error {
	m, err := newManager(cmd)
	if err != nil {
		return err
	}
	ext, err := m.Install(cmd.Context(), meta, extension.InstallOptions{})
	if err != nil {
		if extension.IsConsentDeclined(err) {
			fmt.Fprintln(cmd.OutOrStdout(), err.Error())
			return nil
		}
		return err
	}
	verb := "installed"
	if meta.Type == extension.TypeLink {
		verb = "linked"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Extension %q %s successfully and enabled.\n", ext.Name, verb)
	return nil
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <name|source>",
	Short: "Remove an installed extension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager(cmd)
		if err != nil {
			return err
		}
		if err := m.Uninstall(cmd.Context(), args[0], false); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Extension %q uninstalled.\n", args[0])
		return nil
	},
}
