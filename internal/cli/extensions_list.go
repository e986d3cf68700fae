package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	extensionsCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List installed extensions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager(cmd)
		if err != nil {
			return err
		}
		exts := m.LoadedExtensions()
		out := cmd.OutOrStdout()
		if len(exts) == 0 {
			fmt.Fprintln(out, "No extensions installed.")
			return nil
		}
		for i, ext := range exts {
			if i > 0 {
				fmt.Fprintln(out)
			}
			printExtension(out, ext)
		}
		return nil
	},
}
