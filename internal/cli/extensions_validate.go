package cli

import (
	"fmt"

	"github.com/qwenlm/qwen-ext/internal/manifest"
	"github.com/spf13/cobra"
)

func init() {
	extensionsCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Check an extension directory's manifest against the schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := manifest.ValidateDir(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if result.Valid {
			fmt.Fprintf(out, "✓ %s is valid.\n", manifest.FileName)
			return nil
		}
		for _, issue := range result.Issues {
			if issue.Path != "" {
				fmt.Fprintf(out, "  %s: %s\n", issue.Path, issue.Message)
			} else {
				fmt.Fprintf(out, "  %s\n", issue.Message)
			}
		}
		return fmt.Errorf("%s has %d schema violation(s)", manifest.FileName, len(result.Issues))
	},
}
