package gen

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

var MarkdownCmd = &cobra.Command{
	Use:   "markdown",
	Short: "Generate markdown docs for herald",
	Long: `Generates one markdown file per command, by default in the "docs"
	directory under the current directory.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := prepareDir(cmd, outDir, "docs/")
		if err != nil {
			return err
		}

		cmd.Root().DisableAutoGenTag = true

		fmt.Fprintln(cmd.OutOrStdout(), "Generating herald markdown docs in", dir, "...")

		if err := doc.GenMarkdownTree(cmd.Root(), dir); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Done.")

		return nil
	},
}
