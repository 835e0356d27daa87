package gen

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/herald/internal/meta"
)

var ManPagesCmd = &cobra.Command{
	Use:   "man",
	Short: "Generate man pages for herald",
	Long: `This command automatically generates up-to-date man pages of the
	herald gateway.  By default, it creates the man page files
	in the "man" directory under the current directory.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := prepareDir(cmd, outDir, "man/")
		if err != nil {
			return err
		}

		header := &doc.GenManHeader{
			Section: "1",
			Manual:  "Herald Manual",
			Source:  meta.GetInfo().String(),
		}

		cmd.Root().DisableAutoGenTag = true

		fmt.Fprintln(cmd.OutOrStdout(), "Generating herald man pages in", dir, "...")

		if err := doc.GenManTree(cmd.Root(), header, dir); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Done.")

		return nil
	},
}
