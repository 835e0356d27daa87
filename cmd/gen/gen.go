package gen

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	outDir string
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Several useful generators",
	Long:  `Several useful generators`,
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVar(&outDir, "dir", "", "the directory to write to, defaults to one per generator")

	// For bash-completion
	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}

	RootCmd.AddCommand(ManPagesCmd)
	RootCmd.AddCommand(MarkdownCmd)
}

// prepareDir returns dir, or fallback if dir is empty, with a trailing
// separator, creating it if necessary.
func prepareDir(cmd *cobra.Command, dir, fallback string) (string, error) {
	if dir == "" {
		dir = fallback
	}

	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}

	if _, err := os.Stat(dir); err != nil && os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "Directory", dir, "does not exist, creating...")
		if err := os.MkdirAll(dir, 0750); err != nil {
			return "", err
		}
	}

	return dir, nil
}
