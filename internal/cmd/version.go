package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version information",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "adb version %q\n", versionInfo.Version)
		if versionExtended {
			_, _ = fmt.Fprintf(out, "commit: %s\n", versionInfo.Commit)
			_, _ = fmt.Fprintf(out, "built: %s\n", versionInfo.BuildDate)
			_, _ = fmt.Fprintf(out, "go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		}
		return nil
	},
}

var versionExtended bool

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionExtended, "extended", false, "Include commit, build date and Go runtime")
}
