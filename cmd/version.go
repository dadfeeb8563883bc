package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/otiai10/gosseract/v2"
	"github.com/spf13/cobra"
)

// Actual version can be specified in build command.
var version = "unknown"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of cv-ranker and of the linked tesseract",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("%s version: %s\n", app, buildVersion())
		if short, _ := cmd.Flags().GetBool("short"); short {
			return
		}
		fmt.Printf("tesseract version: %s\n", gosseract.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().Bool("short", false, "print only the cv-ranker version")
}

// buildVersion falls back to the module version for binaries installed with go install.
func buildVersion() string {
	if version != "unknown" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}
