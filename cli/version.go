package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dashboard.sw360.org/version"
)

var versionVerbose bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build and dependency information",
	// Version needs no configuration; skip the root's config loading.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		info := version.GetBuildInfo()
		fmt.Printf("%s %s (go %s)\n", info.MainModule, info.MainVersion, info.GoVersion)
		if !versionVerbose {
			return
		}
		for _, dep := range info.Dependencies {
			if dep.Replace != "" {
				fmt.Printf("  %s %s => %s\n", dep.Path, dep.Version, dep.Replace)
				continue
			}
			fmt.Printf("  %s %s\n", dep.Path, dep.Version)
		}
	},
}

func init() {
	versionCmd.Flags().BoolVarP(&versionVerbose, "verbose", "v", false,
		"also list module dependencies")
}
