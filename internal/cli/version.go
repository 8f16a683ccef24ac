package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thetolkienblack/home-lab-automation/pkg/version"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Print the version, commit hash, and build date of dbmigrate.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("dbmigrate")
		fmt.Println(version.Info())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
