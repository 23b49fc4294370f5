package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/intraday/strategy/rules"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "trader version %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "rules: %s\n", strings.Join(rules.Names(), ", "))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
