package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glazyr/paygate"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the paygate version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("paygate v%s\n", paygate.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
