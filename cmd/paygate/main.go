package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "paygate",
	Short: "Paygate — payment-gated access for metered tool servers",
	Long:  "Paygate sits in front of a metered tool server and gates every request behind a free introductory quota, pre-purchased frame credits, or a fresh on-chain USDC payment verified against the configured treasury.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional, defaults apply without one)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
