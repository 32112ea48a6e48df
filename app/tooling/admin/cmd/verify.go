package cmd

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash linkage of the committed chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		return get("/v1/chain/verify")
	},
}
