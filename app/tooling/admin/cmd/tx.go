package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(txCmd)
}

var txCmd = &cobra.Command{
	Use:   "tx [hash]",
	Short: "Locate a committed transaction by its identity hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("a transaction hash is required")
		}
		return get("/v1/tx/" + args[0])
	},
}
