package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/spf13/cobra"
)

var (
	txData   string
	txFrom   string
	txTo     string
	txAmount uint64
)

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVarP(&txData, "data", "d", "", "Payload for the transaction.")
	submitCmd.Flags().StringVarP(&txFrom, "from", "f", "", "Sending account, 64 hex characters.")
	submitCmd.Flags().StringVarP(&txTo, "to", "t", "", "Receiving account, 64 hex characters.")
	submitCmd.Flags().Uint64VarP(&txAmount, "amount", "a", 0, "Amount to transfer.")
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a transaction to the node",
	RunE:  submitRun,
}

func submitRun(cmd *cobra.Command, args []string) error {
	tx := struct {
		Data        string `json:"data"`
		Origin      string `json:"origin,omitempty"`
		Destination string `json:"destination,omitempty"`
		Amount      uint64 `json:"amount,omitempty"`
	}{
		Data:        txData,
		Origin:      txFrom,
		Destination: txTo,
		Amount:      txAmount,
	}

	data, err := json.Marshal(tx)
	if err != nil {
		return err
	}

	resp, err := http.Post(url+"/v1/tx/submit", "application/json", bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return printJSON(resp.Body)
}
