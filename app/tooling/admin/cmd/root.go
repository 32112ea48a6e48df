// Package cmd contains the admin commands for talking to a node.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var url string

func init() {
	rootCmd.PersistentFlags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
}

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Admin operations against a ledger node",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// get performs a GET against the node and pretty prints the JSON response.
func get(path string) error {
	resp, err := http.Get(url + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return printJSON(resp.Body)
}

// printJSON re-indents the response body for the terminal.
func printJSON(r io.Reader) error {
	var v any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}
