package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nomledger/nomledger/foundation/ledger/storage"
	"github.com/nomledger/nomledger/foundation/ledger/storage/badger"
	"github.com/nomledger/nomledger/foundation/ledger/storage/disk"
)

var (
	initEngine  string
	initDataDir string
	initName    string
	initReset   bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVarP(&initEngine, "engine", "e", "badger", "Storage engine, badger or disk.")
	initCmd.Flags().StringVarP(&initDataDir, "datadir", "p", "zledger/data", "Directory holding the chain data.")
	initCmd.Flags().StringVarP(&initName, "name", "n", "main", "Name of the chain.")
	initCmd.Flags().BoolVarP(&initReset, "reset", "r", false, "Destroy existing chain data first.")
}

// initCmd operates directly on the chain's storage. The node must not be
// running against the same data directory.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize or reset a chain's storage",
	RunE:  initRun,
}

func initRun(cmd *cobra.Command, args []string) error {
	var store storage.Store
	var err error

	switch initEngine {
	case "badger":
		store, err = badger.New(initDataDir)
	case "disk":
		store, err = disk.New(initDataDir)
	default:
		return fmt.Errorf("unknown storage engine %q", initEngine)
	}
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.InitializeChain(initName, initReset); err != nil {
		return err
	}

	fmt.Printf("chain %q initialized in %s, reset[%t]\n", initName, initDataDir, initReset)
	return nil
}
