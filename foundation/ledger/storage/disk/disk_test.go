package disk_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nomledger/nomledger/foundation/ledger/storage"
	"github.com/nomledger/nomledger/foundation/ledger/storage/disk"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func commitBlock(t *testing.T, store *disk.Disk, name string, index uint64, row storage.BlockRow, recs []storage.TxRecord) {
	handle, err := store.OpenBlock(name, index)
	if err != nil {
		t.Fatalf("\t%s\tShould open block %d: %v.", failed, index, err)
	}
	defer handle.Close()

	if err := handle.Reset(); err != nil {
		t.Fatalf("\t%s\tShould reset block %d: %v.", failed, index, err)
	}

	for i, rec := range recs {
		if err := handle.AddTransaction(rec, i); err != nil {
			t.Fatalf("\t%s\tShould stage transaction %d: %v.", failed, i, err)
		}
	}

	if err := handle.Commit(row); err != nil {
		t.Fatalf("\t%s\tShould commit block %d: %v.", failed, index, err)
	}
}

func TestDisk(t *testing.T) {
	row := storage.BlockRow{
		Index:        0,
		Hash:         "00ab",
		PreviousHash: "0000",
		Length:       2,
		Entropy:      7,
		TimeStamp:    1700000000000,
	}
	recs := []storage.TxRecord{
		{Hash: "tx-one", Amount: 1},
		{Hash: "tx-two", Amount: 2},
	}

	t.Log("Given the need to validate the file based storage engine.")
	{
		t.Log("\tTest 0:\tWhen committing and reloading a block.")
		{
			store, err := disk.New(t.TempDir())
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould construct the engine: %v.", failed, err)
			}
			defer store.Close()

			if err := store.InitializeChain("main", true); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould initialize the chain: %v.", failed, err)
			}

			commitBlock(t, store, "main", 0, row, recs)
			t.Logf("\t%s\tTest 0:\tShould commit the staged block.", success)

			got, hashes, err := store.LoadBlock("main", 0)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould load the committed block: %v.", failed, err)
			}
			if got != row {
				t.Fatalf("\t%s\tTest 0:\tShould round-trip the row: got %+v.", failed, got)
			}
			t.Logf("\t%s\tTest 0:\tShould round-trip the row.", success)

			if len(hashes) != 2 || hashes[0] != "tx-one" || hashes[1] != "tx-two" {
				t.Fatalf("\t%s\tTest 0:\tShould preserve the transaction order: got %v.", failed, hashes)
			}
			t.Logf("\t%s\tTest 0:\tShould preserve the transaction order.", success)

			last, found, err := store.LastBlock("main")
			if err != nil || !found {
				t.Fatalf("\t%s\tTest 0:\tShould find the last block: found[%t] err[%v].", failed, found, err)
			}
			if last.Index != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould report index 0 as the last block: got %d.", failed, last.Index)
			}
			t.Logf("\t%s\tTest 0:\tShould report index 0 as the last block.", success)

			rec, err := store.FindTransactionByHash("main", "tx-two")
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould find a transaction by hash: %v.", failed, err)
			}
			if rec.BlockIndex != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould locate the transaction in block 0: got %d.", failed, rec.BlockIndex)
			}
			t.Logf("\t%s\tTest 0:\tShould find a transaction by hash.", success)
		}

		t.Log("\tTest 1:\tWhen resetting one chain among several.")
		{
			store, err := disk.New(t.TempDir())
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould construct the engine: %v.", failed, err)
			}
			defer store.Close()

			for _, name := range []string{"alpha", "beta"} {
				if err := store.InitializeChain(name, true); err != nil {
					t.Fatalf("\t%s\tTest 1:\tShould initialize chain %s: %v.", failed, name, err)
				}
				commitBlock(t, store, name, 0, row, recs[:1])
			}

			if err := store.InitializeChain("alpha", true); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould reset chain alpha: %v.", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould reset chain alpha.", success)

			if _, _, err := store.LoadBlock("alpha", 0); !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("\t%s\tTest 1:\tShould remove alpha's block files: %v.", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould remove alpha's block files.", success)

			if _, _, err := store.LoadBlock("beta", 0); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould leave beta's block files untouched: %v.", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould leave beta's block files untouched.", success)
		}

		t.Log("\tTest 2:\tWhen a commit fails before the block file is promoted.")
		{
			dir := t.TempDir()

			store, err := disk.New(dir)
			if err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould construct the engine: %v.", failed, err)
			}
			defer store.Close()

			if err := store.InitializeChain("main", true); err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould initialize the chain: %v.", failed, err)
			}

			// Occupying the index temp path with a directory makes the
			// index write fail mid-commit.
			if err := os.Mkdir(filepath.Join(dir, "main.txindex.json.tmp"), 0755); err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould occupy the index temp path: %v.", failed, err)
			}

			handle, err := store.OpenBlock("main", 0)
			if err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould open the block: %v.", failed, err)
			}
			defer handle.Close()

			if err := handle.AddTransaction(recs[0], 0); err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould stage a transaction: %v.", failed, err)
			}

			if err := handle.Commit(row); err == nil {
				t.Fatalf("\t%s\tTest 2:\tShould fail the commit.", failed)
			}
			t.Logf("\t%s\tTest 2:\tShould fail the commit.", success)

			if _, _, err := store.LoadBlock("main", 0); !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("\t%s\tTest 2:\tShould leave no committed block file behind: %v.", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould leave no committed block file behind.", success)

			if _, found, err := store.LastBlock("main"); err != nil || found {
				t.Fatalf("\t%s\tTest 2:\tShould report no last block: found[%t] err[%v].", failed, found, err)
			}
			t.Logf("\t%s\tTest 2:\tShould report no last block.", success)

			staged, err := handle.TransactionRecords()
			if err != nil || len(staged) != 1 {
				t.Fatalf("\t%s\tTest 2:\tShould keep the staged records for a retry: got %d err[%v].", failed, len(staged), err)
			}
			t.Logf("\t%s\tTest 2:\tShould keep the staged records for a retry.", success)
		}

		t.Log("\tTest 3:\tWhen staging transactions out of order.")
		{
			store, err := disk.New(t.TempDir())
			if err != nil {
				t.Fatalf("\t%s\tTest 3:\tShould construct the engine: %v.", failed, err)
			}
			defer store.Close()

			if err := store.InitializeChain("main", true); err != nil {
				t.Fatalf("\t%s\tTest 3:\tShould initialize the chain: %v.", failed, err)
			}

			handle, err := store.OpenBlock("main", 0)
			if err != nil {
				t.Fatalf("\t%s\tTest 3:\tShould open the block: %v.", failed, err)
			}
			defer handle.Close()

			if err := handle.AddTransaction(storage.TxRecord{Hash: "tx-gap"}, 3); err == nil {
				t.Fatalf("\t%s\tTest 3:\tShould reject a record at the wrong position.", failed)
			}
			t.Logf("\t%s\tTest 3:\tShould reject a record at the wrong position.", success)
		}
	}
}
