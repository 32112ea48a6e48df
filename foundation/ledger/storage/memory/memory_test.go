package memory_test

import (
	"testing"

	"github.com/nomledger/nomledger/foundation/ledger/storage"
	"github.com/nomledger/nomledger/foundation/ledger/storage/memory"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func TestUniqueness(t *testing.T) {
	t.Log("Given the need to validate commit time uniqueness checks.")
	{
		t.Log("\tTest 0:\tWhen committing blocks that collide.")
		{
			store, err := memory.New()
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould construct the engine: %v.", failed, err)
			}
			defer store.Close()

			if err := store.InitializeChain("main", true); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould initialize the chain: %v.", failed, err)
			}

			h0, err := store.OpenBlock("main", 0)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould open block 0: %v.", failed, err)
			}
			if err := h0.AddTransaction(storage.TxRecord{Hash: "tx-a"}, 0); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould stage a transaction: %v.", failed, err)
			}
			if err := h0.Commit(storage.BlockRow{Index: 0, Hash: "h0", PreviousHash: "zero", Length: 1}); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould commit block 0: %v.", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould commit block 0.", success)

			if err := h0.Commit(storage.BlockRow{Index: 0, Hash: "h0b", PreviousHash: "zero2"}); err == nil {
				t.Fatalf("\t%s\tTest 0:\tShould reject a second commit at the same index.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould reject a second commit at the same index.", success)

			h1, err := store.OpenBlock("main", 1)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould open block 1: %v.", failed, err)
			}

			if err := h1.Commit(storage.BlockRow{Index: 1, Hash: "h0", PreviousHash: "h0"}); err == nil {
				t.Fatalf("\t%s\tTest 0:\tShould reject a duplicate block hash.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould reject a duplicate block hash.", success)

			if err := h1.AddTransaction(storage.TxRecord{Hash: "tx-a"}, 0); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould stage the colliding transaction: %v.", failed, err)
			}
			if err := h1.Commit(storage.BlockRow{Index: 1, Hash: "h1", PreviousHash: "h0", Length: 1}); err == nil {
				t.Fatalf("\t%s\tTest 0:\tShould reject a transaction hash already indexed.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould reject a transaction hash already indexed.", success)
		}
	}
}
