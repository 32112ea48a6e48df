package hashing_test

import (
	"testing"

	"github.com/nomledger/nomledger/foundation/ledger/hashing"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func TestHash(t *testing.T) {
	type payload struct {
		Data   string `json:"data"`
		Amount uint64 `json:"amount"`
	}

	t.Log("Given the need to validate content hashing.")
	{
		t.Log("\tTest 0:\tWhen hashing the same value twice.")
		{
			v := payload{Data: "transfer", Amount: 100}

			h1 := hashing.Hash(v)
			h2 := hashing.Hash(v)

			if h1 != h2 {
				t.Fatalf("\t%s\tTest 0:\tShould produce the same digest for equal values: %s vs %s", failed, h1, h2)
			}
			t.Logf("\t%s\tTest 0:\tShould produce the same digest for equal values.", success)

			if len(h1) != 64 {
				t.Fatalf("\t%s\tTest 0:\tShould produce a 64 character digest: got %d.", failed, len(h1))
			}
			t.Logf("\t%s\tTest 0:\tShould produce a 64 character digest.", success)
		}

		t.Log("\tTest 1:\tWhen hashing different values.")
		{
			h1 := hashing.Hash(payload{Data: "transfer", Amount: 100})
			h2 := hashing.Hash(payload{Data: "transfer", Amount: 101})

			if h1 == h2 {
				t.Fatalf("\t%s\tTest 1:\tShould produce different digests for different values.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould produce different digests for different values.", success)
		}
	}
}

func TestComposite(t *testing.T) {
	t.Log("Given the need to validate composite digests over ordered parts.")
	{
		t.Log("\tTest 0:\tWhen the same parts are hashed in the same order.")
		{
			h1 := hashing.Composite(uint64(4), "prev", 2, []string{"a", "b"})
			h2 := hashing.Composite(uint64(4), "prev", 2, []string{"a", "b"})

			if h1 != h2 {
				t.Fatalf("\t%s\tTest 0:\tShould produce the same digest.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould produce the same digest.", success)
		}

		t.Log("\tTest 1:\tWhen the parts are reordered.")
		{
			h1 := hashing.Composite("a", "b")
			h2 := hashing.Composite("b", "a")

			if h1 == h2 {
				t.Fatalf("\t%s\tTest 1:\tShould produce a different digest when order changes.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould produce a different digest when order changes.", success)
		}
	}
}
