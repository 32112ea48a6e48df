package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/nomledger/nomledger/app/services/node/handlers"
	"github.com/nomledger/nomledger/foundation/events"
	"github.com/nomledger/nomledger/foundation/ledger/chain"
	"github.com/nomledger/nomledger/foundation/ledger/storage/memory"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

const (
	accountA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	accountB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func newMux(t *testing.T) http.Handler {
	store, err := memory.New()
	if err != nil {
		t.Fatalf("\t%s\tShould construct the memory store: %v.", failed, err)
	}

	bus := events.NewBus()
	stream, err := events.NewStream(bus)
	if err != nil {
		t.Fatalf("\t%s\tShould construct the event stream: %v.", failed, err)
	}

	c, err := chain.New(chain.Config{
		Name:                 "test",
		Store:                store,
		Bus:                  bus,
		MaxBlockTransactions: 10,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould construct the chain: %v.", failed, err)
	}
	t.Cleanup(c.Shutdown)

	if err := c.Initialize(false); err != nil {
		t.Fatalf("\t%s\tShould initialize the chain: %v.", failed, err)
	}

	return handlers.Mux(handlers.Config{
		Log:    zap.NewNop().Sugar(),
		Chain:  c,
		Stream: stream,
	})
}

func post(t *testing.T, mux http.Handler, body any) *httptest.ResponseRecorder {
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("\t%s\tShould marshal the request body: %v.", failed, err)
	}

	r := httptest.NewRequest(http.MethodPost, "/v1/tx/submit", bytes.NewBuffer(data))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func TestSubmitTransaction(t *testing.T) {
	t.Log("Given the need to validate the transaction submit endpoint.")
	{
		t.Log("\tTest 0:\tWhen posting the admin CLI's transfer payload.")
		{
			mux := newMux(t)

			// The exact shape the admin submit command marshals.
			body := struct {
				Data        string `json:"data"`
				Origin      string `json:"origin,omitempty"`
				Destination string `json:"destination,omitempty"`
				Amount      uint64 `json:"amount,omitempty"`
			}{
				Data:        "pay",
				Origin:      accountA,
				Destination: accountB,
				Amount:      25,
			}

			w := post(t, mux, body)

			if w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest 0:\tShould accept the transfer: status %d body %s.", failed, w.Code, w.Body.String())
			}
			t.Logf("\t%s\tTest 0:\tShould accept the transfer.", success)

			var result struct {
				Accepted        bool   `json:"accepted"`
				IdentityHash    string `json:"identity_hash"`
				FingerprintHash string `json:"fingerprint_hash"`
			}
			if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould decode the result: %v.", failed, err)
			}

			if !result.Accepted || result.IdentityHash == "" {
				t.Fatalf("\t%s\tTest 0:\tShould report the transaction as accepted: %+v.", failed, result)
			}
			t.Logf("\t%s\tTest 0:\tShould report the transaction as accepted.", success)
		}

		t.Log("\tTest 1:\tWhen posting an amount without parties.")
		{
			mux := newMux(t)

			w := post(t, mux, map[string]any{"data": "pay", "amount": 5})

			if w.Code != http.StatusBadRequest {
				t.Fatalf("\t%s\tTest 1:\tShould reject an amount without parties: status %d.", failed, w.Code)
			}
			t.Logf("\t%s\tTest 1:\tShould reject an amount without parties.", success)
		}

		t.Log("\tTest 2:\tWhen posting falsy payloads.")
		{
			mux := newMux(t)

			for _, data := range []any{"", 0, false} {
				w := post(t, mux, map[string]any{"data": data})
				if w.Code != http.StatusOK {
					t.Fatalf("\t%s\tTest 2:\tShould accept payload %v: status %d body %s.", failed, data, w.Code, w.Body.String())
				}
			}
			t.Logf("\t%s\tTest 2:\tShould accept empty, zero, and false payloads.", success)
		}

		t.Log("\tTest 3:\tWhen posting a malformed account id.")
		{
			mux := newMux(t)

			w := post(t, mux, map[string]any{"data": "pay", "origin": "abc", "destination": accountB})

			if w.Code != http.StatusBadRequest {
				t.Fatalf("\t%s\tTest 3:\tShould reject a short account id: status %d.", failed, w.Code)
			}
			t.Logf("\t%s\tTest 3:\tShould reject a short account id.", success)
		}
	}
}
