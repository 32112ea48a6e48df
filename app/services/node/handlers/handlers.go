// Package handlers binds the node's HTTP API to the chain.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dimfeld/httptreemux/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nomledger/nomledger/foundation/events"
	"github.com/nomledger/nomledger/foundation/ledger/chain"
	"github.com/nomledger/nomledger/foundation/ledger/storage"
	"github.com/nomledger/nomledger/foundation/ledger/transaction"
	"github.com/nomledger/nomledger/foundation/validate"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log    *zap.SugaredLogger
	Chain  *chain.Chain
	Stream *events.Stream

	// CORSOrigin, when set, enables cross-origin requests from that origin.
	CORSOrigin string
}

// Mux constructs a http.Handler with all application routes defined.
func Mux(cfg Config) http.Handler {
	h := handlers{
		log:    cfg.Log,
		chain:  cfg.Chain,
		stream: cfg.Stream,
		ws:     websocket.Upgrader{},
	}

	mux := httptreemux.NewContextMux()

	mux.GET("/v1/chain", h.status)
	mux.GET("/v1/chain/verify", h.verify)
	mux.GET("/v1/blocks/:index", h.blockByIndex)
	mux.GET("/v1/tx/:hash", h.transactionByHash)
	mux.POST("/v1/tx/submit", h.submitTransaction)
	mux.GET("/v1/events", h.events)

	if cfg.CORSOrigin != "" {
		return cors(cfg.CORSOrigin, mux)
	}

	return mux
}

// cors sets the response headers needed for Cross-Origin Resource Sharing.
func cors(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Accept, Content-Type, Content-Length, Accept-Encoding")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================

type handlers struct {
	log    *zap.SugaredLogger
	chain  *chain.Chain
	stream *events.Stream
	ws     websocket.Upgrader
}

// status returns the current shape of the chain.
func (h handlers) status(w http.ResponseWriter, r *http.Request) {
	workingIndex, err := h.chain.WorkingIndex()
	if err != nil {
		h.respondError(w, http.StatusServiceUnavailable, err)
		return
	}

	h.respond(w, http.StatusOK, chainStatus{
		Name:         h.chain.Name(),
		Length:       h.chain.Length(),
		WorkingIndex: workingIndex,
		PendingTxs:   h.chain.PendingTransactions(),
		QueuedBlocks: h.chain.QueuedBlocks(),
	})
}

// verify walks the committed chain and reports the first integrity
// violation, if any.
func (h handlers) verify(w http.ResponseWriter, r *http.Request) {
	if err := h.chain.Verify(r.Context()); err != nil {
		h.respondError(w, http.StatusConflict, err)
		return
	}

	h.respond(w, http.StatusOK, struct {
		Verified bool   `json:"verified"`
		Length   uint64 `json:"length"`
	}{true, h.chain.Length()})
}

// submitTransaction validates and adds a new transaction to the pool.
func (h handlers) submitTransaction(w http.ResponseWriter, r *http.Request) {
	var payload submitTx
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondError(w, http.StatusBadRequest, err)
		return
	}

	if err := validate.Check(payload); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse{
			Error:  "validation failed",
			Fields: validate.GetFieldErrors(err).Fields(),
		})
		return
	}

	tx, err := transaction.New(payload.Data, transaction.AccountID(payload.Origin), transaction.AccountID(payload.Destination), payload.Amount)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err)
		return
	}

	accepted, err := h.chain.Add(tx)
	if err != nil {
		h.log.Errorw("submit", "ERROR", err)
		h.respondError(w, http.StatusInternalServerError, err)
		return
	}

	result := submitResult{Accepted: accepted}
	if accepted {
		result.IdentityHash = tx.IdentityHash()
		result.FingerprintHash = tx.FingerprintHash()
	}

	h.respond(w, http.StatusOK, result)
}

// blockByIndex returns a committed block with its ordered transaction hashes.
func (h handlers) blockByIndex(w http.ResponseWriter, r *http.Request) {
	params := httptreemux.ContextParams(r.Context())

	index, err := strconv.ParseUint(params["index"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err)
		return
	}

	b, err := h.chain.LoadBlock(index)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, err)
		return
	}

	h.respond(w, http.StatusOK, blockInfo{
		Index:        b.Index(),
		Hash:         b.Hash(),
		PreviousHash: b.PreviousHash(),
		Length:       b.Length(),
		Entropy:      b.Entropy(),
		TimeStamp:    b.TimeStamp(),
		Transactions: b.TransactionHashes(),
	})
}

// transactionByHash resolves a transaction hash to its owning block.
func (h handlers) transactionByHash(w http.ResponseWriter, r *http.Request) {
	params := httptreemux.ContextParams(r.Context())

	rec, err := h.chain.FindTransactionByHash(params["hash"])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, err)
		return
	}

	h.respond(w, http.StatusOK, rec)
}

// events handles a web socket to provide ledger events to a client.
func (h handlers) events(w http.ResponseWriter, r *http.Request) {
	h.ws.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.ws.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorw("events", "ERROR", err)
		return
	}
	defer c.Close()

	id := uuid.NewString()
	ch := h.stream.Acquire(id)
	defer h.stream.Release(id)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

// =============================================================================

func (h handlers) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Errorw("respond", "ERROR", err)
	}
}

func (h handlers) respondError(w http.ResponseWriter, status int, err error) {
	h.respond(w, status, errorResponse{Error: err.Error()})
}
