package handlers

// submitTx is the payload for submitting a new transaction. The data field
// is opaque; falsy payloads like "" or 0 are legitimate.
type submitTx struct {
	Data        any    `json:"data"`
	Origin      string `json:"origin" validate:"omitempty,len=64,hexadecimal"`
	Destination string `json:"destination" validate:"omitempty,len=64,hexadecimal"`
	Amount      uint64 `json:"amount"`
}

// submitResult reports the outcome of a transaction submission.
type submitResult struct {
	Accepted        bool   `json:"accepted"`
	IdentityHash    string `json:"identity_hash,omitempty"`
	FingerprintHash string `json:"fingerprint_hash,omitempty"`
}

// chainStatus reports the current shape of the chain.
type chainStatus struct {
	Name         string `json:"name"`
	Length       uint64 `json:"length"`
	WorkingIndex uint64 `json:"working_index"`
	PendingTxs   int    `json:"pending_transactions"`
	QueuedBlocks int    `json:"queued_blocks"`
}

// blockInfo is the representation of a committed block.
type blockInfo struct {
	Index        uint64   `json:"index"`
	Hash         string   `json:"hash"`
	PreviousHash string   `json:"previous_hash"`
	Length       int      `json:"length"`
	Entropy      uint64   `json:"entropy"`
	TimeStamp    uint64   `json:"timestamp"`
	Transactions []string `json:"transactions"`
}

// errorResponse is the form used for API responses from failures.
type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
