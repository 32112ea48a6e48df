// Package transaction implements the immutable ledger event submitted by
// callers. A transaction computes its identity at construction and is never
// mutated afterwards.
package transaction

import (
	"errors"
	"fmt"
	"time"

	"github.com/nomledger/nomledger/foundation/ledger/hashing"
	"github.com/nomledger/nomledger/foundation/validate"
)

// Set of errors returned when constructing a transaction.
var (
	ErrInvalidAccount       = errors.New("account id is not a 64 character hex string")
	ErrMissingCounterparty  = errors.New("origin and destination must both be set")
	ErrSelfTransfer         = errors.New("origin and destination must be different accounts")
	ErrAmountWithoutParties = errors.New("an amount requires an origin and a destination")
)

// AccountID represents an account taking part in a transfer. The value is a
// 64 character hex string without any prefix.
type AccountID string

// accounts exists to validate the format of the optional account ids with
// the validate package.
type accounts struct {
	FromID string `json:"origin" validate:"omitempty,len=64,hexadecimal"`
	ToID   string `json:"destination" validate:"omitempty,len=64,hexadecimal"`
}

// =============================================================================

// Tx represents a single ledger event. The payload is opaque to the ledger,
// the optional origin/destination/amount fields describe a nom transfer
// between two accounts. Construct values with New, the zero value is not
// usable.
type Tx struct {
	Data      any       `json:"data"`
	FromID    AccountID `json:"origin,omitempty"`
	ToID      AccountID `json:"destination,omitempty"`
	Amount    uint64    `json:"amount"`
	TimeStamp uint64    `json:"timestamp"`

	identity    string
	fingerprint string
}

// New constructs a transaction for the specified payload. The fromID and
// toID parameters are optional as a pair: leave both empty for a payload-only
// transaction. An amount greater than zero requires both parties.
func New(data any, fromID AccountID, toID AccountID, amount uint64) (Tx, error) {
	if err := validate.Check(accounts{FromID: string(fromID), ToID: string(toID)}); err != nil {
		return Tx{}, fmt.Errorf("%w: %s", ErrInvalidAccount, err)
	}

	switch {
	case (fromID == "") != (toID == ""):
		return Tx{}, ErrMissingCounterparty

	case fromID != "" && fromID == toID:
		return Tx{}, ErrSelfTransfer

	case amount > 0 && fromID == "":
		return Tx{}, ErrAmountWithoutParties
	}

	tx := Tx{
		Data:      data,
		FromID:    fromID,
		ToID:      toID,
		Amount:    amount,
		TimeStamp: uint64(time.Now().UTC().UnixMilli()),
	}

	// Both hashes are fixed at construction. The fingerprint excludes the
	// timestamp so resubmitting the same logical content is detectable.
	tx.identity = hashing.Composite(tx.Data, tx.FromID, tx.ToID, tx.Amount, tx.TimeStamp)
	tx.fingerprint = hashing.Composite(tx.Data, tx.FromID, tx.ToID, tx.Amount)

	return tx, nil
}

// IdentityHash returns the digest uniquely identifying this transaction
// instance. It includes the creation timestamp.
func (tx Tx) IdentityHash() string {
	return tx.identity
}

// FingerprintHash returns the digest of the transaction content without the
// timestamp. It is used only for in-flight duplicate detection and is never
// persisted as the transaction's key.
func (tx Tx) FingerprintHash() string {
	return tx.fingerprint
}

// WithPrefix returns a copy of the transaction whose identity hash carries
// the specified leading tag. The fingerprint is unchanged so duplicate
// detection still works across prefixed copies.
func (tx Tx) WithPrefix(prefix string) Tx {
	if prefix == "" {
		return tx
	}

	tx.identity = prefix + tx.identity
	return tx
}

// String implements the fmt.Stringer interface for logging.
func (tx Tx) String() string {
	if tx.FromID == "" {
		return tx.identity
	}
	return fmt.Sprintf("%s:%d", tx.FromID, tx.Amount)
}
