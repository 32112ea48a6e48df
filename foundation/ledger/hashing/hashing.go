// Package hashing provides the content hashing support for the ledger. Every
// hash in the system, transaction or block, is produced by this package so
// digests are comparable across components.
package hashing

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroHash represents a hash code of zeros. It is the previous-hash sentinel
// for the genesis block.
const ZeroHash string = "0000000000000000000000000000000000000000000000000000000000000000"

// Hash returns a unique 64 character hex string for the specified value. The
// value is serialized to canonical JSON first: struct fields hash in
// declaration order, map keys are sorted by the encoder, and nil optional
// fields always encode as null. Two logically equal values produce the same
// digest regardless of how they were constructed.
func Hash(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return ZeroHash
	}

	hash := sha256.Sum256(data)
	return common.Bytes2Hex(hash[:])
}

// Composite returns a single digest over an ordered sequence of parts. Order
// is significant: reordering the parts changes the digest.
func Composite(parts ...any) string {
	return Hash(parts)
}
