// Package utxo tracks unspent transaction outputs for the connected-block
// pipeline: every output a block creates is inserted, and every output a
// later input spends is removed, yielding the addresses recorded at
// creation time.
//
// Two backends implement the same narrow contract: an in-memory hash table
// for machines with enough RAM to hold the full set, and a goleveldb-backed
// store that keeps the set on disk with batched, per-block atomic writes.
// Both assume a single caller; the pipeline serializes all access.
package utxo

import (
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// KeySize is the length of a UTXO key: a txid followed by the output index.
const KeySize = chainhash.HashSize + 4

// ErrMissingUTXO is returned by Remove when the outpoint is not in the set.
// On a chain processed from height zero this signals corrupt data; it is
// never expected in normal operation.
var ErrMissingUTXO = errors.New("utxo not found")

// Key identifies one transaction output: the creating txid and the output
// index, little endian.
type Key [KeySize]byte

// NewKey builds the key for the given outpoint.
func NewKey(txid *chainhash.Hash, vout uint32) Key {
	var k Key
	copy(k[:chainhash.HashSize], txid[:])
	binary.LittleEndian.PutUint32(k[chainhash.HashSize:], vout)
	return k
}

// Backend is the storage contract the connected-block pipeline drives.
// Values are opaque to the backend; the pipeline stores encoded address
// lists. Implementations may assume strictly serial calls from a single
// goroutine.
type Backend interface {
	// Insert records a newly created output.
	Insert(key Key, value []byte) error

	// Remove deletes a spent output and returns the value it was
	// inserted with, or ErrMissingUTXO if the key is absent.
	Remove(key Key) ([]byte, error)

	// Flush is a durability barrier. The pipeline calls it once per
	// block so that a crash never leaves a block half applied.
	Flush() error

	// Close releases the backend's resources. Ephemeral backends delete
	// their on-disk state.
	Close() error
}
