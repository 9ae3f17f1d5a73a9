// Package txindex looks up transaction disk locations in Bitcoin Core's
// optional transaction index (the leveldb under indexes/txindex, maintained
// when Core runs with txindex=1).
package txindex

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chainquery/blockdb/blockindex"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// txKeyPrefix tags transaction records inside the leveldb. The remaining 32
// bytes of the key are the txid.
const txKeyPrefix = 't'

// GenesisTxID is the coinbase of the genesis block. Core never writes it to
// the transaction index because the genesis coinbase is unspendable, so
// lookups for it are answered from block zero instead.
var GenesisTxID = chainhash.Hash{
	0x3b, 0xa3, 0xed, 0xfd, 0x7a, 0x7b, 0x12, 0xb2,
	0x7a, 0xc7, 0x2c, 0x3e, 0x67, 0x76, 0x8f, 0x61,
	0x7f, 0xc8, 0x1b, 0xc3, 0x88, 0x8a, 0x51, 0x32,
	0x3a, 0x9f, 0xb8, 0xaa, 0x4b, 0x1e, 0x5e, 0x4a,
}

var (
	// ErrUnknownTxid is returned when a txid has no record in the index.
	ErrUnknownTxid = errors.New("txid not found in transaction index")

	// ErrNoHeight is returned when a transaction's disk location cannot
	// be mapped back to a block height.
	ErrNoHeight = errors.New("no block height for transaction")
)

// Pos is the disk location of a transaction: a blk file, the offset of the
// containing block's payload, and the transaction's offset past that block's
// header.
type Pos struct {
	File     uint32
	DataPos  uint32
	TxOffset uint32
}

// Index is an open handle on Core's transaction index plus a reverse map
// from block location to height, built from the block index so that the
// containing height of any indexed transaction can be recovered.
type Index struct {
	db      *leveldb.DB
	heights map[uint64]uint32
}

// filePos packs a blk file number and data offset into one map key.
func filePos(file, dataPos uint32) uint64 {
	return uint64(file)<<32 | uint64(dataPos)
}

// Open opens the transaction index leveldb read-only. The block index is
// used to build the location-to-height map for BlockHeight queries.
func Open(path string, bindex *blockindex.Index) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("tx index %s: %w", path, err)
	}

	db, err := leveldb.OpenFile(path, &opt.Options{
		ReadOnly:       true,
		ErrorIfMissing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open tx index: %w", err)
	}

	heights := make(map[uint64]uint32, bindex.NumRecords())
	for h := uint32(0); h < bindex.NumRecords(); h++ {
		rec, _ := bindex.Record(h)
		heights[filePos(rec.File, rec.DataPos)] = rec.Height
	}

	return &Index{db: db, heights: heights}, nil
}

// Lookup returns the disk location of the transaction with the given txid.
// The genesis coinbase is not present in the index; callers must special
// case GenesisTxID before calling.
func (x *Index) Lookup(txid *chainhash.Hash) (Pos, error) {
	key := make([]byte, 0, 1+chainhash.HashSize)
	key = append(key, txKeyPrefix)
	key = append(key, txid[:]...)

	value, err := x.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return Pos{}, fmt.Errorf("%w: %v", ErrUnknownTxid, txid)
	case err != nil:
		return Pos{}, fmt.Errorf("tx index lookup: %w", err)
	}

	// The record is three index VarInts: file, block offset, tx offset.
	r := bytes.NewReader(value)
	file, err := blockindex.ReadVarInt(r)
	if err != nil {
		return Pos{}, fmt.Errorf("decoding tx record: %w", err)
	}
	dataPos, err := blockindex.ReadVarInt(r)
	if err != nil {
		return Pos{}, fmt.Errorf("decoding tx record: %w", err)
	}
	txOffset, err := blockindex.ReadVarInt(r)
	if err != nil {
		return Pos{}, fmt.Errorf("decoding tx record: %w", err)
	}

	return Pos{
		File:     uint32(file),
		DataPos:  uint32(dataPos),
		TxOffset: uint32(txOffset),
	}, nil
}

// BlockHeight returns the height of the block containing the given
// transaction.
func (x *Index) BlockHeight(txid *chainhash.Hash) (uint32, error) {
	if *txid == GenesisTxID {
		return 0, nil
	}
	pos, err := x.Lookup(txid)
	if err != nil {
		return 0, err
	}
	h, ok := x.heights[filePos(pos.File, pos.DataPos)]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrNoHeight, txid)
	}
	return h, nil
}

// Close releases the leveldb handle.
func (x *Index) Close() error {
	return x.db.Close()
}
