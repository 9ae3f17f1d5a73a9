// Package blockindex loads Bitcoin Core's block index (the leveldb under
// blocks/index) into memory and exposes height and hash lookups over the
// active chain.
//
// The index database maps block hashes to index records. Core keeps records
// for every header it has ever seen, including stale branches, so this
// package filters down to fully stored main-chain blocks by walking
// backwards from the best known hash through prevBlock links. The result is
// a dense, zero-based slice of records; any gap on that walk means the data
// directory is damaged.
package blockindex

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Block status flags, as defined by Bitcoin Core's chain.h.
const (
	statusValidHeader       = 1
	statusValidTree         = 2
	statusValidTransactions = 3
	statusValidChain        = 4
	statusValidScripts      = 5

	statusValidMask = statusValidHeader | statusValidTree |
		statusValidTransactions | statusValidChain | statusValidScripts

	statusHaveData = 8
	statusHaveUndo = 16
)

var (
	// ErrOutOfRange is returned when a height is not covered by the
	// index.
	ErrOutOfRange = errors.New("height out of range")

	// ErrUnknownHash is returned when a block hash is not part of the
	// active chain.
	ErrUnknownHash = errors.New("unknown block hash")

	// ErrIndexCorrupt is returned when the on-disk index does not
	// describe a dense chain of blocks, which indicates a damaged data
	// directory.
	ErrIndexCorrupt = errors.New("block index corrupt")
)

// indexKeyPrefix tags block index records inside the leveldb. The remaining
// 32 bytes of the key are the block hash.
const indexKeyPrefix = 'b'

// Record is a single decoded block index entry as written by Bitcoin Core.
type Record struct {
	// Height of the block in the active chain.
	Height uint32

	// Version of the index record serialization (Core's nVersion, the
	// client version that wrote the entry).
	Version int32

	// Status bit field describing validity and data availability.
	Status uint32

	// NumTx is the transaction count of the block. Zero means the block
	// data has not been downloaded yet.
	NumTx uint32

	// File is the blk file number holding the block.
	File uint32

	// DataPos is the byte offset of the block payload inside the blk
	// file. It points just past the 8-byte magic/length prefix.
	DataPos uint32

	// UndoPos is the byte offset of the undo data inside the matching
	// rev file, or zero when no undo data exists.
	UndoPos uint32

	// Header is the raw 80-byte consensus header, decoded.
	Header wire.BlockHeader

	// Hash is the double-SHA-256 of the 80 header bytes.
	Hash chainhash.Hash
}

// haveData reports whether the full block is stored on disk.
func (r *Record) haveData() bool {
	return r.Status&statusHaveData != 0
}

// onMainChainCandidate reports whether the record is eligible for the active
// chain: either the genesis block, or script-validated with its data fully
// stored. This mirrors Core's own filter so that stale branches left behind
// by reorgs never surface.
func (r *Record) onMainChainCandidate() bool {
	if r.Height == 0 {
		return true
	}
	return r.Status&statusValidMask >= statusValidScripts && r.haveData()
}

// decodeRecord parses a leveldb value in Core's CBlockIndex disk format:
// a sequence of index VarInts (version, height, status, numTx, then file and
// positions gated on the status bits) followed by the 80 header bytes.
func decodeRecord(value []byte) (*Record, error) {
	r := bytes.NewReader(value)

	version, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	height, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	status, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	numTx, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Height:  uint32(height),
		Version: int32(version),
		Status:  uint32(status),
		NumTx:   uint32(numTx),
	}

	if rec.Status&(statusHaveData|statusHaveUndo) != 0 {
		file, err := ReadVarInt(r)
		if err != nil {
			return nil, err
		}
		rec.File = uint32(file)
	}
	if rec.Status&statusHaveData != 0 {
		pos, err := ReadVarInt(r)
		if err != nil {
			return nil, err
		}
		rec.DataPos = uint32(pos)
	}
	if rec.Status&statusHaveUndo != 0 {
		pos, err := ReadVarInt(r)
		if err != nil {
			return nil, err
		}
		rec.UndoPos = uint32(pos)
	}

	if err := rec.Header.Deserialize(r); err != nil {
		return nil, err
	}
	rec.Hash = rec.Header.BlockHash()

	return rec, nil
}

// Index is the in-memory view of the active chain: a dense slice of records
// ordered by height plus a reverse map from block hash to height. It is
// immutable after Load and safe for concurrent readers.
type Index struct {
	records []*Record
	heights map[chainhash.Hash]uint32
}

// Load opens the leveldb at the given path read-only, decodes every block
// index record, and assembles the active chain. The database is closed again
// before Load returns; nothing keeps a handle on Core's files afterwards.
func Load(path string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("block index %s: %w", path, err)
	}

	db, err := leveldb.OpenFile(path, &opt.Options{
		ReadOnly:       true,
		ErrorIfMissing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open block index: %w", err)
	}
	defer db.Close()

	log.Debugf("Loading block index from %s", path)

	// Decode every candidate record, keyed by block hash, and remember
	// the highest one seen. The walk below starts there.
	byHash := make(map[chainhash.Hash]*Record)
	var tip *Record

	iter := db.NewIterator(
		util.BytesPrefix([]byte{indexKeyPrefix}), nil,
	)
	for iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			iter.Release()
			return nil, fmt.Errorf("%w: decoding record %x: %v",
				ErrIndexCorrupt, iter.Key(), err)
		}
		if !rec.onMainChainCandidate() {
			continue
		}
		byHash[rec.Hash] = rec
		if tip == nil || rec.Height > tip.Height {
			tip = rec
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterating block index: %w", err)
	}

	if tip == nil {
		return &Index{heights: make(map[chainhash.Hash]uint32)}, nil
	}

	// Walk back from the tip through prevBlock links. Every height from
	// tip down to zero must resolve, otherwise the index has holes.
	records := make([]*Record, tip.Height+1)
	next := tip.Hash
	for h := int64(tip.Height); h >= 0; h-- {
		rec, ok := byHash[next]
		if !ok {
			return nil, fmt.Errorf("%w: no record for block %v "+
				"at height %d", ErrIndexCorrupt, next, h)
		}
		if int64(rec.Height) != h {
			return nil, fmt.Errorf("%w: block %v has height %d, "+
				"expected %d", ErrIndexCorrupt, next,
				rec.Height, h)
		}
		records[h] = rec
		next = rec.Header.PrevBlock
	}

	heights := make(map[chainhash.Hash]uint32, len(records))
	for _, rec := range records {
		heights[rec.Hash] = rec.Height
	}

	log.Infof("Block index loaded: %d blocks, tip %v", len(records),
		tip.Hash)

	return &Index{records: records, heights: heights}, nil
}

// NumRecords returns the total number of heights the active chain covers,
// including trailing blocks whose data has not been downloaded yet.
func (x *Index) NumRecords() uint32 {
	return uint32(len(x.records))
}

// BlockCount returns the number of leading heights whose block data is fully
// available. A record with a zero transaction count marks the first block
// that has not been downloaded; everything below it is guaranteed readable.
func (x *Index) BlockCount() uint32 {
	for h, rec := range x.records {
		if rec.NumTx == 0 {
			return uint32(h)
		}
	}
	return uint32(len(x.records))
}

// Record returns the index entry at the given height.
func (x *Index) Record(height uint32) (*Record, error) {
	if height >= uint32(len(x.records)) {
		return nil, fmt.Errorf("%w: height %d, index has %d blocks",
			ErrOutOfRange, height, len(x.records))
	}
	return x.records[height], nil
}

// HeightByHash returns the height of the block with the given hash, or
// ErrUnknownHash when the hash is not on the active chain.
func (x *Index) HeightByHash(hash *chainhash.Hash) (uint32, error) {
	h, ok := x.heights[*hash]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrUnknownHash, hash)
	}
	return h, nil
}
