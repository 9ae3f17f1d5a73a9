// Package blockdb reads a Bitcoin Core data directory in place and serves
// analytical queries over it: point lookups by height, hash or txid, and
// height-ordered streaming scans, plain or connected. Core's files are
// never modified; the library can run against a data directory that Core
// itself is still appending to.
//
// A handle is created from the data directory path:
//
//	db, err := blockdb.Open("/home/me/.bitcoin", blockdb.WithTxIndex())
//	if err != nil { ... }
//	defer db.Close()
//
//	it, err := db.BlockIter(0, db.BlockCount())
//	if err != nil { ... }
//	for it.Next() {
//		blk, err := it.Item()
//		...
//	}
package blockdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chainquery/blockdb/blkfile"
	"github.com/chainquery/blockdb/blockcache"
	"github.com/chainquery/blockdb/blockindex"
	"github.com/chainquery/blockdb/txindex"
	"github.com/chainquery/blockdb/view"
)

// DB is a read-only handle on a Bitcoin Core data directory. It is safe for
// concurrent use; every iterator obtained from it carries its own workers
// and, for connected scans, its own UTXO backend.
type DB struct {
	index *blockindex.Index
	store *blkfile.Store
	txidx *txindex.Index
	cache *blockcache.Cache

	// reader serves point queries and is guarded by mtx; range scans
	// use per-worker readers instead.
	mtx    sync.Mutex
	reader *blkfile.Reader
}

// Open loads the block index from the given Core data directory and
// prepares the handle. The blk files themselves are opened lazily. With
// WithTxIndex, Core's transaction index is attached as well; if it cannot
// be opened (Core ran without txindex=1) the handle still works and only
// transaction queries fail.
func Open(dataDir string, opts ...Option) (*DB, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, err := os.Stat(dataDir); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	blocksDir := filepath.Join(dataDir, "blocks")

	index, err := blockindex.Load(filepath.Join(blocksDir, "index"))
	if err != nil {
		return nil, err
	}
	store, err := blkfile.Open(blocksDir)
	if err != nil {
		return nil, err
	}

	db := &DB{
		index:  index,
		store:  store,
		reader: store.NewReader(),
	}
	if cfg.cacheCapacity > 0 {
		db.cache = blockcache.New(cfg.cacheCapacity)
	}

	if cfg.openTxIndex {
		path := filepath.Join(dataDir, "indexes", "txindex")
		db.txidx, err = txindex.Open(path, index)
		if err != nil {
			// Match Core's own behavior of treating a missing
			// index as "feature off" rather than a fatal error.
			log.Warnf("Transaction index unavailable: %v", err)
			db.txidx = nil
		}
	}

	log.Infof("Opened %s: %d blocks, txindex=%v", dataDir,
		index.BlockCount(), db.txidx != nil)

	return db, nil
}

// Close releases the handle's file descriptors. Iterators created from the
// handle hold their own resources and are unaffected.
func (db *DB) Close() error {
	db.mtx.Lock()
	db.reader.Close()
	db.mtx.Unlock()

	if db.txidx != nil {
		return db.txidx.Close()
	}
	return nil
}

// BlockCount returns the number of blocks available for query. Heights 0
// through BlockCount()-1 are guaranteed readable.
func (db *DB) BlockCount() uint32 {
	return db.index.BlockCount()
}

// Header returns the block index record at the given height: the consensus
// header plus Core's metadata (transaction count, file position, status).
// This is an in-memory lookup and never touches the disk.
func (db *DB) Header(height uint32) (*blockindex.Record, error) {
	return db.index.Record(height)
}

// BlockHash returns the hash of the block at the given height.
func (db *DB) BlockHash(height uint32) (*chainhash.Hash, error) {
	rec, err := db.index.Record(height)
	if err != nil {
		return nil, err
	}
	return &rec.Hash, nil
}

// Height returns the height of the block with the given hash.
func (db *DB) Height(hash *chainhash.Hash) (uint32, error) {
	return db.index.HeightByHash(hash)
}

// dataRecord returns the index record for a height whose block data is
// present on disk.
func (db *DB) dataRecord(height uint32) (*blockindex.Record, error) {
	if height >= db.index.BlockCount() {
		return nil, fmt.Errorf("%w: height %d, block count %d",
			ErrOutOfRange, height, db.index.BlockCount())
	}
	return db.index.Record(height)
}

// readRaw fetches the raw block for an index record through the handle's
// shared reader, consulting the block cache when one is configured.
func (db *DB) readRaw(rec *blockindex.Record) ([]byte, error) {
	fetch := func() ([]byte, error) {
		db.mtx.Lock()
		defer db.mtx.Unlock()
		return db.reader.ReadBlock(rec.File, rec.DataPos)
	}
	if db.cache == nil {
		return fetch()
	}
	return db.cache.GetBlock(rec.Height, fetch)
}

// RawBlock returns the consensus-encoded block at the given height, exactly
// as stored (after undoing any xor.dat obfuscation).
func (db *DB) RawBlock(height uint32) ([]byte, error) {
	rec, err := db.dataRecord(height)
	if err != nil {
		return nil, err
	}
	return db.readRaw(rec)
}

// Block returns the full view of the block at the given height.
func (db *DB) Block(height uint32) (*view.Block, error) {
	raw, err := db.RawBlock(height)
	if err != nil {
		return nil, err
	}
	return view.DecodeBlock(raw)
}

// CompactBlock returns the compact view of the block at the given height.
func (db *DB) CompactBlock(height uint32) (*view.CompactBlock, error) {
	raw, err := db.RawBlock(height)
	if err != nil {
		return nil, err
	}
	return view.DecodeCompactBlock(raw)
}
