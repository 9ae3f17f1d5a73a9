package blockdb

import (
	"errors"

	"github.com/chainquery/blockdb/blkfile"
	"github.com/chainquery/blockdb/blockindex"
	"github.com/chainquery/blockdb/txindex"
	"github.com/chainquery/blockdb/utxo"
	"github.com/chainquery/blockdb/view"
)

// ErrTxIndexDisabled is returned by transaction queries when the handle was
// opened without the transaction index, or when Core's txindex leveldb
// could not be found.
var ErrTxIndexDisabled = errors.New("transaction index not available")

// Errors surfaced from the underlying packages, re-exported so callers can
// match them with errors.Is without importing each subpackage.
var (
	// ErrOutOfRange is returned for heights the index does not cover,
	// and for ranges whose lower bound exceeds the upper.
	ErrOutOfRange = blockindex.ErrOutOfRange

	// ErrUnknownHash is returned for block hashes not on the active
	// chain.
	ErrUnknownHash = blockindex.ErrUnknownHash

	// ErrIndexCorrupt is returned when the block index does not form a
	// dense chain.
	ErrIndexCorrupt = blockindex.ErrIndexCorrupt

	// ErrUnknownTxid is returned for txids absent from the transaction
	// index.
	ErrUnknownTxid = txindex.ErrUnknownTxid

	// ErrMalformedBlock is returned when stored block bytes do not
	// decode.
	ErrMalformedBlock = view.ErrMalformedBlock

	// ErrMissingUTXO terminates a connected stream that hit an input
	// whose funding output was never seen.
	ErrMissingUTXO = utxo.ErrMissingUTXO

	// ErrNoBlockFiles is returned by Open when the blocks directory
	// holds no blk files.
	ErrNoBlockFiles = blkfile.ErrNoBlockFiles
)
