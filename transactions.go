package blockdb

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/chainquery/blockdb/txindex"
	"github.com/chainquery/blockdb/view"
)

// These queries need Core's transaction index and fail with
// ErrTxIndexDisabled when the handle was opened without it. ConnectedBlock
// fails only once it meets a non-coinbase input; a block holding nothing but
// a coinbase connects without the index.

// readTx fetches and decodes the transaction with the given txid. The
// genesis coinbase is absent from Core's index and is served from block
// zero instead.
func (db *DB) readTx(txid *chainhash.Hash) (*wire.MsgTx, error) {
	if db.txidx == nil {
		return nil, ErrTxIndexDisabled
	}

	if *txid == txindex.GenesisTxID {
		raw, err := db.RawBlock(0)
		if err != nil {
			return nil, err
		}
		blk, err := view.DecodeBlock(raw)
		if err != nil {
			return nil, err
		}
		return blk.Txs[0].MsgTx(), nil
	}

	pos, err := db.txidx.Lookup(txid)
	if err != nil {
		return nil, err
	}

	db.mtx.Lock()
	defer db.mtx.Unlock()
	return db.reader.ReadTx(pos.File, pos.DataPos, pos.TxOffset)
}

// Transaction returns the full view of the transaction with the given
// txid.
func (db *DB) Transaction(txid *chainhash.Hash) (*view.Tx, error) {
	msg, err := db.readTx(txid)
	if err != nil {
		return nil, err
	}
	return view.NewTx(msg), nil
}

// CompactTransaction returns the compact view of the transaction with the
// given txid.
func (db *DB) CompactTransaction(txid *chainhash.Hash) (*view.CompactTx,
	error) {

	msg, err := db.readTx(txid)
	if err != nil {
		return nil, err
	}
	return view.NewCompactTx(msg), nil
}

// TxHeight returns the height of the block containing the transaction with
// the given txid.
func (db *DB) TxHeight(txid *chainhash.Hash) (uint32, error) {
	if db.txidx == nil {
		return 0, ErrTxIndexDisabled
	}
	return db.txidx.BlockHeight(txid)
}

// resolveInput looks up the output an input spends and returns its decoded
// addresses. Used by the point-query connected views; streaming connected
// scans resolve through the UTXO engine instead.
func (db *DB) resolveInput(in *view.TxIn) ([]btcutil.Address, error) {
	prev, err := db.Transaction(&in.PrevTxID)
	if err != nil {
		return nil, err
	}
	if int(in.Vout) >= len(prev.Out) {
		return nil, fmt.Errorf("%w: output %s:%d does not exist",
			ErrUnknownTxid, in.PrevTxID, in.Vout)
	}
	return prev.Out[in.Vout].Addresses, nil
}

// ConnectedTransaction returns the transaction with every non-coinbase
// input decorated by the addresses of the output it spends, resolved
// through the transaction index. Point resolution costs one index lookup
// and one disk read per input; use ConnectedBlockIter for bulk work.
func (db *DB) ConnectedTransaction(txid *chainhash.Hash) (*view.ConnectedTx,
	error) {

	tx, err := db.Transaction(txid)
	if err != nil {
		return nil, err
	}
	return db.connectTx(tx)
}

// connectTx resolves one transaction's inputs via the transaction index.
func (db *DB) connectTx(tx *view.Tx) (*view.ConnectedTx, error) {
	resolved := make([][]btcutil.Address, len(tx.In))
	for i, in := range tx.In {
		if in.IsCoinbase() {
			continue
		}
		addrs, err := db.resolveInput(in)
		if err != nil {
			return nil, err
		}
		resolved[i] = addrs
	}
	return view.ConnectTx(tx, resolved), nil
}

// ConnectedBlock returns the block at the given height with every
// non-coinbase input decorated via the transaction index. Slow for bulk
// work; use ConnectedBlockIter to sweep ranges.
func (db *DB) ConnectedBlock(height uint32) (*view.ConnectedBlock, error) {
	blk, err := db.Block(height)
	if err != nil {
		return nil, err
	}

	out := &view.ConnectedBlock{
		Header: blk.Header,
		Txs:    make([]*view.ConnectedTx, 0, len(blk.Txs)),
	}
	for _, tx := range blk.Txs {
		ctx, err := db.connectTx(tx)
		if err != nil {
			return nil, err
		}
		out.Txs = append(out.Txs, ctx)
	}
	return out, nil
}
