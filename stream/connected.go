package stream

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/chainquery/blockdb/utxo"
	"github.com/chainquery/blockdb/view"
)

// ConnectedIterator turns a height-ordered full-block stream into connected
// blocks: every non-coinbase input is decorated with the addresses of the
// output it spends, tracked through a UTXO backend. The parallel decoder
// stays the producer; all UTXO updates happen here, on the consumer's
// goroutine, because the set is a serial state machine that must observe
// transactions in block order.
type ConnectedIterator[T any] struct {
	inner   *Iterator[*view.Block]
	backend utxo.Backend
	convert func(*view.ConnectedBlock) T

	item T
	err  error
	done bool
}

// NewConnected wraps a full-view iterator with the UTXO state machine. The
// iterator takes ownership of the backend and closes it when the stream
// ends. convert maps each connected block to the emitted type.
func NewConnected[T any](inner *Iterator[*view.Block], backend utxo.Backend,
	convert func(*view.ConnectedBlock) T) *ConnectedIterator[T] {

	return &ConnectedIterator[T]{
		inner:   inner,
		backend: backend,
		convert: convert,
	}
}

// Next advances to the next connected block. Unlike the plain iterator, any
// per-height error is terminal here: a block that cannot be decoded or an
// outpoint that cannot be resolved leaves the UTXO set unusable for every
// later height, so the stream stops and Err reports the cause.
func (it *ConnectedIterator[T]) Next() bool {
	if it.done {
		return false
	}

	if !it.inner.Next() {
		it.finish(nil)
		return false
	}

	blk, err := it.inner.Item()
	if err != nil {
		it.finish(fmt.Errorf("height %d: %w", it.inner.Height(), err))
		return false
	}

	connected, err := it.connect(blk)
	if err != nil {
		it.finish(fmt.Errorf("height %d: %w", it.inner.Height(), err))
		return false
	}

	it.item = it.convert(connected)
	return true
}

// connect applies one block to the UTXO set and builds its connected view.
// Transactions are processed in block order, each one's spends resolved
// before its creations are inserted, so spends of outputs created earlier
// in the same block resolve correctly.
func (it *ConnectedIterator[T]) connect(b *view.Block) (*view.ConnectedBlock,
	error) {

	out := &view.ConnectedBlock{
		Header: b.Header,
		Txs:    make([]*view.ConnectedTx, 0, len(b.Txs)),
	}

	for _, tx := range b.Txs {
		resolved := make([][]btcutil.Address, len(tx.In))
		for i, in := range tx.In {
			if in.IsCoinbase() {
				continue
			}

			key := utxo.NewKey(&in.PrevTxID, in.Vout)
			value, err := it.backend.Remove(key)
			if err != nil {
				return nil, fmt.Errorf("input %s:%d: %w",
					in.PrevTxID, in.Vout, err)
			}
			addrs, err := view.UnmarshalAddresses(value)
			if err != nil {
				return nil, fmt.Errorf("input %s:%d: %w",
					in.PrevTxID, in.Vout, err)
			}
			resolved[i] = addrs
		}

		for i, o := range tx.Out {
			key := utxo.NewKey(&tx.TxID, uint32(i))
			value := view.MarshalAddresses(o.Addresses)
			if err := it.backend.Insert(key, value); err != nil {
				return nil, fmt.Errorf("output %s:%d: %w",
					tx.TxID, i, err)
			}
		}

		out.Txs = append(out.Txs, view.ConnectTx(tx, resolved))
	}

	if err := it.backend.Flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// finish tears the pipeline down exactly once.
func (it *ConnectedIterator[T]) finish(err error) {
	if it.done {
		return
	}
	it.done = true
	if err != nil {
		it.err = err
		log.Errorf("Connected stream stopped: %v", err)
	}
	it.inner.Close()
	if closeErr := it.backend.Close(); closeErr != nil && it.err == nil {
		it.err = closeErr
	}
}

// Item returns the current connected block.
func (it *ConnectedIterator[T]) Item() T {
	return it.item
}

// Height returns the height of the current item.
func (it *ConnectedIterator[T]) Height() uint32 {
	return it.inner.Height()
}

// Err returns the error that terminated the stream, if any. A fully
// drained or explicitly closed stream reports nil, unless closing the UTXO
// backend failed, in which case that error is reported.
func (it *ConnectedIterator[T]) Err() error {
	return it.err
}

// Close cancels the stream and releases the decoder and the UTXO backend.
// Idempotent.
func (it *ConnectedIterator[T]) Close() {
	it.finish(nil)
}
