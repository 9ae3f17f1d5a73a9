package view

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ConnectedBlock is the full view with every input decorated by the
// addresses of the output it spends. Coinbase inputs carry no addresses.
type ConnectedBlock struct {
	Header Header
	Txs    []*ConnectedTx
}

// ConnectedTx is a transaction whose inputs have been resolved.
type ConnectedTx struct {
	TxID     chainhash.Hash
	Version  int32
	LockTime uint32
	In       []*ConnectedTxIn
	Out      []*TxOut
}

// ConnectedTxIn is an input together with the addresses of the spent
// output.
type ConnectedTxIn struct {
	TxIn
	Addresses []btcutil.Address
}

// ConnectTx decorates a full-view transaction with the resolved addresses of
// each input. resolved must hold one entry per input, in input order;
// coinbase entries are nil.
func ConnectTx(t *Tx, resolved [][]btcutil.Address) *ConnectedTx {
	out := &ConnectedTx{
		TxID:     t.TxID,
		Version:  t.Version,
		LockTime: t.LockTime,
		In:       make([]*ConnectedTxIn, 0, len(t.In)),
		Out:      t.Out,
	}
	for i, in := range t.In {
		out.In = append(out.In, &ConnectedTxIn{
			TxIn:      *in,
			Addresses: resolved[i],
		})
	}
	return out
}

// CompactConnectedBlock is the compact view with decorated inputs.
type CompactConnectedBlock struct {
	Header CompactHeader
	Txs    []*CompactConnectedTx
}

// CompactConnectedTx is a compact transaction whose inputs have been
// resolved.
type CompactConnectedTx struct {
	TxID chainhash.Hash
	In   []*CompactConnectedTxIn
	Out  []*CompactTxOut
}

// CompactConnectedTxIn is a compact input together with the addresses of
// the spent output.
type CompactConnectedTxIn struct {
	CompactTxIn
	Addresses []btcutil.Address
}

// CompactConnected reduces a connected block to its compact form.
func CompactConnected(b *ConnectedBlock) *CompactConnectedBlock {
	out := &CompactConnectedBlock{
		Header: CompactHeader{
			Hash:      b.Header.Hash,
			Timestamp: b.Header.Timestamp,
		},
		Txs: make([]*CompactConnectedTx, 0, len(b.Txs)),
	}
	for _, tx := range b.Txs {
		ctx := &CompactConnectedTx{
			TxID: tx.TxID,
			In:   make([]*CompactConnectedTxIn, 0, len(tx.In)),
			Out:  make([]*CompactTxOut, 0, len(tx.Out)),
		}
		for _, in := range tx.In {
			ctx.In = append(ctx.In, &CompactConnectedTxIn{
				CompactTxIn: CompactTxIn{
					PrevTxID: in.PrevTxID,
					Vout:     in.Vout,
					Sequence: in.Sequence,
				},
				Addresses: in.Addresses,
			})
		}
		for _, o := range tx.Out {
			ctx.Out = append(ctx.Out, &CompactTxOut{
				Value:     o.Value,
				Addresses: o.Addresses,
			})
		}
		out.Txs = append(out.Txs, ctx)
	}
	return out
}
