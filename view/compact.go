package view

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// CompactHeader keeps only the block hash and timestamp.
type CompactHeader struct {
	Hash      chainhash.Hash
	Timestamp uint32
}

// CompactBlock is the compact view: transactions reduced to outpoints,
// sequences, values and addresses. Scripts and witnesses are dropped.
type CompactBlock struct {
	Header CompactHeader
	Txs    []*CompactTx
}

// CompactTx is a transaction in the compact view.
type CompactTx struct {
	TxID chainhash.Hash
	In   []*CompactTxIn
	Out  []*CompactTxOut
}

// CompactTxIn is an input reduced to its outpoint and sequence.
type CompactTxIn struct {
	PrevTxID chainhash.Hash
	Vout     uint32
	Sequence uint32
}

// CompactTxOut is an output reduced to its value and decoded addresses.
type CompactTxOut struct {
	Value     int64
	Addresses []btcutil.Address
}

// NewCompactTx builds the compact view of a single decoded transaction.
func NewCompactTx(msg *wire.MsgTx) *CompactTx {
	tx := &CompactTx{
		TxID: msg.TxHash(),
		In:   make([]*CompactTxIn, 0, len(msg.TxIn)),
		Out:  make([]*CompactTxOut, 0, len(msg.TxOut)),
	}
	for _, in := range msg.TxIn {
		tx.In = append(tx.In, &CompactTxIn{
			PrevTxID: in.PreviousOutPoint.Hash,
			Vout:     in.PreviousOutPoint.Index,
			Sequence: in.Sequence,
		})
	}
	for _, out := range msg.TxOut {
		_, addrs := ExtractAddresses(out.PkScript)
		tx.Out = append(tx.Out, &CompactTxOut{
			Value:     out.Value,
			Addresses: addrs,
		})
	}
	return tx
}

// DecodeCompactBlock decodes raw block bytes into the compact view.
func DecodeCompactBlock(raw []byte) (*CompactBlock, error) {
	msg, err := decodeMsgBlock(raw)
	if err != nil {
		return nil, err
	}

	blk := &CompactBlock{
		Header: CompactHeader{
			Hash:      msg.Header.BlockHash(),
			Timestamp: uint32(msg.Header.Timestamp.Unix()),
		},
		Txs: make([]*CompactTx, 0, len(msg.Transactions)),
	}
	for _, tx := range msg.Transactions {
		blk.Txs = append(blk.Txs, NewCompactTx(tx))
	}
	return blk, nil
}
