// Package view decodes consensus-encoded blocks into the shapes the library
// serves: full blocks with scripts and witnesses, compact blocks stripped
// down to outpoints, values and addresses, and connected variants whose
// inputs carry the addresses of the outputs they spend. Decoding delegates
// the byte grammar to the btcd wire package; this package adds txid
// computation and best-effort address extraction on top.
package view

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ErrMalformedBlock is returned when raw bytes cannot be decoded as a
// consensus-encoded block or transaction, or when decoding leaves bytes
// unconsumed.
var ErrMalformedBlock = errors.New("malformed block")

// Header is the 80-byte consensus header together with its derived hash.
type Header struct {
	Hash       chainhash.Hash
	Version    int32
	PrevBlock  chainhash.Hash
	MerkleRoot chainhash.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// newHeader derives a Header from a wire header, computing the block hash.
func newHeader(h *wire.BlockHeader) Header {
	return Header{
		Hash:       h.BlockHash(),
		Version:    h.Version,
		PrevBlock:  h.PrevBlock,
		MerkleRoot: h.MerkleRoot,
		Timestamp:  uint32(h.Timestamp.Unix()),
		Bits:       h.Bits,
		Nonce:      h.Nonce,
	}
}

// Block is the full view: every field Core stores, plus the precomputed
// block hash, txids, script classes and addresses.
type Block struct {
	Header Header
	Txs    []*Tx
}

// Tx is a fully decoded transaction.
type Tx struct {
	// TxID is the double-SHA-256 of the non-witness serialization.
	TxID     chainhash.Hash
	Version  int32
	LockTime uint32

	In  []*TxIn
	Out []*TxOut
}

// IsCoinbase reports whether the transaction is the block's coinbase: a
// single input spending the all-zero outpoint sentinel.
func (t *Tx) IsCoinbase() bool {
	return len(t.In) == 1 && t.In[0].IsCoinbase()
}

// TxIn is a transaction input.
type TxIn struct {
	PrevTxID        chainhash.Hash
	Vout            uint32
	SignatureScript []byte
	Sequence        uint32
	Witness         wire.TxWitness
}

// IsCoinbase reports whether the input spends the coinbase sentinel
// outpoint.
func (in *TxIn) IsCoinbase() bool {
	return in.Vout == wire.MaxPrevOutIndex &&
		in.PrevTxID == (chainhash.Hash{})
}

// TxOut is a transaction output with its decoded addresses. Addresses is
// empty when the script is nonstandard.
type TxOut struct {
	Value     int64
	PkScript  []byte
	Class     txscript.ScriptClass
	Addresses []btcutil.Address
}

// decodeMsgBlock decodes raw block bytes, requiring that the whole buffer is
// consumed: a length prefix pointing past the encoded block means the blk
// file record is damaged.
func decodeMsgBlock(raw []byte) (*wire.MsgBlock, error) {
	r := bytes.NewReader(raw)
	var msg wire.MsgBlock
	if err := msg.Deserialize(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes",
			ErrMalformedBlock, r.Len())
	}
	return &msg, nil
}

// NewTx builds the full view of a single decoded transaction.
func NewTx(msg *wire.MsgTx) *Tx {
	tx := &Tx{
		TxID:     msg.TxHash(),
		Version:  msg.Version,
		LockTime: msg.LockTime,
		In:       make([]*TxIn, 0, len(msg.TxIn)),
		Out:      make([]*TxOut, 0, len(msg.TxOut)),
	}
	for _, in := range msg.TxIn {
		tx.In = append(tx.In, &TxIn{
			PrevTxID:        in.PreviousOutPoint.Hash,
			Vout:            in.PreviousOutPoint.Index,
			SignatureScript: in.SignatureScript,
			Sequence:        in.Sequence,
			Witness:         in.Witness,
		})
	}
	for _, out := range msg.TxOut {
		class, addrs := ExtractAddresses(out.PkScript)
		tx.Out = append(tx.Out, &TxOut{
			Value:     out.Value,
			PkScript:  out.PkScript,
			Class:     class,
			Addresses: addrs,
		})
	}
	return tx
}

// DecodeBlock decodes raw block bytes into the full view.
func DecodeBlock(raw []byte) (*Block, error) {
	msg, err := decodeMsgBlock(raw)
	if err != nil {
		return nil, err
	}

	blk := &Block{
		Header: newHeader(&msg.Header),
		Txs:    make([]*Tx, 0, len(msg.Transactions)),
	}
	for _, tx := range msg.Transactions {
		blk.Txs = append(blk.Txs, NewTx(tx))
	}
	return blk, nil
}

// MsgTx reconstructs the wire form of the transaction. The full view keeps
// every consensus field, so the result serializes back to the exact bytes
// the transaction was decoded from.
func (t *Tx) MsgTx() *wire.MsgTx {
	msg := &wire.MsgTx{
		Version:  t.Version,
		LockTime: t.LockTime,
		TxIn:     make([]*wire.TxIn, 0, len(t.In)),
		TxOut:    make([]*wire.TxOut, 0, len(t.Out)),
	}
	for _, in := range t.In {
		msg.TxIn = append(msg.TxIn, &wire.TxIn{
			PreviousOutPoint: wire.OutPoint{
				Hash:  in.PrevTxID,
				Index: in.Vout,
			},
			SignatureScript: in.SignatureScript,
			Witness:         in.Witness,
			Sequence:        in.Sequence,
		})
	}
	for _, out := range t.Out {
		msg.TxOut = append(msg.TxOut, &wire.TxOut{
			Value:    out.Value,
			PkScript: out.PkScript,
		})
	}
	return msg
}
