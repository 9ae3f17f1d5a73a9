// Package chaintest fabricates miniature Bitcoin Core data directories for
// tests: a deterministic chain of valid consensus-encoded blocks, the blk
// files holding them, and the leveldb block and transaction indexes Core
// would have written alongside. Nothing here does proof of work; the
// library under test never validates it.
package chaintest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/chainquery/blockdb/blockindex"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
)

// Block status bits as Core writes them: script-validated with block data
// present.
const recordStatus = 5 | 8

// CoinbaseValue is the output value used for generated coinbases, in
// satoshis.
const CoinbaseValue int64 = 50 * 100_000_000

// Builder assembles a deterministic chain block by block.
type Builder struct {
	blocks []*wire.MsgBlock
}

// NewBuilder returns a Builder with an empty chain.
func NewBuilder() *Builder {
	return &Builder{}
}

// Blocks returns the chain built so far.
func (b *Builder) Blocks() []*wire.MsgBlock {
	return b.blocks
}

// Tip returns the last block added.
func (b *Builder) Tip() *wire.MsgBlock {
	return b.blocks[len(b.blocks)-1]
}

// P2PKHScript returns a pay-to-pubkey-hash script whose 20-byte hash is the
// seed byte repeated, giving every generated output a distinct, predictable
// address.
func P2PKHScript(seed byte) []byte {
	script := make([]byte, 0, 25)
	script = append(script, txscript.OP_DUP, txscript.OP_HASH160, 0x14)
	for i := 0; i < 20; i++ {
		script = append(script, seed)
	}
	return append(script, txscript.OP_EQUALVERIFY, txscript.OP_CHECKSIG)
}

// CoinbaseTx builds the coinbase for the given height. The height is
// encoded into the signature script so every coinbase has a unique txid.
func CoinbaseTx(height uint32, outs ...*wire.TxOut) *wire.MsgTx {
	var sig [8]byte
	binary.LittleEndian.PutUint32(sig[:4], height)

	tx := &wire.MsgTx{
		Version: 1,
		TxIn: []*wire.TxIn{{
			PreviousOutPoint: wire.OutPoint{
				Index: wire.MaxPrevOutIndex,
			},
			SignatureScript: sig[:],
			Sequence:        wire.MaxTxInSequenceNum,
		}},
		TxOut: outs,
	}
	return tx
}

// SpendTx builds a transaction spending the given outpoints into the given
// outputs.
func SpendTx(outs []*wire.TxOut, prevs ...wire.OutPoint) *wire.MsgTx {
	tx := &wire.MsgTx{Version: 2, TxOut: outs}
	for _, prev := range prevs {
		tx.TxIn = append(tx.TxIn, &wire.TxIn{
			PreviousOutPoint: prev,
			SignatureScript:  []byte{txscript.OP_TRUE},
			Sequence:         wire.MaxTxInSequenceNum,
		})
	}
	return tx
}

// AddBlock appends a block holding a generated coinbase plus the given
// transactions and returns it. The coinbase pays two outputs whose
// addresses are derived from the height.
func (b *Builder) AddBlock(txs ...*wire.MsgTx) *wire.MsgBlock {
	height := uint32(len(b.blocks))

	coinbase := CoinbaseTx(height,
		&wire.TxOut{
			Value:    CoinbaseValue,
			PkScript: P2PKHScript(byte(height)),
		},
		&wire.TxOut{
			Value:    CoinbaseValue / 2,
			PkScript: P2PKHScript(byte(height) ^ 0xff),
		},
	)

	var prev chainhash.Hash
	if height > 0 {
		prev = b.Tip().BlockHash()
	}

	blk := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:   1,
			PrevBlock: prev,
			// The library never checks the merkle root; the
			// coinbase txid keeps it deterministic.
			MerkleRoot: coinbase.TxHash(),
			Timestamp: time.Unix(
				1231006505+int64(height)*600, 0,
			),
			Bits:  0x1d00ffff,
			Nonce: height,
		},
		Transactions: append([]*wire.MsgTx{coinbase}, txs...),
	}
	b.blocks = append(b.blocks, blk)
	return blk
}

// Options controls what WriteDataDir lays down.
type Options struct {
	// XORMask obfuscates the blk files and writes blocks/xor.dat, the
	// way Core 28.0+ does when configured to.
	XORMask *[8]byte

	// TxIndex writes indexes/txindex as well.
	TxIndex bool

	// BlocksPerFile splits the chain over multiple blk files. Zero
	// means everything lands in blk00000.dat.
	BlocksPerFile int

	// DropRecordAt drops the block index record at the given height,
	// producing a corrupt index. Zero means none; the genesis record is
	// always written.
	DropRecordAt int
}

// Layout reports where WriteDataDir put each block.
type Layout struct {
	// File and DataPos give each block's blk file number and payload
	// offset, by height.
	File    []uint32
	DataPos []uint32

	// TxOffsets gives, per height, each transaction's offset past the
	// block header, as recorded in the transaction index.
	TxOffsets [][]uint32
}

// WriteDataDir materializes the chain as a Core data directory under dir.
func WriteDataDir(t *testing.T, dir string, blocks []*wire.MsgBlock,
	opts Options) *Layout {

	t.Helper()

	blocksDir := filepath.Join(dir, "blocks")
	require.NoError(t, os.MkdirAll(blocksDir, 0o755))

	perFile := opts.BlocksPerFile
	if perFile <= 0 {
		perFile = len(blocks) + 1
	}

	layout := &Layout{
		File:      make([]uint32, len(blocks)),
		DataPos:   make([]uint32, len(blocks)),
		TxOffsets: make([][]uint32, len(blocks)),
	}

	// Lay the blocks into blk files: magic, length, payload.
	files := make(map[uint32][]byte)
	for height, blk := range blocks {
		fileNo := uint32(height / perFile)
		data := files[fileNo]

		var payload bytes.Buffer
		require.NoError(t, blk.Serialize(&payload))

		var prefix [8]byte
		binary.LittleEndian.PutUint32(prefix[:4], uint32(wire.MainNet))
		binary.LittleEndian.PutUint32(
			prefix[4:], uint32(payload.Len()),
		)

		layout.File[height] = fileNo
		layout.DataPos[height] = uint32(len(data) + 8)
		layout.TxOffsets[height] = txOffsets(t, blk)

		data = append(data, prefix[:]...)
		data = append(data, payload.Bytes()...)
		files[fileNo] = data
	}
	for fileNo, data := range files {
		if opts.XORMask != nil {
			for i := range data {
				data[i] ^= opts.XORMask[i%len(opts.XORMask)]
			}
		}
		name := filepath.Join(blocksDir,
			blkFileName(fileNo))
		require.NoError(t, os.WriteFile(name, data, 0o644))
	}
	if opts.XORMask != nil {
		require.NoError(t, os.WriteFile(
			filepath.Join(blocksDir, "xor.dat"),
			opts.XORMask[:], 0o644,
		))
	}

	writeBlockIndex(t, filepath.Join(blocksDir, "index"), blocks, layout,
		opts.DropRecordAt)

	if opts.TxIndex {
		writeTxIndex(t, filepath.Join(dir, "indexes", "txindex"),
			blocks, layout)
	}

	return layout
}

// blkFileName formats a blk file name the way Core does.
func blkFileName(n uint32) string {
	const digits = "0123456789"
	name := []byte("blk00000.dat")
	for i := 7; n > 0 && i >= 3; i-- {
		name[i] = digits[n%10]
		n /= 10
	}
	return string(name)
}

// txOffsets computes each transaction's offset past the 80-byte header
// inside the serialized block.
func txOffsets(t *testing.T, blk *wire.MsgBlock) []uint32 {
	t.Helper()

	var countBuf bytes.Buffer
	err := wire.WriteVarInt(
		&countBuf, 0, uint64(len(blk.Transactions)),
	)
	require.NoError(t, err)

	offsets := make([]uint32, len(blk.Transactions))
	pos := uint32(countBuf.Len())
	for i, tx := range blk.Transactions {
		offsets[i] = pos
		pos += uint32(tx.SerializeSize())
	}
	return offsets
}

// writeBlockIndex writes the leveldb Core keeps under blocks/index: one
// record per block, keyed by 'b' plus the block hash.
func writeBlockIndex(t *testing.T, path string, blocks []*wire.MsgBlock,
	layout *Layout, dropAt int) {

	t.Helper()

	db, err := leveldb.OpenFile(path, nil)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, db.Close())
	}()

	for height, blk := range blocks {
		if dropAt != 0 && height == dropAt {
			continue
		}

		value := blockindex.AppendVarInt(nil, 1)
		value = blockindex.AppendVarInt(value, uint64(height))
		value = blockindex.AppendVarInt(value, recordStatus)
		value = blockindex.AppendVarInt(
			value, uint64(len(blk.Transactions)),
		)
		value = blockindex.AppendVarInt(
			value, uint64(layout.File[height]),
		)
		value = blockindex.AppendVarInt(
			value, uint64(layout.DataPos[height]),
		)

		var hdr bytes.Buffer
		require.NoError(t, blk.Header.Serialize(&hdr))
		value = append(value, hdr.Bytes()...)

		hash := blk.BlockHash()
		key := append([]byte{'b'}, hash[:]...)
		require.NoError(t, db.Put(key, value, nil))
	}
}

// writeTxIndex writes the leveldb Core keeps under indexes/txindex: one
// record per transaction, keyed by 't' plus the txid. The genesis coinbase
// is skipped, as Core skips it.
func writeTxIndex(t *testing.T, path string, blocks []*wire.MsgBlock,
	layout *Layout) {

	t.Helper()

	db, err := leveldb.OpenFile(path, nil)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, db.Close())
	}()

	for height, blk := range blocks {
		for i, tx := range blk.Transactions {
			if height == 0 && i == 0 {
				continue
			}

			value := blockindex.AppendVarInt(
				nil, uint64(layout.File[height]),
			)
			value = blockindex.AppendVarInt(
				value, uint64(layout.DataPos[height]),
			)
			value = blockindex.AppendVarInt(
				value, uint64(layout.TxOffsets[height][i]),
			)

			txid := tx.TxHash()
			key := append([]byte{'t'}, txid[:]...)
			require.NoError(t, db.Put(key, value, nil))
		}
	}
}
