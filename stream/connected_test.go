package stream_test

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/chainquery/blockdb/blkfile"
	"github.com/chainquery/blockdb/internal/chaintest"
	"github.com/chainquery/blockdb/stream"
	"github.com/chainquery/blockdb/utxo"
	"github.com/chainquery/blockdb/view"
	"github.com/stretchr/testify/require"
)

// spendChain builds a chain exercising both connection cases: a spend of an
// output created blocks earlier, and a same-block chain where one
// transaction spends another from the very same block.
func spendChain() *chaintest.Builder {
	builder := chaintest.NewBuilder()
	builder.AddBlock() // 0
	builder.AddBlock() // 1
	builder.AddBlock() // 2

	// Block 3: cross-block spend of block 1's first coinbase output.
	crossSpend := chaintest.SpendTx(
		[]*wire.TxOut{{
			Value:    chaintest.CoinbaseValue,
			PkScript: chaintest.P2PKHScript(0x30),
		}},
		wire.OutPoint{
			Hash:  builder.Blocks()[1].Transactions[0].TxHash(),
			Index: 0,
		},
	)
	builder.AddBlock(crossSpend)

	// Block 4: txA spends block 2's coinbase; txB spends txA's output
	// within the same block.
	txA := chaintest.SpendTx(
		[]*wire.TxOut{{
			Value:    chaintest.CoinbaseValue,
			PkScript: chaintest.P2PKHScript(0x40),
		}},
		wire.OutPoint{
			Hash:  builder.Blocks()[2].Transactions[0].TxHash(),
			Index: 0,
		},
	)
	txB := chaintest.SpendTx(
		[]*wire.TxOut{{
			Value:    chaintest.CoinbaseValue,
			PkScript: chaintest.P2PKHScript(0x41),
		}},
		wire.OutPoint{Hash: txA.TxHash(), Index: 0},
	)
	builder.AddBlock(txA, txB)

	return builder
}

// newConnected assembles the pipeline over the written chain.
func newConnected(t *testing.T, builder *chaintest.Builder,
	backend utxo.Backend) *stream.ConnectedIterator[*view.ConnectedBlock] {

	t.Helper()

	dir := t.TempDir()
	layout := chaintest.WriteDataDir(t, dir, builder.Blocks(),
		chaintest.Options{})

	store, err := blkfile.Open(dir + "/blocks")
	require.NoError(t, err)

	tasks := make([]stream.Task, len(builder.Blocks()))
	for h := range tasks {
		tasks[h] = stream.Task{
			Height:  uint32(h),
			File:    layout.File[h],
			DataPos: layout.DataPos[h],
		}
	}

	inner := stream.New(store, tasks, view.DecodeBlock, stream.Config{
		Workers: 3,
	})
	identity := func(b *view.ConnectedBlock) *view.ConnectedBlock {
		return b
	}
	return stream.NewConnected(inner, backend, identity)
}

// addrStrings flattens an address list for comparison.
func addrStrings(addrs []btcutil.Address) []string {
	out := make([]string, len(addrs))
	for i, addr := range addrs {
		out[i] = addr.EncodeAddress()
	}
	return out
}

// scriptAddrs extracts the expected address strings from a script.
func scriptAddrs(script []byte) []string {
	_, addrs := view.ExtractAddresses(script)
	return addrStrings(addrs)
}

// TestConnectedDecoration walks the pipeline and checks every input
// against the output it spends, for both backends.
func TestConnectedDecoration(t *testing.T) {
	builder := spendChain()

	level, err := utxo.NewEphemeralLevelBackend()
	require.NoError(t, err)

	backends := map[string]utxo.Backend{
		"memory": utxo.NewMemoryBackend(),
		"level":  level,
	}

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			it := newConnected(t, builder, backend)

			var height uint32
			for it.Next() {
				require.Equal(t, height, it.Height())
				checkBlock(t, builder, it.Item())
				height++
			}
			require.NoError(t, it.Err())
			require.EqualValues(t, len(builder.Blocks()), height)
		})
	}
}

// checkBlock verifies one connected block's decorations against the source
// chain.
func checkBlock(t *testing.T, builder *chaintest.Builder,
	blk *view.ConnectedBlock) {

	t.Helper()

	// Index every output script in the chain by outpoint.
	scripts := make(map[wire.OutPoint][]byte)
	for _, src := range builder.Blocks() {
		for _, tx := range src.Transactions {
			txid := tx.TxHash()
			for i, out := range tx.TxOut {
				op := wire.OutPoint{
					Hash:  txid,
					Index: uint32(i),
				}
				scripts[op] = out.PkScript
			}
		}
	}

	for _, tx := range blk.Txs {
		for _, in := range tx.In {
			if in.IsCoinbase() {
				require.Empty(t, in.Addresses)
				continue
			}

			op := wire.OutPoint{
				Hash:  in.PrevTxID,
				Index: in.Vout,
			}
			script, ok := scripts[op]
			require.True(t, ok, "unknown outpoint %v", op)
			require.Equal(t, scriptAddrs(script),
				addrStrings(in.Addresses))
		}
	}
}

// TestConnectedUTXOAccounting checks that after each block the set size
// equals created minus spent outputs, and that two runs agree step by
// step.
func TestConnectedUTXOAccounting(t *testing.T) {
	builder := spendChain()

	sizes := func() []int {
		backend := utxo.NewMemoryBackend()
		it := newConnected(t, builder, backend)

		var out []int
		for it.Next() {
			out = append(out, backend.Len())
		}
		require.NoError(t, it.Err())
		return out
	}

	first := sizes()

	// Independent accounting from the source chain.
	want := make([]int, 0, len(builder.Blocks()))
	total := 0
	for _, blk := range builder.Blocks() {
		for _, tx := range blk.Transactions {
			total += len(tx.TxOut)
			for _, in := range tx.TxIn {
				if in.PreviousOutPoint.Index !=
					wire.MaxPrevOutIndex {

					total--
				}
			}
		}
		want = append(want, total)
	}
	require.Equal(t, want, first)

	// A second sweep over the same data is byte-for-byte the same
	// state machine.
	require.Equal(t, first, sizes())
}

// TestConnectedMissingUTXO checks that an unresolvable outpoint terminates
// the stream with the error.
func TestConnectedMissingUTXO(t *testing.T) {
	builder := chaintest.NewBuilder()
	builder.AddBlock()

	bogus := chaintest.SpendTx(
		[]*wire.TxOut{{
			Value:    1,
			PkScript: chaintest.P2PKHScript(0x66),
		}},
		wire.OutPoint{
			Hash:  builder.Blocks()[0].Transactions[0].TxHash(),
			Index: 7, // no such output
		},
	)
	builder.AddBlock(bogus)

	it := newConnected(t, builder, utxo.NewMemoryBackend())

	require.True(t, it.Next()) // block 0
	require.False(t, it.Next())
	require.ErrorIs(t, it.Err(), utxo.ErrMissingUTXO)

	require.False(t, it.Next())
}

// TestConnectedCloseReleasesBackend checks that closing the stream early
// also closes an ephemeral backend, removing its scratch directory.
func TestConnectedCloseReleasesBackend(t *testing.T) {
	builder := spendChain()

	backend, err := utxo.NewEphemeralLevelBackend()
	require.NoError(t, err)

	it := newConnected(t, builder, backend)
	require.True(t, it.Next())
	it.Close()

	require.NoError(t, it.Err())
	require.False(t, it.Next())

	// The backend is gone: operations on it fail.
	_, err = backend.Remove(utxo.Key{})
	require.Error(t, err)
}

// TestConnectedCoinbaseOnly checks the boundary case of a chain with
// nothing but coinbases: every block connects, every input is empty.
func TestConnectedCoinbaseOnly(t *testing.T) {
	builder := chaintest.NewBuilder()
	builder.AddBlock()
	builder.AddBlock()

	it := newConnected(t, builder, utxo.NewMemoryBackend())

	var count int
	for it.Next() {
		blk := it.Item()
		require.Len(t, blk.Txs, 1)
		require.Len(t, blk.Txs[0].In, 1)
		require.Empty(t, blk.Txs[0].In[0].Addresses)
		count++
	}
	require.NoError(t, it.Err())
	require.Equal(t, 2, count)
}
