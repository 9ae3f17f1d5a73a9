package blockindex_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chainquery/blockdb/blockindex"
	"github.com/chainquery/blockdb/internal/chaintest"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
)

// writeChain materializes an n-block chain and returns the builder plus the
// data dir it was written to.
func writeChain(t *testing.T, n int,
	opts chaintest.Options) (*chaintest.Builder, string) {

	t.Helper()

	builder := chaintest.NewBuilder()
	for i := 0; i < n; i++ {
		builder.AddBlock()
	}
	dir := t.TempDir()
	chaintest.WriteDataDir(t, dir, builder.Blocks(), opts)
	return builder, dir
}

func indexPath(dir string) string {
	return filepath.Join(dir, "blocks", "index")
}

// TestLoadChain checks that a healthy index loads into a dense, correctly
// ordered chain.
func TestLoadChain(t *testing.T) {
	builder, dir := writeChain(t, 12, chaintest.Options{})

	index, err := blockindex.Load(indexPath(dir))
	require.NoError(t, err)

	require.EqualValues(t, 12, index.NumRecords())
	require.EqualValues(t, 12, index.BlockCount())

	for h, blk := range builder.Blocks() {
		rec, err := index.Record(uint32(h))
		require.NoError(t, err)

		require.Equal(t, blk.BlockHash(), rec.Hash)
		require.EqualValues(t, h, rec.Height)
		require.EqualValues(t, len(blk.Transactions), rec.NumTx)
		require.Equal(t, blk.Header.PrevBlock, rec.Header.PrevBlock)

		height, err := index.HeightByHash(&rec.Hash)
		require.NoError(t, err)
		require.EqualValues(t, h, height)
	}
}

// TestLookupFailures checks the error shapes for unknown heights and
// hashes.
func TestLookupFailures(t *testing.T) {
	_, dir := writeChain(t, 3, chaintest.Options{})

	index, err := blockindex.Load(indexPath(dir))
	require.NoError(t, err)

	_, err = index.Record(3)
	require.ErrorIs(t, err, blockindex.ErrOutOfRange)

	var unknown chainhash.Hash
	unknown[0] = 0x42
	_, err = index.HeightByHash(&unknown)
	require.ErrorIs(t, err, blockindex.ErrUnknownHash)
}

// TestMissingRecordIsCorrupt checks that a hole in the chain walk surfaces
// as index corruption at load time.
func TestMissingRecordIsCorrupt(t *testing.T) {
	_, dir := writeChain(t, 8, chaintest.Options{DropRecordAt: 5})

	_, err := blockindex.Load(indexPath(dir))
	require.ErrorIs(t, err, blockindex.ErrIndexCorrupt)
}

// putRecord writes a raw block index record for the given header.
func putRecord(t *testing.T, dir string, hdrBytes []byte, height uint64,
	status uint64, numTx uint64) {

	t.Helper()

	db, err := leveldb.OpenFile(indexPath(dir), nil)
	require.NoError(t, err)
	defer db.Close()

	value := blockindex.AppendVarInt(nil, 1)
	value = blockindex.AppendVarInt(value, height)
	value = blockindex.AppendVarInt(value, status)
	value = blockindex.AppendVarInt(value, numTx)
	if status&8 != 0 {
		value = blockindex.AppendVarInt(value, 0) // file
		value = blockindex.AppendVarInt(value, 8) // data pos
	}
	value = append(value, hdrBytes...)

	hash := chainhash.DoubleHashH(hdrBytes)
	key := append([]byte{'b'}, hash[:]...)
	require.NoError(t, db.Put(key, value, nil))
}

// TestHeaderOnlyRecordIgnored checks that records without stored block data
// (header-only entries from stale branches or headers-first sync) never
// enter the chain.
func TestHeaderOnlyRecordIgnored(t *testing.T) {
	builder, dir := writeChain(t, 6, chaintest.Options{})

	// A competing block at height 3: header-only, no data. Core keeps
	// such records around after a reorg.
	stale := *builder.Blocks()[3]
	stale.Header.Nonce = 0xdeadbeef
	var hdr bytes.Buffer
	require.NoError(t, stale.Header.Serialize(&hdr))
	putRecord(t, dir, hdr.Bytes(), 3, 5, 0)

	index, err := blockindex.Load(indexPath(dir))
	require.NoError(t, err)

	require.EqualValues(t, 6, index.NumRecords())
	rec, err := index.Record(3)
	require.NoError(t, err)
	require.Equal(t, builder.Blocks()[3].BlockHash(), rec.Hash)

	staleHash := stale.Header.BlockHash()
	_, err = index.HeightByHash(&staleHash)
	require.ErrorIs(t, err, blockindex.ErrUnknownHash)
}

// TestBlockCountStopsAtUndownloaded checks that a record with a zero
// transaction count caps BlockCount while still extending NumRecords.
func TestBlockCountStopsAtUndownloaded(t *testing.T) {
	builder, dir := writeChain(t, 6, chaintest.Options{})

	// Extend the chain with a record whose data is nominally present
	// but whose transaction count is zero, the marker for a block that
	// has not been downloaded yet.
	tip := builder.Tip()
	pending := *tip
	pending.Header.PrevBlock = tip.BlockHash()
	pending.Header.Nonce = 6

	var hdr bytes.Buffer
	require.NoError(t, pending.Header.Serialize(&hdr))
	putRecord(t, dir, hdr.Bytes(), 6, 5|8, 0)

	index, err := blockindex.Load(indexPath(dir))
	require.NoError(t, err)

	require.EqualValues(t, 7, index.NumRecords())
	require.EqualValues(t, 6, index.BlockCount())
}
