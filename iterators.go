package blockdb

import (
	"fmt"

	"github.com/chainquery/blockdb/stream"
	"github.com/chainquery/blockdb/utxo"
	"github.com/chainquery/blockdb/view"
)

// rangeTasks builds the task list for a height range scan. The upper bound
// is clamped to the available block count, matching the behavior of
// scanning "to the tip": asking past the tip is not an error, it just ends
// early. A lower bound above the upper is.
func (db *DB) rangeTasks(lo, hi uint32) ([]stream.Task, error) {
	if lo > hi {
		return nil, fmt.Errorf("%w: range [%d, %d)", ErrOutOfRange,
			lo, hi)
	}
	if count := db.index.BlockCount(); hi > count {
		log.Debugf("Clamping scan upper bound %d to block count %d",
			hi, count)
		hi = count
	}
	if lo >= hi {
		return nil, nil
	}

	tasks := make([]stream.Task, 0, hi-lo)
	for h := lo; h < hi; h++ {
		rec, err := db.index.Record(h)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, stream.Task{
			Height:  h,
			File:    rec.File,
			DataPos: rec.DataPos,
		})
	}
	return tasks, nil
}

// heightTasks builds the task list for an explicit height list, in the
// given order. Unlike a range scan, an unavailable height is an error up
// front.
func (db *DB) heightTasks(heights []uint32) ([]stream.Task, error) {
	tasks := make([]stream.Task, 0, len(heights))
	for _, h := range heights {
		rec, err := db.dataRecord(h)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, stream.Task{
			Height:  h,
			File:    rec.File,
			DataPos: rec.DataPos,
		})
	}
	return tasks, nil
}

// streamConfig translates iterator options.
func streamConfig(cfg *iterConfig) stream.Config {
	return stream.Config{Workers: cfg.workers, Window: cfg.window}
}

// applyIterOptions collects the per-scan settings.
func applyIterOptions(opts []IterOption) *iterConfig {
	cfg := &iterConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// BlockIter streams the full view of every block in [lo, hi), strictly in
// height order. Blocks are fetched and decoded in parallel; a failed
// height is reported in its slot and the scan continues.
func (db *DB) BlockIter(lo, hi uint32,
	opts ...IterOption) (*stream.Iterator[*view.Block], error) {

	tasks, err := db.rangeTasks(lo, hi)
	if err != nil {
		return nil, err
	}
	cfg := applyIterOptions(opts)
	return stream.New(db.store, tasks, view.DecodeBlock,
		streamConfig(cfg)), nil
}

// CompactBlockIter streams the compact view of every block in [lo, hi).
func (db *DB) CompactBlockIter(lo, hi uint32,
	opts ...IterOption) (*stream.Iterator[*view.CompactBlock], error) {

	tasks, err := db.rangeTasks(lo, hi)
	if err != nil {
		return nil, err
	}
	cfg := applyIterOptions(opts)
	return stream.New(db.store, tasks, view.DecodeCompactBlock,
		streamConfig(cfg)), nil
}

// RawBlockIter streams the stored bytes of every block in [lo, hi) for
// consumers that decode themselves.
func (db *DB) RawBlockIter(lo, hi uint32,
	opts ...IterOption) (*stream.Iterator[[]byte], error) {

	tasks, err := db.rangeTasks(lo, hi)
	if err != nil {
		return nil, err
	}
	cfg := applyIterOptions(opts)
	rawDecode := func(raw []byte) ([]byte, error) { return raw, nil }
	return stream.New(db.store, tasks, rawDecode, streamConfig(cfg)), nil
}

// HeightsIter streams the full view of an explicit list of heights, in the
// order given. Duplicates are allowed.
func (db *DB) HeightsIter(heights []uint32,
	opts ...IterOption) (*stream.Iterator[*view.Block], error) {

	tasks, err := db.heightTasks(heights)
	if err != nil {
		return nil, err
	}
	cfg := applyIterOptions(opts)
	return stream.New(db.store, tasks, view.DecodeBlock,
		streamConfig(cfg)), nil
}

// newUTXOBackend builds the UTXO backend a connected scan was configured
// with: an ephemeral on-disk store unless the caller chose an explicit path
// or the in-memory table.
func newUTXOBackend(cfg *iterConfig) (utxo.Backend, error) {
	switch {
	case cfg.memUTXO:
		return utxo.NewMemoryBackend(), nil
	case cfg.utxoPath != "":
		return utxo.NewLevelBackend(cfg.utxoPath)
	default:
		return utxo.NewEphemeralLevelBackend()
	}
}

// connectedIter wires the shared plumbing of both connected iterators.
func connectedIter[T any](db *DB, hi uint32, cfg *iterConfig,
	convert func(*view.ConnectedBlock) T) (*stream.ConnectedIterator[T],
	error) {

	// Connected scans must start at height zero: the UTXO set begins
	// empty, and only a start-to-end sweep sees every funding output
	// before the input that spends it.
	tasks, err := db.rangeTasks(0, hi)
	if err != nil {
		return nil, err
	}
	backend, err := newUTXOBackend(cfg)
	if err != nil {
		return nil, err
	}

	inner := stream.New(db.store, tasks, view.DecodeBlock,
		streamConfig(cfg))
	return stream.NewConnected(inner, backend, convert), nil
}

// ConnectedBlockIter streams the full view of every block in [0, hi) with
// all inputs resolved to the addresses of the outputs they spend. The scan
// always starts at height zero, because the UTXO set begins empty and only a
// start-to-end sweep sees every funding output before its spend.
func (db *DB) ConnectedBlockIter(hi uint32,
	opts ...IterOption) (*stream.ConnectedIterator[*view.ConnectedBlock],
	error) {

	cfg := applyIterOptions(opts)
	identity := func(b *view.ConnectedBlock) *view.ConnectedBlock {
		return b
	}
	return connectedIter(db, hi, cfg, identity)
}

// CompactConnectedBlockIter is ConnectedBlockIter reduced to the compact
// view.
func (db *DB) CompactConnectedBlockIter(hi uint32,
	opts ...IterOption) (
	*stream.ConnectedIterator[*view.CompactConnectedBlock], error) {

	cfg := applyIterOptions(opts)
	return connectedIter(db, hi, cfg, view.CompactConnected)
}
