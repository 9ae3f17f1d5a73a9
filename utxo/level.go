package utxo

import (
	"errors"
	"fmt"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelBackend keeps the UTXO set in a goleveldb store. Inserts and removes
// accumulate in an in-memory overlay plus a write batch; Flush commits the
// batch in one atomic write, so a crash between blocks leaves either the
// pre-block or the post-block state on disk, never a torn block.
type LevelBackend struct {
	db   *leveldb.DB
	path string

	// ephemeral marks a scratch store whose directory is removed again
	// on Close.
	ephemeral bool

	// overlay holds values inserted since the last Flush, so that
	// same-batch spends can be answered without touching the store.
	overlay map[Key][]byte
	batch   *leveldb.Batch
}

// levelOptions tunes goleveldb for the write-heavy, scan-free access
// pattern of a chain sweep: a large memtable to keep batches cheap, and no
// compression since the values are tiny already.
func levelOptions() *opt.Options {
	return &opt.Options{
		WriteBuffer:            128 * opt.MiB,
		CompactionTableSize:    32 * opt.MiB,
		OpenFilesCacheCapacity: 64,
		Compression:            opt.NoCompression,
	}
}

// NewLevelBackend opens (creating if needed) a leveldb UTXO store at the
// given path. The directory persists across Close; the caller owns it.
func NewLevelBackend(path string) (*LevelBackend, error) {
	db, err := leveldb.OpenFile(path, levelOptions())
	if err != nil {
		return nil, fmt.Errorf("open utxo store: %w", err)
	}
	return &LevelBackend{
		db:      db,
		path:    path,
		overlay: make(map[Key][]byte),
		batch:   new(leveldb.Batch),
	}, nil
}

// NewEphemeralLevelBackend creates a leveldb UTXO store in a fresh scratch
// directory that is deleted again when the backend is closed.
func NewEphemeralLevelBackend() (*LevelBackend, error) {
	dir, err := os.MkdirTemp("", "blockdb-utxo-")
	if err != nil {
		return nil, fmt.Errorf("create utxo scratch dir: %w", err)
	}
	be, err := NewLevelBackend(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	be.ephemeral = true
	log.Debugf("Ephemeral UTXO store at %s", dir)
	return be, nil
}

// Insert records a newly created output in the pending batch.
func (l *LevelBackend) Insert(key Key, value []byte) error {
	l.overlay[key] = value
	l.batch.Put(key[:], value)
	return nil
}

// Remove deletes a spent output and returns the value it was inserted with.
// Outputs created since the last Flush are served from the overlay; older
// ones go through the store's read path.
func (l *LevelBackend) Remove(key Key) ([]byte, error) {
	if value, ok := l.overlay[key]; ok {
		delete(l.overlay, key)
		l.batch.Delete(key[:])
		return value, nil
	}

	value, err := l.db.Get(key[:], nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, fmt.Errorf("%w: %x", ErrMissingUTXO, key[:])
	case err != nil:
		return nil, fmt.Errorf("utxo read: %w", err)
	}
	l.batch.Delete(key[:])
	return value, nil
}

// Flush atomically commits all pending inserts and removes.
func (l *LevelBackend) Flush() error {
	if l.batch.Len() == 0 {
		return nil
	}
	err := l.db.Write(l.batch, &opt.WriteOptions{Sync: false})
	if err != nil {
		return fmt.Errorf("utxo batch write: %w", err)
	}
	l.batch.Reset()
	clear(l.overlay)
	return nil
}

// Close releases the store and, for ephemeral backends, removes its
// directory.
func (l *LevelBackend) Close() error {
	err := l.db.Close()
	if l.ephemeral {
		if rmErr := os.RemoveAll(l.path); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}
