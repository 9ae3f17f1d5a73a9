// Package blkfile reads raw blocks and transactions out of Bitcoin Core's
// append-only blk*.dat files. Core 28.0 and later may XOR the files with an
// 8-byte mask stored in blocks/xor.dat; reads transparently undo the mask.
package blkfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/wire"
)

// headerSize is the size of the consensus block header preceding the
// transactions inside a stored block.
const headerSize = 80

// maskLen is the length of the XOR mask in blocks/xor.dat.
const maskLen = 8

// maxBlockLen bounds a stored block's length prefix. Anything larger than
// Core's own network message cap means the offset points at garbage.
const maxBlockLen = 32 * 1024 * 1024

var (
	// ErrNoBlockFiles is returned when the blocks directory holds no
	// blk*.dat file at all.
	ErrNoBlockFiles = errors.New("no blk files found")

	// ErrUnknownBlockFile is returned when the block index references a
	// blk file that does not exist on disk.
	ErrUnknownBlockFile = errors.New("blk file not found")
)

// parseBlkNumber extracts the file number from a blk file name, e.g. 170
// from "blk00170.dat". It returns false for anything that is not a blk data
// file.
func parseBlkNumber(name string) (uint32, bool) {
	s, ok := strings.CutPrefix(name, "blk")
	if !ok {
		return 0, false
	}
	s, ok = strings.CutSuffix(s, ".dat")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Store is an immutable catalog of the blk files found in a blocks
// directory, together with the obfuscation mask if one exists. It opens no
// file handles itself; NewReader hands out readers that do.
type Store struct {
	paths map[uint32]string
	mask  *[maskLen]byte
}

// Open scans the given blocks directory (the "blocks" subdirectory of a Core
// data dir) for blk*.dat files and reads the XOR mask when present.
// Symlinked entries are resolved so that pruned setups spread over multiple
// disks still work.
func Open(blocksDir string) (*Store, error) {
	entries, err := os.ReadDir(blocksDir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", blocksDir, err)
	}

	paths := make(map[uint32]string, len(entries))
	for _, entry := range entries {
		path := filepath.Join(blocksDir, entry.Name())
		if entry.Type()&os.ModeSymlink != 0 {
			if path, err = filepath.EvalSymlinks(path); err != nil {
				return nil, err
			}
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if n, ok := parseBlkNumber(entry.Name()); ok {
			paths[n] = path
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoBlockFiles, blocksDir)
	}

	mask, err := readMask(blocksDir)
	if err != nil {
		return nil, err
	}
	if mask != nil {
		log.Debugf("Using XOR mask from %s",
			filepath.Join(blocksDir, "xor.dat"))
	}

	log.Debugf("Found %d blk files in %s", len(paths), blocksDir)

	return &Store{paths: paths, mask: mask}, nil
}

// readMask loads blocks/xor.dat. A missing file means the blocks are stored
// in the clear, which is the case for every Core version before 28.0.
func readMask(blocksDir string) (*[maskLen]byte, error) {
	raw, err := os.ReadFile(filepath.Join(blocksDir, "xor.dat"))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("reading xor.dat: %w", err)
	}
	if len(raw) < maskLen {
		return nil, fmt.Errorf("xor.dat holds %d bytes, want %d",
			len(raw), maskLen)
	}

	var mask [maskLen]byte
	copy(mask[:], raw)

	// An all-zero mask is written by Core when obfuscation is off.
	if mask == [maskLen]byte{} {
		return nil, nil
	}
	return &mask, nil
}

// NewReader returns a reader over the store. Each reader caches one open
// handle per blk file and is intended to be owned by a single goroutine;
// the Store itself is freely shared.
func (s *Store) NewReader() *Reader {
	return &Reader{store: s, open: make(map[uint32]*os.File)}
}

// Reader reads blocks and transactions at offsets taken from the block or
// transaction index. It is not safe for concurrent use.
type Reader struct {
	store *Store
	open  map[uint32]*os.File
}

// file returns a cached handle for the given blk file number, opening it
// read-only on first use.
func (r *Reader) file(n uint32) (*os.File, error) {
	if f, ok := r.open[n]; ok {
		return f, nil
	}
	path, ok := r.store.paths[n]
	if !ok {
		return nil, fmt.Errorf("%w: blk%05d.dat", ErrUnknownBlockFile,
			n)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r.open[n] = f
	return f, nil
}

// unmask applies the store's XOR mask in place to data that was read from
// absolute file offset off.
func (r *Reader) unmask(buf []byte, off int64) {
	mask := r.store.mask
	if mask == nil {
		return
	}
	for i := range buf {
		buf[i] ^= mask[(off+int64(i))%maskLen]
	}
}

// ReadBlock returns the raw consensus-encoded block stored at dataPos in the
// given blk file. dataPos points at the block payload, directly past the
// 8-byte magic/length record prefix, matching what the block index stores.
func (r *Reader) ReadBlock(file, dataPos uint32) ([]byte, error) {
	f, err := r.file(file)
	if err != nil {
		return nil, err
	}

	// The 4 bytes preceding the payload carry its length.
	var lenBuf [4]byte
	lenOff := int64(dataPos) - 4
	if _, err := f.ReadAt(lenBuf[:], lenOff); err != nil {
		return nil, fmt.Errorf("reading block length: %w", err)
	}
	r.unmask(lenBuf[:], lenOff)
	blockLen := binary.LittleEndian.Uint32(lenBuf[:])
	if blockLen > maxBlockLen {
		return nil, fmt.Errorf("block length %d at blk%05d.dat:%d "+
			"exceeds maximum", blockLen, file, dataPos)
	}

	raw := make([]byte, blockLen)
	if _, err := f.ReadAt(raw, int64(dataPos)); err != nil {
		return nil, fmt.Errorf("reading block: %w", err)
	}
	r.unmask(raw, int64(dataPos))

	return raw, nil
}

// ReadTx decodes the transaction stored at txOffset past the block header of
// the block at dataPos, the location format used by Core's transaction
// index.
func (r *Reader) ReadTx(file, dataPos, txOffset uint32) (*wire.MsgTx, error) {
	f, err := r.file(file)
	if err != nil {
		return nil, err
	}

	off := int64(dataPos) + headerSize + int64(txOffset)
	src := &maskedReader{
		r:    io.NewSectionReader(f, off, 1<<31),
		pos:  off,
		mask: r.store.mask,
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bufio.NewReader(src)); err != nil {
		return nil, fmt.Errorf("decoding transaction: %w", err)
	}
	return &tx, nil
}

// Close releases all cached file handles. The reader may be reused
// afterwards; handles reopen on demand.
func (r *Reader) Close() {
	for n, f := range r.open {
		if err := f.Close(); err != nil {
			log.Warnf("Closing blk%05d.dat: %v", n, err)
		}
		delete(r.open, n)
	}
}

// maskedReader undoes the XOR obfuscation on a streaming read, tracking the
// absolute file position so the right mask bytes line up.
type maskedReader struct {
	r    io.Reader
	pos  int64
	mask *[maskLen]byte
}

func (m *maskedReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if m.mask != nil {
		for i := 0; i < n; i++ {
			p[i] ^= m.mask[(m.pos+int64(i))%maskLen]
		}
	}
	m.pos += int64(n)
	return n, err
}
