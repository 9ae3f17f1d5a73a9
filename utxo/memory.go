package utxo

import "fmt"

// MemoryBackend keeps the full UTXO set in a hash table. Fastest option,
// but a mainnet-scale run needs tens of gigabytes of RAM; use the leveldb
// backend when that is not available.
type MemoryBackend struct {
	set map[Key][]byte
}

// NewMemoryBackend returns an empty in-memory UTXO set.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{set: make(map[Key][]byte)}
}

// Insert records a newly created output.
func (m *MemoryBackend) Insert(key Key, value []byte) error {
	m.set[key] = value
	return nil
}

// Remove deletes a spent output and returns its value.
func (m *MemoryBackend) Remove(key Key) ([]byte, error) {
	value, ok := m.set[key]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrMissingUTXO, key[:])
	}
	delete(m.set, key)
	return value, nil
}

// Flush is a no-op; the set lives in memory.
func (m *MemoryBackend) Flush() error {
	return nil
}

// Close drops the set.
func (m *MemoryBackend) Close() error {
	m.set = nil
	return nil
}

// Len returns the number of unspent outputs currently tracked.
func (m *MemoryBackend) Len() int {
	return len(m.set)
}
