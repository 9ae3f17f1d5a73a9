// Package blockcache provides a size-bounded LRU over raw block fetches, so
// repeated point queries for the same heights skip the disk.
package blockcache

import (
	"errors"
	"strconv"

	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
	"golang.org/x/sync/singleflight"
)

// rawBlock wraps the raw block bytes so the LRU can account capacity in
// bytes rather than entries.
type rawBlock []byte

// Size returns the number of bytes the entry occupies.
func (b rawBlock) Size() (uint64, error) {
	return uint64(len(b)), nil
}

// Cache is an LRU keyed by block height with a byte-size capacity.
// Concurrent requests for the same height are collapsed into one fetch.
type Cache struct {
	cache *lru.Cache[uint32, rawBlock]
	group singleflight.Group
}

// New creates a cache holding at most capacity bytes of raw blocks.
func New(capacity uint64) *Cache {
	return &Cache{
		cache: lru.NewCache[uint32, rawBlock](capacity),
	}
}

// GetBlock returns the raw block at the given height, fetching it with
// fetch on a miss and caching the result. Only one fetch per height runs at
// a time; concurrent callers share its outcome.
func (c *Cache) GetBlock(height uint32,
	fetch func() ([]byte, error)) ([]byte, error) {

	raw, err, _ := c.group.Do(strconv.FormatUint(uint64(height), 10),
		func() (interface{}, error) {
			cached, err := c.cache.Get(height)
			if err == nil {
				return []byte(cached), nil
			}
			if !errors.Is(err, cache.ErrElementNotFound) {
				return nil, err
			}

			fetched, err := fetch()
			if err != nil {
				return nil, err
			}
			if _, err := c.cache.Put(
				height, rawBlock(fetched),
			); err != nil {
				// An entry larger than the whole cache cannot
				// be stored; serve it uncached.
				log.Debugf("Not caching block at height "+
					"%d: %v", height, err)
			}
			return fetched, nil
		})
	if err != nil {
		return nil, err
	}
	return raw.([]byte), nil
}
