package blockdb

// config collects the handle-level settings.
type config struct {
	openTxIndex   bool
	cacheCapacity uint64
}

// defaultConfig returns the settings used when no options are given: no
// transaction index and a modest block cache.
func defaultConfig() config {
	return config{
		cacheCapacity: 32 * 1024 * 1024,
	}
}

// Option configures a DB handle at Open time.
type Option func(*config)

// WithTxIndex makes Open attempt to load Core's transaction index
// (requires that Core ran with txindex=1). Without this option every
// transaction query fails with ErrTxIndexDisabled.
func WithTxIndex() Option {
	return func(c *config) {
		c.openTxIndex = true
	}
}

// WithBlockCache sets the point-query block cache capacity in bytes. Zero
// disables the cache.
func WithBlockCache(capacity uint64) Option {
	return func(c *config) {
		c.cacheCapacity = capacity
	}
}

// iterConfig collects the per-iterator settings.
type iterConfig struct {
	workers int
	window  int

	memUTXO  bool
	utxoPath string
}

// IterOption configures a single range scan.
type IterOption func(*iterConfig)

// WithWorkers sets the number of parallel fetch/decode workers. Defaults to
// the logical CPU count.
func WithWorkers(n int) IterOption {
	return func(c *iterConfig) {
		c.workers = n
	}
}

// WithWindow bounds how many out-of-order blocks may be buffered ahead of
// the next height to emit. Defaults to four per worker.
func WithWindow(n int) IterOption {
	return func(c *iterConfig) {
		c.window = n
	}
}

// WithInMemoryUTXO backs a connected scan's UTXO set with an in-memory hash
// table instead of the on-disk store. Fastest, but a full mainnet scan
// needs north of 32 GB of RAM.
func WithInMemoryUTXO() IterOption {
	return func(c *iterConfig) {
		c.memUTXO = true
	}
}

// WithUTXOPath places the connected scan's on-disk UTXO store at the given
// directory instead of an ephemeral scratch directory. The directory
// persists after the scan; the caller owns it.
func WithUTXOPath(dir string) IterOption {
	return func(c *iterConfig) {
		c.utxoPath = dir
	}
}
