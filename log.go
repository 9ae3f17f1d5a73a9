package blockdb

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/chainquery/blockdb/blkfile"
	"github.com/chainquery/blockdb/blockcache"
	"github.com/chainquery/blockdb/blockindex"
	"github.com/chainquery/blockdb/stream"
	"github.com/chainquery/blockdb/utxo"
	"github.com/chainquery/blockdb/view"
)

// log is a logger that is initialized with no output filters. This means the
// package will not perform any logging by default until the caller requests
// it.
var log = btclog.Disabled

// DisableLog disables log output from the whole library.
func DisableLog() {
	UseLogger(btclog.Disabled)
}

// UseLogger routes the library's log output, including every subpackage,
// through the given logger.
func UseLogger(logger btclog.Logger) {
	log = logger
	blockindex.UseLogger(logger)
	blkfile.UseLogger(logger)
	view.UseLogger(logger)
	utxo.UseLogger(logger)
	stream.UseLogger(logger)
	blockcache.UseLogger(logger)
}
