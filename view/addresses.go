package view

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// ExtractAddresses classifies a script public key and derives the addresses
// it pays to: the key hash for P2PKH/P2WPKH, the script hash for P2SH/P2WSH,
// the output key for P2TR, the public key itself for P2PK, and every key for
// bare multisig. Extraction is best effort; nonstandard or undecodable
// scripts yield an empty list and never an error.
func ExtractAddresses(pkScript []byte) (txscript.ScriptClass,
	[]btcutil.Address) {

	class, addrs, _, err := txscript.ExtractPkScriptAddrs(
		pkScript, &chaincfg.MainNetParams,
	)
	if err != nil {
		return txscript.NonStandardTy, nil
	}
	return class, addrs
}
