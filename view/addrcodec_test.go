package view_test

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/chainquery/blockdb/view"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// encodeDecode runs one list through the codec and compares the encoded
// address strings, which pin both payload and type.
func encodeDecode(t *testing.T, addrs []btcutil.Address) {
	t.Helper()

	raw := view.MarshalAddresses(addrs)
	decoded, err := view.UnmarshalAddresses(raw)
	require.NoError(t, err)
	require.Len(t, decoded, len(addrs))

	for i, addr := range addrs {
		require.Equal(t, addr.EncodeAddress(),
			decoded[i].EncodeAddress())
	}
}

// TestAddressCodec round trips every supported address kind.
func TestAddressCodec(t *testing.T) {
	params := &chaincfg.MainNetParams

	hash20 := bytes.Repeat([]byte{0x11}, 20)
	prog32 := bytes.Repeat([]byte{0x22}, 32)

	p2pkh, err := btcutil.NewAddressPubKeyHash(hash20, params)
	require.NoError(t, err)
	p2sh, err := btcutil.NewAddressScriptHashFromHash(hash20, params)
	require.NoError(t, err)
	p2wpkh, err := btcutil.NewAddressWitnessPubKeyHash(hash20, params)
	require.NoError(t, err)
	p2wsh, err := btcutil.NewAddressWitnessScriptHash(prog32, params)
	require.NoError(t, err)
	p2tr, err := btcutil.NewAddressTaproot(prog32, params)
	require.NoError(t, err)
	p2pk, err := btcutil.NewAddressPubKey(
		fromHex(t, pubKeyEven), params,
	)
	require.NoError(t, err)

	encodeDecode(t, nil)
	encodeDecode(t, []btcutil.Address{p2pkh})
	encodeDecode(t, []btcutil.Address{
		p2pkh, p2sh, p2wpkh, p2wsh, p2tr, p2pk,
	})
}

// TestEmptyListEncoding checks that "no recoverable address" has a
// non-empty encoding, so the UTXO store can tell it apart from an absent
// key.
func TestEmptyListEncoding(t *testing.T) {
	raw := view.MarshalAddresses(nil)
	require.NotEmpty(t, raw)

	decoded, err := view.UnmarshalAddresses(raw)
	require.NoError(t, err)
	require.Empty(t, decoded)
}

// TestUnmarshalGarbage checks that corrupt values are rejected.
func TestUnmarshalGarbage(t *testing.T) {
	_, err := view.UnmarshalAddresses(nil)
	require.Error(t, err)

	_, err = view.UnmarshalAddresses([]byte{0x01, 0xff, 0x02, 0xab})
	require.Error(t, err)

	// Valid count, truncated payload.
	_, err = view.UnmarshalAddresses([]byte{0x01, 0x02, 0x14, 0xab})
	require.Error(t, err)
}

// TestAddressCodecRapid round trips random script-derived address lists.
func TestAddressCodecRapid(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 5).Draw(rt, "n")

		addrs := make([]btcutil.Address, 0, n)
		for i := 0; i < n; i++ {
			hash := rapid.SliceOfN(
				rapid.Byte(), 20, 20,
			).Draw(rt, "hash")

			script := append([]byte{
				txscript.OP_DUP, txscript.OP_HASH160, 0x14,
			}, hash...)
			script = append(script, txscript.OP_EQUALVERIFY,
				txscript.OP_CHECKSIG)

			_, extracted := view.ExtractAddresses(script)
			if len(extracted) != 1 {
				rt.Fatalf("p2pkh script yielded %d addresses",
					len(extracted))
			}
			addrs = append(addrs, extracted[0])
		}

		raw := view.MarshalAddresses(addrs)
		decoded, err := view.UnmarshalAddresses(raw)
		if err != nil {
			rt.Fatalf("decoding: %v", err)
		}
		if len(decoded) != len(addrs) {
			rt.Fatalf("length mismatch: %d != %d", len(decoded),
				len(addrs))
		}
		for i := range addrs {
			if addrs[i].EncodeAddress() !=
				decoded[i].EncodeAddress() {

				rt.Fatalf("address %d mismatch", i)
			}
		}
	})
}
