package view

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// Address kind tags used by the compact codec. The tag pins down which
// btcutil constructor rebuilds the address from its payload.
const (
	tagPubKey        = 1 // serialized public key (33 or 65 bytes)
	tagPubKeyHash    = 2 // 20-byte key hash
	tagScriptHash    = 3 // 20-byte script hash
	tagWitnessKey    = 4 // 20-byte v0 witness program
	tagWitnessScript = 5 // 32-byte v0 witness program
	tagTaproot       = 6 // 32-byte x-only output key
)

// maxAddrPayload bounds a single address payload; the largest legitimate
// payload is an uncompressed public key.
const maxAddrPayload = 65

// addrTag returns the codec tag for a concrete address type.
func addrTag(addr btcutil.Address) (uint8, error) {
	switch addr.(type) {
	case *btcutil.AddressPubKey:
		return tagPubKey, nil
	case *btcutil.AddressPubKeyHash:
		return tagPubKeyHash, nil
	case *btcutil.AddressScriptHash:
		return tagScriptHash, nil
	case *btcutil.AddressWitnessPubKeyHash:
		return tagWitnessKey, nil
	case *btcutil.AddressWitnessScriptHash:
		return tagWitnessScript, nil
	case *btcutil.AddressTaproot:
		return tagTaproot, nil
	default:
		return 0, fmt.Errorf("unsupported address type %T", addr)
	}
}

// MarshalAddresses encodes an address list as a count followed by
// (tag, payload) pairs. An empty list encodes to a single zero byte, which
// keeps "no recoverable address" distinct from an absent key in the UTXO
// store. Address types the codec does not know are skipped.
func MarshalAddresses(addrs []btcutil.Address) []byte {
	var buf bytes.Buffer

	encodable := make([]btcutil.Address, 0, len(addrs))
	tags := make([]uint8, 0, len(addrs))
	for _, addr := range addrs {
		tag, err := addrTag(addr)
		if err != nil {
			log.Warnf("Skipping address %v: %v",
				addr.EncodeAddress(), err)
			continue
		}
		encodable = append(encodable, addr)
		tags = append(tags, tag)
	}

	_ = wire.WriteVarInt(&buf, 0, uint64(len(encodable)))
	for i, addr := range encodable {
		buf.WriteByte(tags[i])
		_ = wire.WriteVarBytes(&buf, 0, addr.ScriptAddress())
	}
	return buf.Bytes()
}

// UnmarshalAddresses decodes the MarshalAddresses encoding back into
// address values.
func UnmarshalAddresses(raw []byte) ([]btcutil.Address, error) {
	r := bytes.NewReader(raw)

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("decoding address count: %w", err)
	}

	addrs := make([]btcutil.Address, 0, count)
	for i := uint64(0); i < count; i++ {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("decoding address tag: %w", err)
		}
		payload, err := wire.ReadVarBytes(
			r, 0, maxAddrPayload, "address payload",
		)
		if err != nil {
			return nil, fmt.Errorf("decoding address payload: %w",
				err)
		}

		var addr btcutil.Address
		params := &chaincfg.MainNetParams
		switch tag {
		case tagPubKey:
			addr, err = btcutil.NewAddressPubKey(payload, params)
		case tagPubKeyHash:
			addr, err = btcutil.NewAddressPubKeyHash(
				payload, params,
			)
		case tagScriptHash:
			addr, err = btcutil.NewAddressScriptHashFromHash(
				payload, params,
			)
		case tagWitnessKey:
			addr, err = btcutil.NewAddressWitnessPubKeyHash(
				payload, params,
			)
		case tagWitnessScript:
			addr, err = btcutil.NewAddressWitnessScriptHash(
				payload, params,
			)
		case tagTaproot:
			addr, err = btcutil.NewAddressTaproot(payload, params)
		default:
			return nil, fmt.Errorf("unknown address tag %d", tag)
		}
		if err != nil {
			return nil, fmt.Errorf("rebuilding address: %w", err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}
