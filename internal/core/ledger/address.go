package ledger

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// =============================================================================
// Networks
// =============================================================================

// Network selects the address prefix.
type Network string

const (
	NetworkMainnet Network = "ckb"
	NetworkTestnet Network = "ckt"
)

// ErrInvalidAddress is returned for addresses that cannot be decoded.
var ErrInvalidAddress = errors.New("invalid address")

// Well-known lock code hashes. Short addresses index into this table.
var (
	Secp256k1Blake160CodeHash = MustParseHash("0x9bd7e06f3ecf4be0f2fcd2188b23f1b9fcc88e5d4b65a8637b17723bbda3cce8")
	MultisigCodeHash          = MustParseHash("0x5c5069eb0857efc65e1bca0c07df34c31663b3622fd3876c876320fc9634e2a8")
)

const (
	formatFull     byte = 0x00
	formatShort    byte = 0x01
	formatFullData byte = 0x02
	formatFullType byte = 0x04
)

var shortCodeHashes = map[byte]Hash{
	0x00: Secp256k1Blake160CodeHash,
	0x01: MultisigCodeHash,
}

// =============================================================================
// Address
// =============================================================================

// Address is a decoded ledger address: the network it belongs to and the lock
// script it stands for.
type Address struct {
	Network Network
	Script  Script
	raw     string
}

// String returns the address as it was parsed, or its full-format encoding.
func (a Address) String() string {
	if a.raw != "" {
		return a.raw
	}
	s, err := EncodeAddress(a.Network, a.Script)
	if err != nil {
		return ""
	}
	return s
}

// ParseAddress decodes a short, full, full-data or full-type address.
func ParseAddress(s string) (Address, error) {
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	network := Network(hrp)
	if network != NetworkMainnet && network != NetworkTestnet {
		return Address{}, fmt.Errorf("%w: unknown prefix %q", ErrInvalidAddress, hrp)
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(payload) == 0 {
		return Address{}, fmt.Errorf("%w: empty payload", ErrInvalidAddress)
	}

	script, err := decodeAddressPayload(payload)
	if err != nil {
		return Address{}, err
	}
	return Address{Network: network, Script: script, raw: s}, nil
}

func decodeAddressPayload(payload []byte) (Script, error) {
	body := payload[1:]
	switch payload[0] {
	case formatShort:
		if len(body) != 21 {
			return Script{}, fmt.Errorf("%w: short payload is %d bytes", ErrInvalidAddress, len(body))
		}
		codeHash, ok := shortCodeHashes[body[0]]
		if !ok {
			return Script{}, fmt.Errorf("%w: unknown short code index %d", ErrInvalidAddress, body[0])
		}
		return Script{CodeHash: codeHash, HashType: HashTypeType, Args: append([]byte{}, body[1:]...)}, nil

	case formatFull:
		if len(body) < HashSize+1 {
			return Script{}, fmt.Errorf("%w: full payload too short", ErrInvalidAddress)
		}
		var codeHash Hash
		copy(codeHash[:], body[:HashSize])
		hashType := HashType(body[HashSize])
		if !hashType.Valid() {
			return Script{}, fmt.Errorf("%w: unknown hash type %d", ErrInvalidAddress, body[HashSize])
		}
		return Script{CodeHash: codeHash, HashType: hashType, Args: append([]byte{}, body[HashSize+1:]...)}, nil

	case formatFullData, formatFullType:
		if len(body) < HashSize {
			return Script{}, fmt.Errorf("%w: full payload too short", ErrInvalidAddress)
		}
		var codeHash Hash
		copy(codeHash[:], body[:HashSize])
		hashType := HashTypeData
		if payload[0] == formatFullType {
			hashType = HashTypeType
		}
		return Script{CodeHash: codeHash, HashType: hashType, Args: append([]byte{}, body[HashSize:]...)}, nil

	default:
		return Script{}, fmt.Errorf("%w: unknown payload format 0x%02x", ErrInvalidAddress, payload[0])
	}
}

// EncodeAddress encodes script as a full-format (bech32m) address.
func EncodeAddress(network Network, script Script) (string, error) {
	payload := make([]byte, 0, 1+HashSize+1+len(script.Args))
	payload = append(payload, formatFull)
	payload = append(payload, script.CodeHash[:]...)
	payload = append(payload, byte(script.HashType))
	payload = append(payload, script.Args...)

	data, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return bech32.EncodeM(string(network), data)
}
